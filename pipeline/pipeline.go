package pipeline

import (
	"fmt"

	"github.com/c-sungho/clojask/catalog"
	"github.com/c-sungho/clojask/trace"
)

// OpFunc is a user column transform. It receives the current values of
// its input columns and produces the value written to the output column.
type OpFunc func(args ...interface{}) (interface{}, error)

// Operation is one entry in the operation pipeline: a function, the
// slots it reads, and the slot it writes. Entries execute in append
// order.
type Operation struct {
	Name   string
	Fn     OpFunc
	Inputs []int
	Output int
}

// Pipeline accumulates column operations in phase one and concatenates
// the pending type formatters after them at finalize time, so
// formatting is always the last transform applied to a column.
type Pipeline struct {
	cat       *catalog.Catalog
	ops       []Operation
	finalized bool
}

// NewPipeline creates an empty pipeline over a catalog
func NewPipeline(cat *catalog.Catalog) *Pipeline {
	return &Pipeline{cat: cat}
}

// Len returns the number of user operations appended so far
func (p *Pipeline) Len() int { return len(p.ops) }

// Operate validates and appends a column transform. With newCol empty
// the result replaces the first input column; otherwise newCol must be
// a fresh name and a new slot is allocated for it.
func (p *Pipeline) Operate(name string, fn OpFunc, cols []string, newCol string) error {
	if p.finalized {
		return catalog.Operationf(nil, "pipeline already finalized, cannot append %q", name)
	}
	inputs, err := p.cat.ResolveAll(cols)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return catalog.Schemaf("operation %q needs at least one input column", name)
	}

	output := inputs[0]
	if newCol != "" {
		output, err = p.cat.Add(newCol)
		if err != nil {
			return err
		}
	}

	p.ops = append(p.ops, Operation{Name: name, Fn: fn, Inputs: inputs, Output: output})
	trace.Get().Debug(trace.ComponentPipeline, "Operation appended", trace.Context(
		"op", name, "inputs", cols, "newCol", newCol,
	))
	return nil
}

// Snapshot returns the operator list as it stands, in two phases: the
// user operations in append order, then one formatting operation per
// typed column in dense column order. The backend runs filters between
// the phases so predicates see typed values, and grouped evaluations
// discard the second phase because their formatting moves into the
// group stage. Snapshot leaves the pipeline open; dry runs use it
// between mutations.
func (p *Pipeline) Snapshot() (ops, formats []Operation) {
	ops = make([]Operation, len(p.ops))
	copy(ops, p.ops)

	formatters := p.cat.Formatters()
	for _, slot := range p.cat.ColIndex() {
		format, ok := formatters[slot]
		if !ok {
			continue
		}
		f := format // capture per iteration
		formats = append(formats, Operation{
			Name:   fmt.Sprintf("format:%s", p.cat.Column(slot).Name),
			Fn:     func(args ...interface{}) (interface{}, error) { return f(args[0]), nil },
			Inputs: []int{slot},
			Output: slot,
		})
	}
	return ops, formats
}

// Finalize freezes the pipeline and returns its final operator list
func (p *Pipeline) Finalize() (ops, formats []Operation) {
	p.finalized = true
	ops, formats = p.Snapshot()
	trace.Get().Debug(trace.ComponentPipeline, "Pipeline finalized", trace.Context(
		"userOps", len(ops), "formatters", len(formats),
	))
	return ops, formats
}

// Apply runs the given operator list over one row in place. The row is
// indexed by slot and must be sized to the catalog width, so slots
// allocated for new columns are addressable.
func Apply(ops []Operation, row []interface{}) error {
	for _, op := range ops {
		args := make([]interface{}, len(op.Inputs))
		for i, slot := range op.Inputs {
			args[i] = row[slot]
		}
		v, err := op.Fn(args...)
		if err != nil {
			return catalog.Operationf(err, "operation %q failed", op.Name)
		}
		row[op.Output] = v
	}
	return nil
}
