package exec

import (
	"context"
	"fmt"

	"github.com/c-sungho/clojask/catalog"
	"github.com/c-sungho/clojask/pipeline"
	"github.com/c-sungho/clojask/planner"
	"github.com/c-sungho/clojask/source"
)

// RowWriter receives finished output rows
type RowWriter interface {
	Write(row []string) error
}

// RowFailure names one input row the evaluation could not process
type RowFailure struct {
	Seq int64
	Err string
}

// Report summarizes one evaluation: rows read, rows written, and the
// rows that failed when the plan runs without raise-on-error.
type Report struct {
	Read     int64
	Written  int64
	Failures []RowFailure
}

// Failed reports whether any row was dropped for an error
func (r *Report) Failed() bool { return len(r.Failures) > 0 }

// JoinInput bundles one side of a join evaluation: its row source and
// the per-side processing frozen from that side's catalog and pipeline.
// Formatters stay separate from the operator list because key and roll
// matching needs typed values; they apply at emission only.
type JoinInput struct {
	Src        source.RowSource
	Width      int
	Parsers    map[int]catalog.ParseFunc
	Ops        []pipeline.Operation
	Filters    []pipeline.Filter
	Formatters map[int]catalog.FormatFunc
}

// Backend is the execution contract. A backend receives a frozen plan
// and streams output rows to the writer; it decides scheduling and
// partitioning but never schema. Implementations must honor the plan's
// worker and batch settings, preserve input order when the plan asks
// for it, and stop at the first row failure when RaiseOnError is set.
type Backend interface {
	Run(ctx context.Context, plan *planner.Plan, src source.RowSource, w RowWriter) (*Report, error)
	RunJoin(ctx context.Context, plan *planner.Plan, left, right JoinInput, w RowWriter) (*Report, error)
}

// computeRow turns one raw input record into a typed slot-indexed row:
// raw fields placed by slot, declared parsers applied, user operations
// run, then filters. A false keep means the row was filtered out.
func computeRow(width int, parsers map[int]catalog.ParseFunc, ops []pipeline.Operation,
	filters []pipeline.Filter, fields []string) (row []interface{}, keep bool, err error) {

	row = make([]interface{}, width)
	for slot := 0; slot < len(fields) && slot < width; slot++ {
		row[slot] = fields[slot]
	}
	for slot, parse := range parsers {
		s, ok := row[slot].(string)
		if !ok {
			continue
		}
		v, err := parse(s)
		if err != nil {
			return nil, false, catalog.Operationf(err, "parsing column %d", slot)
		}
		row[slot] = v
	}
	if err := pipeline.Apply(ops, row); err != nil {
		return nil, false, err
	}
	if !pipeline.MatchFilters(filters, row) {
		return nil, false, nil
	}
	return row, true, nil
}

// render turns one typed value into output text. A nil value renders
// as the empty field, matching the null padding of outer joins.
func render(v interface{}, f catalog.FormatFunc) string {
	if v == nil {
		return ""
	}
	if f != nil {
		return f(v)
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// evalPlain runs one raw record through a plain (non-grouped) plan and
// projects the output columns.
func evalPlain(plan *planner.Plan, fields []string) ([]string, bool, error) {
	row, keep, err := computeRow(plan.Width, plan.Parsers, plan.Ops, plan.Filters, fields)
	if err != nil || !keep {
		return nil, keep, err
	}
	if err := pipeline.Apply(plan.FormatOps, row); err != nil {
		return nil, false, err
	}
	out := make([]string, len(plan.OutputSlots))
	for i, slot := range plan.OutputSlots {
		out[i] = render(row[slot], nil)
	}
	return out, true, nil
}
