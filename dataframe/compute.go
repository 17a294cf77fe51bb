package dataframe

import (
	"context"

	"github.com/c-sungho/clojask/catalog"
	"github.com/c-sungho/clojask/exec"
	"github.com/c-sungho/clojask/extsort"
	"github.com/c-sungho/clojask/planner"
	"github.com/c-sungho/clojask/source"
	"github.com/c-sungho/clojask/trace"
)

// Default evaluation settings used when ComputeOptions leaves them zero
const (
	DefaultWorkers   = 4
	DefaultBatchSize = 256
)

// ComputeOptions configures one evaluation. Select and Exclude are
// mutually exclusive; leaving both empty keeps every output column.
type ComputeOptions struct {
	Workers       int      `yaml:"workers"`
	BatchSize     int      `yaml:"batch_size"`
	Select        []string `yaml:"select"`
	Exclude       []string `yaml:"exclude"`
	PreserveOrder bool     `yaml:"preserve_order"`
	RaiseOnError  bool     `yaml:"raise_on_error"`
	// Separator for the output file; empty means comma
	Separator string `yaml:"separator"`
}

func (o ComputeOptions) workers() int {
	if o.Workers == 0 {
		return DefaultWorkers
	}
	return o.Workers
}

func (o ComputeOptions) batchSize() int {
	if o.BatchSize == 0 {
		return DefaultBatchSize
	}
	return o.BatchSize
}

func (o ComputeOptions) separator() rune {
	if o.Separator == "" {
		return ','
	}
	return []rune(o.Separator)[0]
}

// plan freezes the frame into its final evaluation plan
func (d *DataFrame) plan(copts ComputeOptions) (*planner.Plan, error) {
	plan := &planner.Plan{
		Filters:      d.desc.Filters,
		Width:        d.cat.Width(),
		Parsers:      d.cat.Parsers(),
		Workers:      copts.workers(),
		BatchSize:    copts.batchSize(),
		Order:        copts.PreserveOrder,
		RaiseOnError: copts.RaiseOnError,
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	if d.grouped() {
		// Resolve select-or-exclude against the virtual post-aggregate
		// schema, then index only what the selection needs
		all, err := planner.IndexGroupAggregates(d.cat, d.desc, nil)
		if err != nil {
			return nil, err
		}
		selects, err := planner.ProjectNames(all.OutputNames, copts.Select, copts.Exclude)
		if err != nil {
			return nil, err
		}
		gp, err := planner.IndexGroupAggregates(d.cat, d.desc, selects)
		if err != nil {
			return nil, err
		}
		plan.Ops, _ = d.pipe.Finalize() // group stage owns the formatting
		plan.Group = gp
		plan.OutputNames = gp.OutputNames
		return plan, nil
	}

	selects, err := planner.ProjectNames(d.cat.LiveNames(), copts.Select, copts.Exclude)
	if err != nil {
		return nil, err
	}
	slots, err := d.cat.ResolveAll(selects)
	if err != nil {
		return nil, err
	}
	plan.Ops, plan.FormatOps = d.pipe.Finalize()
	plan.OutputSlots = slots
	plan.OutputNames = selects
	return plan, nil
}

// Compute evaluates the frame and writes the result to output. The
// pipeline finalizes here; a frame computes once. The report lists any
// rows that failed when RaiseOnError is off.
func (d *DataFrame) Compute(ctx context.Context, output string, copts ComputeOptions) (*exec.Report, error) {
	plan, err := d.plan(copts)
	if err != nil {
		return nil, err
	}
	w, err := source.CreateDelimited(output, plan.OutputNames, copts.separator())
	if err != nil {
		return nil, err
	}

	report, err := exec.NewLocal().Run(ctx, plan, d.src, w)
	if cerr := w.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return report, err
	}
	if report.Failed() {
		d.tracer.Warn(trace.ComponentDataFrame, "Evaluation dropped rows", trace.Context(
			"output", output, "failed", len(report.Failures),
		))
	}
	d.tracer.Info(trace.ComponentDataFrame, "Compute finished", trace.Context(
		"output", output, "read", report.Read, "written", report.Written,
	))
	return report, nil
}

// sourceReader adapts the frame's row source to the sort reader
type sourceReader struct {
	src source.RowSource
}

func (r sourceReader) Read() ([]string, error) {
	row, err := r.src.Next()
	if err != nil {
		return nil, err
	}
	return row.Fields, nil
}

// Sort externally sorts the raw rows of the backing file by the given
// alternating (+|-, column) spec and writes them to output. Sorting
// runs over the file as read, before any recorded operation; it is a
// standalone step, not part of the lazy pipeline.
func (d *DataFrame) Sort(spec []string, output string, copts ComputeOptions) error {
	if d.pipe.Len() > 0 || d.grouped() || len(d.desc.Filters) > 0 {
		return catalog.Schemaf("sort runs on an unmodified frame")
	}
	keys, err := extsort.ParseSpec(d.cat, spec)
	if err != nil {
		return err
	}
	w, err := source.CreateDelimited(output, d.cat.LiveNames(), copts.separator())
	if err != nil {
		return err
	}
	err = extsort.Sort(sourceReader{src: d.src}, extsort.Comparator(keys), extsort.Options{}, w)
	if cerr := w.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
