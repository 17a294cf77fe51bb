package dataframe

import (
	"fmt"
	"os"
	"strings"

	"github.com/c-sungho/clojask/catalog"
	"github.com/c-sungho/clojask/exec"
	"github.com/c-sungho/clojask/pipeline"
	"github.com/c-sungho/clojask/planner"
	"github.com/c-sungho/clojask/source"
	"github.com/c-sungho/clojask/trace"
)

// Options configures how a frame reads its backing file
type Options struct {
	// Separator is the field separator; empty means comma
	Separator string `yaml:"separator"`
	// HasHeader treats the first record as column names; without it
	// columns are synthesized as col_N
	HasHeader bool `yaml:"has_header"`
	// XZ forces xz decompression regardless of the file extension
	XZ bool `yaml:"xz"`
	// Parquet forces the parquet reader regardless of the extension
	Parquet bool `yaml:"parquet"`
	// SampleRows bounds every dry-run preview; zero means the default
	SampleRows int `yaml:"sample_rows"`
	// SkipPreview disables the dry run after each mutation
	SkipPreview bool `yaml:"skip_preview"`
}

func (o Options) separator() rune {
	if o.Separator == "" {
		return ','
	}
	return []rune(o.Separator)[0]
}

// DataFrame is the lazy builder over one table. Mutating calls only
// record intent against the catalog and pipeline; nothing touches the
// full file until Compute. Each mutation is dry-run over a bounded
// sample immediately, so schema and operation errors surface at the
// call that caused them. A call that returns an error leaves the frame
// in an undefined state; discard it and build a fresh one.
type DataFrame struct {
	path string
	opts Options

	cat  *catalog.Catalog
	pipe *pipeline.Pipeline
	desc *pipeline.Descriptor

	src  source.RowSource
	size int64

	tracer *trace.Tracer
}

// NewDataFrame opens the backing file, reads its schema, and returns an
// empty builder over it.
func NewDataFrame(path string, opts Options) (*DataFrame, error) {
	var src source.RowSource
	var err error
	if opts.Parquet || strings.HasSuffix(path, ".parquet") {
		src, err = source.OpenParquet(path)
	} else {
		src, err = source.OpenDelimited(path, source.Options{
			Separator: opts.separator(),
			HasHeader: opts.HasHeader,
			XZ:        opts.XZ,
		})
	}
	if err != nil {
		return nil, err
	}

	cat, err := catalog.New(src.Header())
	if err != nil {
		src.Close()
		return nil, err
	}

	d := &DataFrame{
		path:   path,
		opts:   opts,
		cat:    cat,
		pipe:   pipeline.NewPipeline(cat),
		desc:   pipeline.NewDescriptor(cat),
		src:    src,
		tracer: trace.Get(),
	}
	if stat, err := os.Stat(path); err == nil {
		d.size = stat.Size()
	}
	d.tracer.Info(trace.ComponentDataFrame, "Frame opened", trace.Context(
		"path", path, "columns", len(src.Header()), "bytes", d.size,
	))
	return d, nil
}

// Names returns the live column names in dense order
func (d *DataFrame) Names() []string { return d.cat.LiveNames() }

// Close releases the backing file
func (d *DataFrame) Close() error { return d.src.Close() }

// grouped reports whether the frame carries group-by or aggregate state
func (d *DataFrame) grouped() bool {
	return len(d.desc.GroupKeys) > 0 || len(d.desc.Aggregates) > 0
}

// snapshotPlan freezes the current builder state into a plan for a dry
// run, without finalizing the pipeline.
func (d *DataFrame) snapshotPlan() (*planner.Plan, error) {
	ops, formats := d.pipe.Snapshot()
	plan := &planner.Plan{
		Ops:       ops,
		Filters:   d.desc.Filters,
		Width:     d.cat.Width(),
		Parsers:   d.cat.Parsers(),
		Workers:   1,
		BatchSize: exec.DefaultSampleRows,
	}
	if d.grouped() {
		gp, err := planner.IndexGroupAggregates(d.cat, d.desc, nil)
		if err != nil {
			return nil, err
		}
		plan.Group = gp
		return plan, nil
	}
	plan.FormatOps = formats
	plan.OutputSlots = d.cat.ColIndex()
	plan.OutputNames = d.cat.LiveNames()
	return plan, nil
}

// preview dry-runs the builder state over a sample of the source
func (d *DataFrame) preview(what string) error {
	if d.opts.SkipPreview {
		return nil
	}
	plan, err := d.snapshotPlan()
	if err != nil {
		return err
	}
	_, err = exec.Preview(plan, d.src, d.opts.SampleRows, d.opts.SampleRows, what)
	return err
}

// Sample dry-runs the current builder state and returns up to n output
// rows with their column names, for inspection.
func (d *DataFrame) Sample(n int) ([][]string, []string, error) {
	plan, err := d.snapshotPlan()
	if err != nil {
		return nil, nil, err
	}
	rows, err := exec.Preview(plan, d.src, n, n, "sample")
	if err != nil {
		return nil, nil, err
	}
	names := plan.OutputNames
	if plan.Group != nil {
		names = plan.Group.OutputNames
	}
	return rows, names, nil
}

// SetType declares a column's type: parsing before operations, default
// formatting after them.
func (d *DataFrame) SetType(col, tag string) error {
	if err := d.cat.SetType(col, catalog.TypeTag(tag)); err != nil {
		return err
	}
	return d.preview(fmt.Sprintf("set type %s %s", col, tag))
}

// SetParser installs a custom parser for a column
func (d *DataFrame) SetParser(col string, parse catalog.ParseFunc) error {
	if err := d.cat.SetParser(col, parse); err != nil {
		return err
	}
	return d.preview(fmt.Sprintf("set parser %s", col))
}

// Operate appends a column transform. With newCol empty the result
// replaces the first input column in place.
func (d *DataFrame) Operate(name string, fn pipeline.OpFunc, cols []string, newCol string) error {
	if err := d.pipe.Operate(name, fn, cols, newCol); err != nil {
		return err
	}
	return d.preview(fmt.Sprintf("operate %s", name))
}

// Filter records a row predicate over the given columns
func (d *DataFrame) Filter(cols []string, pred pipeline.Predicate) error {
	if err := d.desc.AddFilter(cols, pred); err != nil {
		return err
	}
	return d.preview(fmt.Sprintf("filter %s", strings.Join(cols, ",")))
}

// Delete tombstones columns; their slots are never reused
func (d *DataFrame) Delete(cols ...string) error {
	if err := d.cat.Delete(cols...); err != nil {
		return err
	}
	return d.preview(fmt.Sprintf("delete %s", strings.Join(cols, ",")))
}

// Rename renames all live columns positionally
func (d *DataFrame) Rename(names []string) error {
	if err := d.cat.Rename(names); err != nil {
		return err
	}
	return d.preview("rename columns")
}

// Reorder rearranges the live columns; names must be a bijection onto
// the current live set.
func (d *DataFrame) Reorder(names []string) error {
	if err := d.cat.Reorder(names); err != nil {
		return err
	}
	return d.preview("reorder columns")
}

// GroupBy appends group-by keys in declaration order
func (d *DataFrame) GroupBy(cols ...string) error {
	for _, col := range cols {
		if err := d.desc.AddGroupKey("", col); err != nil {
			return err
		}
	}
	return d.preview(fmt.Sprintf("group by %s", strings.Join(cols, ",")))
}

// GroupByKey appends one group-by key transformed by a registered key
// function, e.g. grouping a date column by year. The output key column
// is named fn(col) and shows the transformed value.
func (d *DataFrame) GroupByKey(fn, col string) error {
	if err := d.desc.AddGroupKey(fn, col); err != nil {
		return err
	}
	return d.preview(fmt.Sprintf("group by %s(%s)", fn, col))
}

// Aggregate applies a registered aggregate function to each source
// column, producing one named output column per source.
func (d *DataFrame) Aggregate(fnName string, cols []string, outputs []string) error {
	if err := d.desc.AddAggregate(fnName, cols, outputs); err != nil {
		return err
	}
	return d.preview(fmt.Sprintf("aggregate %s", fnName))
}
