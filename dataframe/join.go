package dataframe

import (
	"context"

	"github.com/c-sungho/clojask/catalog"
	"github.com/c-sungho/clojask/exec"
	"github.com/c-sungho/clojask/planner"
	"github.com/c-sungho/clojask/source"
)

// Default column prefixes keep same-named columns of the two sides
// distinguishable in the joined output
const (
	DefaultLeftPrefix  = "1_"
	DefaultRightPrefix = "2_"
)

// JoinOptions names the key columns of a two-frame join. Select picks
// output columns over the combined prefixed schema; nil keeps all.
type JoinOptions struct {
	LeftKeys  []string `yaml:"left_keys"`
	RightKeys []string `yaml:"right_keys"`

	// Roll columns and limit apply to as-of joins only
	LeftRoll  string   `yaml:"left_roll"`
	RightRoll string   `yaml:"right_roll"`
	Limit     *float64 `yaml:"limit"`

	Select []string `yaml:"select"`

	LeftPrefix  string `yaml:"left_prefix"`
	RightPrefix string `yaml:"right_prefix"`
}

func (o JoinOptions) prefixes() (string, string) {
	lp, rp := o.LeftPrefix, o.RightPrefix
	if lp == "" {
		lp = DefaultLeftPrefix
	}
	if rp == "" {
		rp = DefaultRightPrefix
	}
	return lp, rp
}

// InnerJoin joins two frames keeping matched rows only
func (d *DataFrame) InnerJoin(ctx context.Context, other *DataFrame, opts JoinOptions, output string, copts ComputeOptions) (*exec.Report, error) {
	return d.join(ctx, other, planner.InnerJoin, opts, output, copts)
}

// LeftJoin keeps every left row, null-padding the misses
func (d *DataFrame) LeftJoin(ctx context.Context, other *DataFrame, opts JoinOptions, output string, copts ComputeOptions) (*exec.Report, error) {
	return d.join(ctx, other, planner.LeftJoin, opts, output, copts)
}

// RightJoin keeps every right row, null-padding the misses
func (d *DataFrame) RightJoin(ctx context.Context, other *DataFrame, opts JoinOptions, output string, copts ComputeOptions) (*exec.Report, error) {
	return d.join(ctx, other, planner.RightJoin, opts, output, copts)
}

// AsofForwardJoin matches each left row to the right row with the
// nearest roll value at or after its own, within the limit.
func (d *DataFrame) AsofForwardJoin(ctx context.Context, other *DataFrame, opts JoinOptions, output string, copts ComputeOptions) (*exec.Report, error) {
	return d.join(ctx, other, planner.AsofForwardJoin, opts, output, copts)
}

// AsofBackwardJoin matches each left row to the right row with the
// nearest roll value at or before its own, within the limit.
func (d *DataFrame) AsofBackwardJoin(ctx context.Context, other *DataFrame, opts JoinOptions, output string, copts ComputeOptions) (*exec.Report, error) {
	return d.join(ctx, other, planner.AsofBackwardJoin, opts, output, copts)
}

// joinInput freezes one side's builder state for the join backend
func (d *DataFrame) joinInput() exec.JoinInput {
	ops, _ := d.pipe.Finalize() // matching needs typed values
	return exec.JoinInput{
		Src:        d.src,
		Width:      d.cat.Width(),
		Parsers:    d.cat.Parsers(),
		Ops:        ops,
		Filters:    d.desc.Filters,
		Formatters: d.cat.Formatters(),
	}
}

func (d *DataFrame) join(ctx context.Context, other *DataFrame, kind planner.JoinKind, opts JoinOptions, output string, copts ComputeOptions) (*exec.Report, error) {
	if d.grouped() || other.grouped() {
		return nil, catalog.Schemaf("cannot join a grouped frame")
	}

	lp, rp := opts.prefixes()
	leftSide := planner.Side{Cat: d.cat, Path: d.path, Size: d.size, Prefix: lp}
	rightSide := planner.Side{Cat: other.cat, Path: other.path, Size: other.size, Prefix: rp}
	spec := planner.JoinSpec{
		Kind:      kind,
		LeftKeys:  opts.LeftKeys,
		RightKeys: opts.RightKeys,
		LeftRoll:  opts.LeftRoll,
		RightRoll: opts.RightRoll,
		Limit:     opts.Limit,
		Select:    opts.Select,
	}
	jp, err := planner.PlanJoin(leftSide, rightSide, spec)
	if err != nil {
		return nil, err
	}

	// The per-evaluation selection applies to joins too, on top of
	// whatever the join-level select already narrowed
	if len(copts.Select) > 0 || len(copts.Exclude) > 0 {
		names, err := planner.ProjectNames(jp.OutputNames, copts.Select, copts.Exclude)
		if err != nil {
			return nil, err
		}
		spec.Select = names
		if jp, err = planner.PlanJoin(leftSide, rightSide, spec); err != nil {
			return nil, err
		}
	}

	plan := &planner.Plan{
		Join:         jp,
		Workers:      copts.workers(),
		BatchSize:    copts.batchSize(),
		Order:        copts.PreserveOrder,
		RaiseOnError: copts.RaiseOnError,
	}
	left, right := d.joinInput(), other.joinInput()

	if !d.opts.SkipPreview {
		sample := d.opts.SampleRows
		if _, err := exec.PreviewJoin(plan, left, right, sample, sample, kind.String()+" join"); err != nil {
			return nil, err
		}
	}

	w, err := source.CreateDelimited(output, jp.OutputNames, copts.separator())
	if err != nil {
		return nil, err
	}
	report, err := exec.NewLocal().RunJoin(ctx, plan, left, right, w)
	if cerr := w.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return report, err
}
