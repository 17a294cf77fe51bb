package exec

import (
	"context"
	"io"
	"math"

	"github.com/google/btree"

	"github.com/c-sungho/clojask/catalog"
	"github.com/c-sungho/clojask/planner"
	"github.com/c-sungho/clojask/source"
	"github.com/c-sungho/clojask/trace"
)

// RunJoin evaluates a join plan. The build side is fully materialized
// before the first probe row runs, then the probe side streams through
// the same fan-out machinery as a plain evaluation.
func (b *Local) RunJoin(ctx context.Context, plan *planner.Plan, left, right JoinInput, w RowWriter) (*Report, error) {
	if plan.Join == nil {
		return nil, catalog.Schemaf("plan carries no join")
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	jp := plan.Join
	if jp.Kind.IsAsof() {
		return b.runAsof(ctx, plan, left, right, w)
	}

	build, probe := &left, &right
	buildKeys, probeKeys := jp.LeftKeys, jp.RightKeys
	if jp.BuildRight {
		build, probe = &right, &left
		buildKeys, probeKeys = jp.RightKeys, jp.LeftKeys
	}

	table, buildFailures, buildRead, err := buildHashTable(build, buildKeys, plan.RaiseOnError, -1)
	if err != nil {
		return &Report{Read: buildRead, Failures: buildFailures}, err
	}
	b.tracer.Debug(trace.ComponentJoin, "Build side materialized", trace.Context(
		"kind", jp.Kind.String(), "rows", buildRead, "groups", len(table),
	))

	// Left and right joins keep unmatched probe rows null-padded; a
	// plain inner join drops them
	pad := jp.Kind == planner.LeftJoin || jp.Kind == planner.RightJoin
	probeIsLeft := jp.BuildRight

	eval := func(srcRow source.Row) ([][]string, error) {
		row, keep, err := computeRow(probe.Width, probe.Parsers, probe.Ops, probe.Filters, srcRow.Fields)
		if err != nil || !keep {
			return nil, err
		}
		matches := table[joinKeyString(row, probeKeys)]
		if len(matches) == 0 {
			if !pad {
				return nil, nil
			}
			lrow, rrow := orient(probeIsLeft, row, nil)
			return [][]string{emitPair(jp, left.Formatters, right.Formatters, lrow, rrow)}, nil
		}
		outs := make([][]string, 0, len(matches))
		for _, match := range matches {
			lrow, rrow := orient(probeIsLeft, row, match)
			outs = append(outs, emitPair(jp, left.Formatters, right.Formatters, lrow, rrow))
		}
		return outs, nil
	}

	report, err := b.fanOut(ctx, plan, probe.Src, w, eval)
	report.Read += buildRead
	report.Failures = append(buildFailures, report.Failures...)
	return report, err
}

// orient maps (probe row, match row) back onto (left row, right row)
func orient(probeIsLeft bool, probeRow, matchRow []interface{}) (lrow, rrow []interface{}) {
	if probeIsLeft {
		return probeRow, matchRow
	}
	return matchRow, probeRow
}

// emitPair renders one joined output row: each side's dense live slots
// concatenated left-then-right, permuted onto the caller's select
// order. A nil side renders as empty fields.
func emitPair(jp *planner.JoinPlan, lf, rf map[int]catalog.FormatFunc, lrow, rrow []interface{}) []string {
	concat := make([]string, len(jp.LeftOut)+len(jp.RightOut))
	if lrow != nil {
		for i, slot := range jp.LeftOut {
			concat[i] = render(lrow[slot], lf[slot])
		}
	}
	if rrow != nil {
		base := len(jp.LeftOut)
		for i, slot := range jp.RightOut {
			concat[base+i] = render(rrow[slot], rf[slot])
		}
	}
	out := make([]string, len(jp.WriteIndex))
	for i, pos := range jp.WriteIndex {
		out[i] = concat[pos]
	}
	return out
}

// buildHashTable drains one side into a key-grouped row table. maxRows
// bounds the build for dry runs; negative means unlimited.
func buildHashTable(in *JoinInput, keys []int, raise bool, maxRows int64) (map[string][][]interface{}, []RowFailure, int64, error) {
	table := make(map[string][][]interface{})
	var failures []RowFailure
	var read int64
	for maxRows < 0 || read < maxRows {
		srcRow, err := in.Src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, failures, read, err
		}
		read++
		row, keep, err := computeRow(in.Width, in.Parsers, in.Ops, in.Filters, srcRow.Fields)
		if err != nil {
			if raise {
				return nil, failures, read, catalog.Operationf(err, "row %d", srcRow.Seq)
			}
			failures = append(failures, RowFailure{Seq: srcRow.Seq, Err: err.Error()})
			continue
		}
		if !keep {
			continue
		}
		key := joinKeyString(row, keys)
		table[key] = append(table[key], row)
	}
	return table, failures, read, nil
}

// asofEntry is one indexed build-side row: its equality key, its typed
// roll value, and an insertion sequence so equal roll values coexist.
type asofEntry struct {
	key  string
	roll interface{}
	seq  int64
	row  []interface{}
}

// buildAsofTree drains the right side into a btree ordered by
// (key, roll, seq), the index the roll lookups walk.
func buildAsofTree(in *JoinInput, jp *planner.JoinPlan, raise bool, maxRows int64) (*btree.BTreeG[asofEntry], []RowFailure, int64, error) {
	cmp, err := catalog.ComparatorFor(jp.RollType)
	if err != nil {
		return nil, nil, 0, err
	}
	tree := btree.NewG(32, func(a, b asofEntry) bool {
		if a.key != b.key {
			return a.key < b.key
		}
		if c := cmp(a.roll, b.roll); c != 0 {
			return c < 0
		}
		return a.seq < b.seq
	})

	var failures []RowFailure
	var read int64
	var seq int64
	for maxRows < 0 || read < maxRows {
		srcRow, err := in.Src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, failures, read, err
		}
		read++
		row, keep, err := computeRow(in.Width, in.Parsers, in.Ops, in.Filters, srcRow.Fields)
		if err != nil {
			if raise {
				return nil, failures, read, catalog.Operationf(err, "row %d", srcRow.Seq)
			}
			failures = append(failures, RowFailure{Seq: srcRow.Seq, Err: err.Error()})
			continue
		}
		if !keep {
			continue
		}
		tree.ReplaceOrInsert(asofEntry{
			key:  joinKeyString(row, jp.RightKeys),
			roll: row[jp.RightRoll],
			seq:  seq,
			row:  row,
		})
		seq++
	}
	return tree, failures, read, nil
}

// asofLookup finds the right-side row matching one left row under roll
// semantics: forward takes the nearest roll value at or after the
// left's, backward the nearest at or before, both within the limit.
func asofLookup(tree *btree.BTreeG[asofEntry], jp *planner.JoinPlan, key string, roll interface{}) ([]interface{}, error) {
	var found *asofEntry
	if jp.Kind == planner.AsofForwardJoin {
		pivot := asofEntry{key: key, roll: roll, seq: -1}
		tree.AscendGreaterOrEqual(pivot, func(e asofEntry) bool {
			if e.key == key {
				found = &e
			}
			return false
		})
	} else {
		pivot := asofEntry{key: key, roll: roll, seq: math.MaxInt64}
		tree.DescendLessOrEqual(pivot, func(e asofEntry) bool {
			if e.key == key {
				found = &e
			}
			return false
		})
	}
	if found == nil {
		return nil, nil
	}
	if jp.HasLimit {
		var gap float64
		var err error
		if jp.Kind == planner.AsofForwardJoin {
			gap, err = planner.RollGap(jp.RollType, roll, found.roll)
		} else {
			gap, err = planner.RollGap(jp.RollType, found.roll, roll)
		}
		if err != nil {
			return nil, err
		}
		if gap > jp.Limit {
			return nil, nil
		}
	}
	return found.row, nil
}

// runAsof evaluates an as-of join: index the right side's roll values,
// stream the left side, keep every left row and null-pad the misses.
func (b *Local) runAsof(ctx context.Context, plan *planner.Plan, left, right JoinInput, w RowWriter) (*Report, error) {
	jp := plan.Join
	tree, buildFailures, buildRead, err := buildAsofTree(&right, jp, plan.RaiseOnError, -1)
	if err != nil {
		return &Report{Read: buildRead, Failures: buildFailures}, err
	}
	b.tracer.Debug(trace.ComponentJoin, "Roll index built", trace.Context(
		"kind", jp.Kind.String(), "rows", buildRead, "indexed", tree.Len(),
	))

	eval := func(srcRow source.Row) ([][]string, error) {
		row, keep, err := computeRow(left.Width, left.Parsers, left.Ops, left.Filters, srcRow.Fields)
		if err != nil || !keep {
			return nil, err
		}
		match, err := asofLookup(tree, jp, joinKeyString(row, jp.LeftKeys), row[jp.LeftRoll])
		if err != nil {
			return nil, err
		}
		return [][]string{emitPair(jp, left.Formatters, right.Formatters, row, match)}, nil
	}

	report, err := b.fanOut(ctx, plan, left.Src, w, eval)
	report.Read += buildRead
	report.Failures = append(buildFailures, report.Failures...)
	return report, err
}
