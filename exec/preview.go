package exec

import (
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/c-sungho/clojask/catalog"
	"github.com/c-sungho/clojask/planner"
	"github.com/c-sungho/clojask/source"
	"github.com/c-sungho/clojask/trace"
)

// DefaultSampleRows bounds a dry run when the caller gives no limit
const DefaultSampleRows = 10

// Preview runs the full plan synchronously over a bounded sample and
// returns the output rows. The source is rewound to where it stood, so
// a dry run never consumes rows the real evaluation will need. Errors
// are wrapped with the caller's context string, the mutation the user
// just declared.
func Preview(plan *planner.Plan, src source.RowSource, sampleIn, sampleOut int, what string) ([][]string, error) {
	if sampleIn <= 0 {
		sampleIn = DefaultSampleRows
	}
	if sampleOut <= 0 {
		sampleOut = DefaultSampleRows
	}
	mark := src.Checkpoint()
	rows, err := previewRows(plan, src, sampleIn, sampleOut)
	if rerr := src.Recover(mark); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		return nil, catalog.Operationf(err, "%s", what)
	}
	trace.Get().Debug(trace.ComponentPreview, "Dry run passed", trace.Context(
		"what", what, "sampled", len(rows),
	))
	return rows, nil
}

func previewRows(plan *planner.Plan, src source.RowSource, sampleIn, sampleOut int) ([][]string, error) {
	sample, err := readBatch(src, sampleIn)
	if err != nil {
		return nil, err
	}
	if plan.Group != nil {
		return previewGrouped(plan, sample, sampleOut)
	}
	var out [][]string
	for _, row := range sample {
		fields, keep, err := evalPlain(plan, row.Fields)
		if err != nil {
			return nil, err
		}
		if !keep {
			continue
		}
		out = append(out, fields)
		if len(out) >= sampleOut {
			break
		}
	}
	return out, nil
}

func previewGrouped(plan *planner.Plan, sample []source.Row, sampleOut int) ([][]string, error) {
	gp := plan.Group
	buckets := make(map[string]*groupBucket)
	order := make([]string, 0)
	for _, srcRow := range sample {
		row, keep, err := computeRow(plan.Width, plan.Parsers, plan.Ops, plan.Filters, srcRow.Fields)
		if err != nil {
			return nil, err
		}
		if !keep {
			continue
		}
		vals, err := groupKeyValues(row, gp)
		if err != nil {
			return nil, err
		}
		key := compositeKey(vals)
		bkt := buckets[key]
		if bkt == nil {
			bkt = &groupBucket{keys: vals, carried: make([][]interface{}, len(gp.Index))}
			buckets[key] = bkt
			order = append(order, key)
		}
		for j, slot := range gp.Index {
			bkt.carried[j] = append(bkt.carried[j], row[slot])
		}
	}
	var out [][]string
	for _, key := range order {
		out = append(out, emitGroup(gp, buckets[key]))
		if len(out) >= sampleOut {
			break
		}
	}
	return out, nil
}

// PreviewJoin dry-runs a join over bounded samples of both sides and
// rewinds both sources afterwards.
func PreviewJoin(plan *planner.Plan, left, right JoinInput, sampleIn, sampleOut int, what string) ([][]string, error) {
	if plan.Join == nil {
		return nil, catalog.Schemaf("plan carries no join")
	}
	if sampleIn <= 0 {
		sampleIn = DefaultSampleRows
	}
	if sampleOut <= 0 {
		sampleOut = DefaultSampleRows
	}
	leftMark := left.Src.Checkpoint()
	rightMark := right.Src.Checkpoint()
	rows, err := previewJoinRows(plan, left, right, sampleIn, sampleOut)
	if rerr := left.Src.Recover(leftMark); rerr != nil && err == nil {
		err = rerr
	}
	if rerr := right.Src.Recover(rightMark); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		return nil, catalog.Operationf(err, "%s", what)
	}
	return rows, nil
}

func previewJoinRows(plan *planner.Plan, left, right JoinInput, sampleIn, sampleOut int) ([][]string, error) {
	jp := plan.Join

	probe := &right
	probeKeys := jp.RightKeys
	probeIsLeft := false
	pad := jp.Kind == planner.LeftJoin || jp.Kind == planner.RightJoin

	var lookup func(row []interface{}) ([][]interface{}, error)
	if jp.Kind.IsAsof() {
		tree, _, _, err := buildAsofTree(&right, jp, true, int64(sampleIn))
		if err != nil {
			return nil, err
		}
		probe = &left
		probeKeys = jp.LeftKeys
		probeIsLeft = true
		pad = true
		lookup = func(row []interface{}) ([][]interface{}, error) {
			match, err := asofLookup(tree, jp, joinKeyString(row, jp.LeftKeys), row[jp.LeftRoll])
			if err != nil || match == nil {
				return nil, err
			}
			return [][]interface{}{match}, nil
		}
	} else {
		build := &left
		buildKeys := jp.LeftKeys
		if jp.BuildRight {
			build, buildKeys = &right, jp.RightKeys
			probe, probeKeys = &left, jp.LeftKeys
			probeIsLeft = true
		}
		table, _, _, err := buildHashTable(build, buildKeys, true, int64(sampleIn))
		if err != nil {
			return nil, err
		}
		lookup = func(row []interface{}) ([][]interface{}, error) {
			return table[joinKeyString(row, probeKeys)], nil
		}
	}

	sample, err := readBatch(probe.Src, sampleIn)
	if err != nil {
		return nil, err
	}
	var out [][]string
	for _, srcRow := range sample {
		if len(out) >= sampleOut {
			break
		}
		row, keep, err := computeRow(probe.Width, probe.Parsers, probe.Ops, probe.Filters, srcRow.Fields)
		if err != nil {
			return nil, err
		}
		if !keep {
			continue
		}
		matches, err := lookup(row)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			if pad {
				lrow, rrow := orient(probeIsLeft, row, nil)
				out = append(out, emitPair(jp, left.Formatters, right.Formatters, lrow, rrow))
			}
			continue
		}
		for _, match := range matches {
			if len(out) >= sampleOut {
				break
			}
			lrow, rrow := orient(probeIsLeft, row, match)
			out = append(out, emitPair(jp, left.Formatters, right.Formatters, lrow, rrow))
		}
	}
	return out, nil
}

// Render prints sampled rows as an aligned table
func Render(out io.Writer, names []string, rows [][]string) {
	table := tablewriter.NewWriter(out)
	table.SetHeader(names)
	table.AppendBulk(rows)
	table.Render()
}
