package exec

import (
	"context"
	"io"
	"sync"

	"github.com/c-sungho/clojask/catalog"
	"github.com/c-sungho/clojask/planner"
	"github.com/c-sungho/clojask/source"
	"github.com/c-sungho/clojask/trace"
)

// Local is the in-process parallel backend: a reader goroutine feeding
// batches to at most MaxWorkers workers, with an order-preserving
// collector when the plan asks for it.
type Local struct {
	tracer *trace.Tracer
}

// NewLocal creates the local backend
func NewLocal() *Local {
	return &Local{tracer: trace.Get()}
}

// Run evaluates a plain or grouped plan over one source
func (b *Local) Run(ctx context.Context, plan *planner.Plan, src source.RowSource, w RowWriter) (*Report, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if plan.Join != nil {
		return nil, catalog.Schemaf("join plans must run through RunJoin")
	}
	if plan.Group != nil {
		return b.runGrouped(ctx, plan, src, w)
	}
	eval := func(row source.Row) ([][]string, error) {
		out, keep, err := evalPlain(plan, row.Fields)
		if err != nil || !keep {
			return nil, err
		}
		return [][]string{out}, nil
	}
	return b.fanOut(ctx, plan, src, w, eval)
}

// rowEval turns one input row into zero or more output rows
type rowEval func(row source.Row) ([][]string, error)

type rowBatch struct {
	idx  int64
	rows []source.Row
}

type batchResult struct {
	idx      int64
	read     int
	out      [][]string
	failures []RowFailure
}

// readBatch pulls up to n rows from the source
func readBatch(src source.RowSource, n int) ([]source.Row, error) {
	rows := make([]source.Row, 0, n)
	for len(rows) < n {
		row, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// fanOut is the shared scheduling core: one reader, plan.Workers
// evaluation workers, one collector. Order preservation buffers
// out-of-order batches until their predecessors have been written.
func (b *Local) fanOut(ctx context.Context, plan *planner.Plan, src source.RowSource, w RowWriter, eval rowEval) (*Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	batches := make(chan rowBatch, plan.Workers)
	results := make(chan batchResult, plan.Workers)

	go func() {
		defer close(batches)
		var idx int64
		for {
			rows, err := readBatch(src, plan.BatchSize)
			if err != nil {
				fail(err)
				return
			}
			if len(rows) == 0 {
				return
			}
			select {
			case batches <- rowBatch{idx: idx, rows: rows}:
			case <-ctx.Done():
				return
			}
			idx++
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < plan.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batches {
				res := batchResult{idx: batch.idx, read: len(batch.rows)}
				for _, row := range batch.rows {
					out, err := eval(row)
					if err != nil {
						if plan.RaiseOnError {
							fail(catalog.Operationf(err, "row %d", row.Seq))
							return
						}
						res.failures = append(res.failures, RowFailure{Seq: row.Seq, Err: err.Error()})
						continue
					}
					res.out = append(res.out, out...)
				}
				select {
				case results <- res:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	report := &Report{}
	write := func(res batchResult) {
		report.Read += int64(res.read)
		report.Failures = append(report.Failures, res.failures...)
		for _, out := range res.out {
			mu.Lock()
			stopped := firstErr != nil
			mu.Unlock()
			if stopped {
				return
			}
			if err := w.Write(out); err != nil {
				fail(err)
				return
			}
			report.Written++
		}
	}

	if plan.Order {
		pending := make(map[int64]batchResult)
		var next int64
		for res := range results {
			pending[res.idx] = res
			for {
				r, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				write(r)
			}
		}
		// Flush whatever arrived after an abort so Read stays honest
		for _, r := range pending {
			report.Read += int64(r.read)
		}
	} else {
		for res := range results {
			write(res)
		}
	}

	mu.Lock()
	err := firstErr
	mu.Unlock()
	if err != nil {
		return report, err
	}
	b.tracer.Info(trace.ComponentExec, "Evaluation finished", trace.Context(
		"read", report.Read, "written", report.Written, "failed", len(report.Failures),
	))
	return report, nil
}

// keyedRow is one typed row routed to a partition, with its group key
// already collated and rendered
type keyedRow struct {
	key  string
	vals []interface{}
	row  []interface{}
}

// groupBucket accumulates one group: its key values and, per carried
// index position, every value the selected aggregates will consume.
type groupBucket struct {
	keys    []interface{}
	carried [][]interface{}
}

// emitGroup reduces one bucket to its output row
func emitGroup(gp *planner.GroupPlan, bkt *groupBucket) []string {
	keyText := make([]string, len(gp.Keys))
	for i := range gp.Keys {
		keyText[i] = render(bkt.keys[i], gp.KeyFormatters[i])
	}
	aggText := make([]string, len(gp.Aggregates))
	for i, agg := range gp.Aggregates {
		v := agg.Fn(bkt.carried[agg.SourceIdx])
		aggText[i] = render(v, gp.Formatters[agg.SourceIdx])
	}
	out := make([]string, len(gp.Outputs))
	for i, o := range gp.Outputs {
		if o.IsKey {
			out[i] = keyText[o.Pos]
		} else {
			out[i] = aggText[o.Pos]
		}
	}
	return out
}

// runGrouped evaluates a grouped plan: the fan-out stage computes typed
// rows and routes each by its key hash to a fixed partition, so every
// group lands whole in exactly one accumulator. Group output order is
// not defined; the plan's Order flag does not apply here.
func (b *Local) runGrouped(ctx context.Context, plan *planner.Plan, src source.RowSource, w RowWriter) (*Report, error) {
	gp := plan.Group
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	parts := make([]chan keyedRow, plan.Workers)
	for i := range parts {
		parts[i] = make(chan keyedRow, plan.BatchSize)
	}

	report := &Report{}
	var accWG sync.WaitGroup
	for i := range parts {
		accWG.Add(1)
		go func(in <-chan keyedRow) {
			defer accWG.Done()
			buckets := make(map[string]*groupBucket)
			order := make([]string, 0)
			for kr := range in {
				bkt := buckets[kr.key]
				if bkt == nil {
					bkt = &groupBucket{keys: kr.vals, carried: make([][]interface{}, len(gp.Index))}
					buckets[kr.key] = bkt
					order = append(order, kr.key)
				}
				for j, slot := range gp.Index {
					bkt.carried[j] = append(bkt.carried[j], kr.row[slot])
				}
			}
			// Emit in first-seen order within the partition
			for _, key := range order {
				out := emitGroup(gp, buckets[key])
				mu.Lock()
				if firstErr == nil {
					if err := w.Write(out); err != nil {
						firstErr = err
					} else {
						report.Written++
					}
				}
				mu.Unlock()
			}
		}(parts[i])
	}

	// The fan-out stage routes instead of writing: its eval sends the
	// typed row to the owning partition and emits nothing itself
	eval := func(srcRow source.Row) ([][]string, error) {
		row, keep, err := computeRow(plan.Width, plan.Parsers, plan.Ops, plan.Filters, srcRow.Fields)
		if err != nil || !keep {
			return nil, err
		}
		vals, err := groupKeyValues(row, gp)
		if err != nil {
			return nil, err
		}
		key := compositeKey(vals)
		select {
		case parts[partitionOf(key, plan.Workers)] <- keyedRow{key: key, vals: vals, row: row}:
		case <-ctx.Done():
		}
		return nil, nil
	}

	scanPlan := *plan
	scanPlan.Order = false
	scanReport, scanErr := b.fanOut(ctx, &scanPlan, src, devNull{}, eval)
	if scanErr != nil {
		// Suppress emission of partial groups
		fail(scanErr)
	}
	for i := range parts {
		close(parts[i])
	}
	accWG.Wait()

	report.Read = scanReport.Read
	report.Failures = scanReport.Failures
	if scanErr != nil {
		return report, scanErr
	}
	mu.Lock()
	err := firstErr
	mu.Unlock()
	if err != nil {
		return report, err
	}
	b.tracer.Info(trace.ComponentGroup, "Grouped evaluation finished", trace.Context(
		"read", report.Read, "groups", report.Written, "failed", len(report.Failures),
	))
	return report, nil
}

// devNull absorbs the empty output of the grouped scan stage
type devNull struct{}

func (devNull) Write([]string) error { return nil }
