package exec

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/c-sungho/clojask/catalog"
	"github.com/c-sungho/clojask/pipeline"
	"github.com/c-sungho/clojask/planner"
	"github.com/c-sungho/clojask/source"
)

// memSource serves in-memory rows through the RowSource contract
type memSource struct {
	header []string
	rows   [][]string
	pos    int64
}

func (m *memSource) Header() []string { return m.header }

func (m *memSource) Next() (source.Row, error) {
	if m.pos >= int64(len(m.rows)) {
		return source.Row{}, io.EOF
	}
	row := source.Row{Seq: m.pos, Fields: m.rows[m.pos]}
	m.pos++
	return row, nil
}

func (m *memSource) Checkpoint() int64 { return m.pos }

func (m *memSource) Recover(offset int64) error {
	if offset > int64(len(m.rows)) {
		offset = int64(len(m.rows))
	}
	m.pos = offset
	return nil
}

func (m *memSource) Completed() bool { return m.pos >= int64(len(m.rows)) }
func (m *memSource) Close() error    { return nil }

type memWriter struct {
	rows [][]string
}

func (w *memWriter) Write(row []string) error {
	cp := make([]string, len(row))
	copy(cp, row)
	w.rows = append(w.rows, cp)
	return nil
}

func newCatalog(t *testing.T, names ...string) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(names)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return cat
}

// plainPlan freezes a catalog and pipeline into a plan projecting every
// live column.
func plainPlan(cat *catalog.Catalog, p *pipeline.Pipeline, d *pipeline.Descriptor) *planner.Plan {
	ops, formats := p.Finalize()
	return &planner.Plan{
		Ops:         ops,
		FormatOps:   formats,
		Filters:     d.Filters,
		Width:       cat.Width(),
		Parsers:     cat.Parsers(),
		OutputSlots: cat.ColIndex(),
		OutputNames: cat.LiveNames(),
		Workers:     4,
		BatchSize:   2,
	}
}

func TestRunFiltersOperatesAndFormats(t *testing.T) {
	cat := newCatalog(t, "name", "salary")
	if err := cat.SetType("salary", catalog.TypeDouble); err != nil {
		t.Fatalf("SetType: %v", err)
	}
	p := pipeline.NewPipeline(cat)
	raise := func(args ...interface{}) (interface{}, error) {
		return args[0].(float64) * 2, nil
	}
	if err := p.Operate("double-salary", raise, []string{"salary"}, ""); err != nil {
		t.Fatalf("Operate: %v", err)
	}
	d := pipeline.NewDescriptor(cat)
	// The filter sees the operated, still-typed value
	if err := d.AddFilter([]string{"salary"}, func(v []interface{}) bool {
		return v[0].(float64) <= 800
	}); err != nil {
		t.Fatalf("AddFilter: %v", err)
	}

	plan := plainPlan(cat, p, d)
	plan.Order = true
	src := &memSource{rows: [][]string{
		{"A", "100"},
		{"B", "900"}, // 1800 after the op, filtered
		{"C", "50"},
	}}
	var w memWriter
	report, err := NewLocal().Run(context.Background(), plan, src, &w)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := [][]string{{"A", "200"}, {"C", "100"}}
	if !reflect.DeepEqual(w.rows, want) {
		t.Errorf("output = %v, want %v", w.rows, want)
	}
	if report.Read != 3 || report.Written != 2 || report.Failed() {
		t.Errorf("report = %+v", report)
	}
}

func TestRunPreservesOrderAcrossWorkers(t *testing.T) {
	cat := newCatalog(t, "n")
	p := pipeline.NewPipeline(cat)
	d := pipeline.NewDescriptor(cat)

	var rows [][]string
	for i := 0; i < 100; i++ {
		rows = append(rows, []string{fmt.Sprintf("%03d", i)})
	}
	plan := plainPlan(cat, p, d)
	plan.Workers = 8
	plan.BatchSize = 3
	plan.Order = true

	var w memWriter
	if _, err := NewLocal().Run(context.Background(), plan, &memSource{rows: rows}, &w); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(w.rows) != 100 {
		t.Fatalf("wrote %d rows, want 100", len(w.rows))
	}
	for i, row := range w.rows {
		if row[0] != fmt.Sprintf("%03d", i) {
			t.Fatalf("row %d = %v, order not preserved", i, row)
		}
	}
}

func TestRunReportsRowFailures(t *testing.T) {
	cat := newCatalog(t, "n")
	if err := cat.SetType("n", catalog.TypeInt); err != nil {
		t.Fatalf("SetType: %v", err)
	}
	p := pipeline.NewPipeline(cat)
	d := pipeline.NewDescriptor(cat)

	src := func() *memSource {
		return &memSource{rows: [][]string{{"1"}, {"oops"}, {"3"}}}
	}

	plan := plainPlan(cat, p, d)
	plan.Order = true
	var w memWriter
	report, err := NewLocal().Run(context.Background(), plan, src(), &w)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Failures) != 1 || report.Failures[0].Seq != 1 {
		t.Errorf("failures = %+v, want row 1", report.Failures)
	}
	if report.Written != 2 {
		t.Errorf("written = %d, want the 2 good rows", report.Written)
	}

	plan = plainPlan(cat, p, d)
	plan.RaiseOnError = true
	if _, err := NewLocal().Run(context.Background(), plan, src(), &memWriter{}); err == nil {
		t.Error("RaiseOnError should abort on the bad row")
	}
}

func TestRunGroupedAggregates(t *testing.T) {
	cat := newCatalog(t, "Department", "Salary")
	if err := cat.SetType("Salary", catalog.TypeDouble); err != nil {
		t.Fatalf("SetType: %v", err)
	}
	p := pipeline.NewPipeline(cat)
	d := pipeline.NewDescriptor(cat)
	if err := d.AddFilter([]string{"Salary"}, func(v []interface{}) bool {
		return v[0].(float64) <= 800
	}); err != nil {
		t.Fatalf("AddFilter: %v", err)
	}
	if err := d.AddGroupKey("", "Department"); err != nil {
		t.Fatalf("AddGroupKey: %v", err)
	}
	if err := d.AddAggregate("avg", []string{"Salary"}, []string{"dept_avg"}); err != nil {
		t.Fatalf("AddAggregate: %v", err)
	}
	gp, err := planner.IndexGroupAggregates(cat, d, nil)
	if err != nil {
		t.Fatalf("IndexGroupAggregates: %v", err)
	}

	ops, _ := p.Finalize() // formatting moves into the group stage
	plan := &planner.Plan{
		Ops:       ops,
		Filters:   d.Filters,
		Width:     cat.Width(),
		Parsers:   cat.Parsers(),
		Group:     gp,
		Workers:   4,
		BatchSize: 2,
	}
	src := &memSource{rows: [][]string{
		{"X", "100"},
		{"X", "900"}, // filtered before grouping
		{"Y", "50"},
		{"X", "100"},
	}}
	var w memWriter
	report, err := NewLocal().Run(context.Background(), plan, src, &w)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Written != 2 {
		t.Fatalf("wrote %d groups, want 2: %v", report.Written, w.rows)
	}
	got := make(map[string]string)
	for _, row := range w.rows {
		got[row[0]] = row[1]
	}
	if got["X"] != "100" || got["Y"] != "50" {
		t.Errorf("group output = %v", got)
	}
}

func joinFixtures(t *testing.T) (left, right planner.Side, lin, rin JoinInput) {
	t.Helper()
	lcat := newCatalog(t, "id", "name")
	rcat := newCatalog(t, "id", "dept")
	left = planner.Side{Cat: lcat, Size: 300, Prefix: "l_"}
	right = planner.Side{Cat: rcat, Size: 200, Prefix: "r_"}
	lin = JoinInput{
		Src: &memSource{rows: [][]string{
			{"1", "a"},
			{"2", "b"},
			{"2", "c"},
		}},
		Width:      lcat.Width(),
		Parsers:    lcat.Parsers(),
		Formatters: lcat.Formatters(),
	}
	rin = JoinInput{
		Src: &memSource{rows: [][]string{
			{"1", "X"},
			{"3", "Y"},
		}},
		Width:      rcat.Width(),
		Parsers:    rcat.Parsers(),
		Formatters: rcat.Formatters(),
	}
	return left, right, lin, rin
}

func joinPlanFor(t *testing.T, left, right planner.Side, spec planner.JoinSpec) *planner.Plan {
	t.Helper()
	jp, err := planner.PlanJoin(left, right, spec)
	if err != nil {
		t.Fatalf("PlanJoin: %v", err)
	}
	return &planner.Plan{Join: jp, Workers: 2, BatchSize: 2, Order: true}
}

func TestRunJoinInnerDropsUnmatched(t *testing.T) {
	left, right, lin, rin := joinFixtures(t)
	plan := joinPlanFor(t, left, right, planner.JoinSpec{
		Kind:      planner.InnerJoin,
		LeftKeys:  []string{"id"},
		RightKeys: []string{"id"},
	})
	var w memWriter
	report, err := NewLocal().RunJoin(context.Background(), plan, lin, rin, &w)
	if err != nil {
		t.Fatalf("RunJoin: %v", err)
	}
	want := [][]string{{"1", "a", "1", "X"}}
	if !reflect.DeepEqual(w.rows, want) {
		t.Errorf("output = %v, want %v", w.rows, want)
	}
	if report.Read != 5 {
		t.Errorf("read = %d, want both sides counted", report.Read)
	}
}

func TestRunJoinLeftPadsUnmatched(t *testing.T) {
	left, right, lin, rin := joinFixtures(t)
	plan := joinPlanFor(t, left, right, planner.JoinSpec{
		Kind:      planner.LeftJoin,
		LeftKeys:  []string{"id"},
		RightKeys: []string{"id"},
	})
	var w memWriter
	if _, err := NewLocal().RunJoin(context.Background(), plan, lin, rin, &w); err != nil {
		t.Fatalf("RunJoin: %v", err)
	}
	want := [][]string{
		{"1", "a", "1", "X"},
		{"2", "b", "", ""},
		{"2", "c", "", ""},
	}
	if !reflect.DeepEqual(w.rows, want) {
		t.Errorf("output = %v, want %v", w.rows, want)
	}
}

func TestRunJoinSelectPermutation(t *testing.T) {
	left, right, lin, rin := joinFixtures(t)
	plan := joinPlanFor(t, left, right, planner.JoinSpec{
		Kind:      planner.InnerJoin,
		LeftKeys:  []string{"id"},
		RightKeys: []string{"id"},
		Select:    []string{"r_dept", "l_name"},
	})
	var w memWriter
	if _, err := NewLocal().RunJoin(context.Background(), plan, lin, rin, &w); err != nil {
		t.Fatalf("RunJoin: %v", err)
	}
	want := [][]string{{"X", "a"}}
	if !reflect.DeepEqual(w.rows, want) {
		t.Errorf("output = %v, want %v", w.rows, want)
	}
}

func asofFixtures(t *testing.T) (planner.Side, planner.Side, JoinInput, JoinInput) {
	t.Helper()
	lcat := newCatalog(t, "sym", "t")
	rcat := newCatalog(t, "sym", "t", "px")
	for _, c := range []*catalog.Catalog{lcat, rcat} {
		if err := c.SetType("t", catalog.TypeInt); err != nil {
			t.Fatalf("SetType: %v", err)
		}
	}
	left := planner.Side{Cat: lcat, Size: 10, Prefix: "l_"}
	right := planner.Side{Cat: rcat, Size: 10, Prefix: "r_"}
	lin := JoinInput{
		Src: &memSource{rows: [][]string{
			{"AA", "5"},
			{"AA", "9"},
			{"BB", "5"},
		}},
		Width:      lcat.Width(),
		Parsers:    lcat.Parsers(),
		Formatters: lcat.Formatters(),
	}
	rin := JoinInput{
		Src: &memSource{rows: [][]string{
			{"AA", "4", "1.5"},
			{"AA", "6", "2.5"},
			{"BB", "1", "9.9"},
		}},
		Width:      rcat.Width(),
		Parsers:    rcat.Parsers(),
		Formatters: rcat.Formatters(),
	}
	return left, right, lin, rin
}

func TestRunAsofBackwardWithLimit(t *testing.T) {
	left, right, lin, rin := asofFixtures(t)
	limit := 2.0
	plan := joinPlanFor(t, left, right, planner.JoinSpec{
		Kind:      planner.AsofBackwardJoin,
		LeftKeys:  []string{"sym"},
		RightKeys: []string{"sym"},
		LeftRoll:  "t",
		RightRoll: "t",
		Limit:     &limit,
	})
	var w memWriter
	if _, err := NewLocal().RunJoin(context.Background(), plan, lin, rin, &w); err != nil {
		t.Fatalf("RunJoin: %v", err)
	}
	// AA@5 matches AA@4 (gap 1); AA@9 has nothing within 2 behind it;
	// BB@5's only quote is 4 back, beyond the limit
	want := [][]string{
		{"AA", "5", "AA", "4", "1.5"},
		{"AA", "9", "", "", ""},
		{"BB", "5", "", "", ""},
	}
	if !reflect.DeepEqual(w.rows, want) {
		t.Errorf("output = %v, want %v", w.rows, want)
	}
}

func TestRunAsofForward(t *testing.T) {
	left, right, lin, rin := asofFixtures(t)
	plan := joinPlanFor(t, left, right, planner.JoinSpec{
		Kind:      planner.AsofForwardJoin,
		LeftKeys:  []string{"sym"},
		RightKeys: []string{"sym"},
		LeftRoll:  "t",
		RightRoll: "t",
	})
	var w memWriter
	if _, err := NewLocal().RunJoin(context.Background(), plan, lin, rin, &w); err != nil {
		t.Fatalf("RunJoin: %v", err)
	}
	// Forward takes the nearest quote at or after each trade
	want := [][]string{
		{"AA", "5", "AA", "6", "2.5"},
		{"AA", "9", "", "", ""},
		{"BB", "5", "", "", ""},
	}
	if !reflect.DeepEqual(w.rows, want) {
		t.Errorf("output = %v, want %v", w.rows, want)
	}
}

func TestRunAsofForwardWithLimit(t *testing.T) {
	left, right, lin, rin := asofFixtures(t)
	limit := 1.0
	plan := joinPlanFor(t, left, right, planner.JoinSpec{
		Kind:      planner.AsofForwardJoin,
		LeftKeys:  []string{"sym"},
		RightKeys: []string{"sym"},
		LeftRoll:  "t",
		RightRoll: "t",
		Limit:     &limit,
	})
	var w memWriter
	if _, err := NewLocal().RunJoin(context.Background(), plan, lin, rin, &w); err != nil {
		t.Fatalf("RunJoin: %v", err)
	}
	// AA@5's nearest forward quote is AA@6, a gap exactly at the limit
	want := [][]string{
		{"AA", "5", "AA", "6", "2.5"},
		{"AA", "9", "", "", ""},
		{"BB", "5", "", "", ""},
	}
	if !reflect.DeepEqual(w.rows, want) {
		t.Errorf("output = %v, want %v", w.rows, want)
	}

	// Tightening the limit below that gap turns the match into a pad
	left, right, lin, rin = asofFixtures(t)
	tight := 0.5
	plan = joinPlanFor(t, left, right, planner.JoinSpec{
		Kind:      planner.AsofForwardJoin,
		LeftKeys:  []string{"sym"},
		RightKeys: []string{"sym"},
		LeftRoll:  "t",
		RightRoll: "t",
		Limit:     &tight,
	})
	w = memWriter{}
	if _, err := NewLocal().RunJoin(context.Background(), plan, lin, rin, &w); err != nil {
		t.Fatalf("RunJoin: %v", err)
	}
	if !reflect.DeepEqual(w.rows[0], []string{"AA", "5", "", "", ""}) {
		t.Errorf("row beyond limit = %v, want padded", w.rows[0])
	}
}

func TestPreviewBoundsSampleAndRewinds(t *testing.T) {
	cat := newCatalog(t, "n")
	p := pipeline.NewPipeline(cat)
	d := pipeline.NewDescriptor(cat)
	var rows [][]string
	for i := 0; i < 30; i++ {
		rows = append(rows, []string{fmt.Sprintf("%d", i)})
	}
	plan := plainPlan(cat, p, d)
	src := &memSource{rows: rows}

	out, err := Preview(plan, src, 0, 0, "identity")
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(out) != DefaultSampleRows {
		t.Errorf("sampled %d rows, want %d", len(out), DefaultSampleRows)
	}
	if src.Checkpoint() != 0 {
		t.Errorf("source not rewound, checkpoint = %d", src.Checkpoint())
	}
}

func TestPreviewWrapsErrorWithCallerContext(t *testing.T) {
	cat := newCatalog(t, "n")
	if err := cat.SetType("n", catalog.TypeInt); err != nil {
		t.Fatalf("SetType: %v", err)
	}
	p := pipeline.NewPipeline(cat)
	d := pipeline.NewDescriptor(cat)
	plan := plainPlan(cat, p, d)
	src := &memSource{rows: [][]string{{"nope"}}}

	_, err := Preview(plan, src, 0, 0, "set type of n")
	if err == nil {
		t.Fatal("Preview should surface the parse failure")
	}
	if !strings.Contains(err.Error(), "set type of n") {
		t.Errorf("error %q lacks the caller context", err)
	}
	if _, ok := err.(*catalog.OperationError); !ok {
		t.Errorf("error type = %T, want *catalog.OperationError", err)
	}
}

func TestPreviewJoinBoundsAndRewinds(t *testing.T) {
	left, right, lin, rin := joinFixtures(t)
	plan := joinPlanFor(t, left, right, planner.JoinSpec{
		Kind:      planner.LeftJoin,
		LeftKeys:  []string{"id"},
		RightKeys: []string{"id"},
	})
	out, err := PreviewJoin(plan, lin, rin, 0, 0, "left join")
	if err != nil {
		t.Fatalf("PreviewJoin: %v", err)
	}
	if len(out) != 3 {
		t.Errorf("sampled %d rows, want 3", len(out))
	}
	if lin.Src.Checkpoint() != 0 || rin.Src.Checkpoint() != 0 {
		t.Error("join preview must rewind both sides")
	}
}

func TestRenderTable(t *testing.T) {
	var sb strings.Builder
	Render(&sb, []string{"dept", "avg"}, [][]string{{"X", "100"}})
	got := sb.String()
	if !strings.Contains(got, "DEPT") && !strings.Contains(got, "dept") {
		t.Errorf("render output lacks header: %q", got)
	}
	if !strings.Contains(got, "100") {
		t.Errorf("render output lacks data: %q", got)
	}
}
