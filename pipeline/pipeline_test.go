package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/c-sungho/clojask/catalog"
)

func newTestCatalog(t *testing.T, names ...string) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(names)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return c
}

func upper(args ...interface{}) (interface{}, error) {
	return strings.ToUpper(args[0].(string)), nil
}

func TestOperateValidation(t *testing.T) {
	cat := newTestCatalog(t, "name", "dept")
	p := NewPipeline(cat)

	if err := p.Operate("upper", upper, []string{"ghost"}, ""); !catalog.IsSchemaError(err) {
		t.Errorf("Operate(unknown input) = %v, want SchemaError", err)
	}
	if err := p.Operate("upper", upper, []string{"name"}, "dept"); !catalog.IsSchemaError(err) {
		t.Errorf("Operate(existing newCol) = %v, want SchemaError", err)
	}
	if err := p.Operate("upper", upper, []string{"name"}, "loud_name"); err != nil {
		t.Fatalf("Operate: %v", err)
	}
	if _, err := cat.Resolve("loud_name"); err != nil {
		t.Errorf("new column not registered: %v", err)
	}

	// Operations may not reference a column deleted before them
	if err := cat.Delete("dept"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := p.Operate("upper", upper, []string{"dept"}, ""); !catalog.IsSchemaError(err) {
		t.Errorf("Operate(deleted input) = %v, want SchemaError", err)
	}
}

func TestFinalizeAppendsFormattersLast(t *testing.T) {
	cat := newTestCatalog(t, "n")
	if err := cat.SetType("n", catalog.TypeInt); err != nil {
		t.Fatalf("SetType: %v", err)
	}
	p := NewPipeline(cat)

	double := func(args ...interface{}) (interface{}, error) {
		return args[0].(int64) * 2, nil
	}
	if err := p.Operate("double", double, []string{"n"}, ""); err != nil {
		t.Fatalf("Operate: %v", err)
	}

	ops, formats := p.Finalize()
	if len(ops) != 1 || len(formats) != 1 {
		t.Fatalf("Finalize produced %d+%d ops, want 1+1", len(ops), len(formats))
	}
	if formats[0].Name != "format:n" {
		t.Errorf("format op = %q, want format:n", formats[0].Name)
	}

	row := []interface{}{int64(21)}
	if err := Apply(ops, row); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// Doubled but still typed before the format phase
	if row[0] != int64(42) {
		t.Errorf("row[0] = %v, want int64 42", row[0])
	}
	if err := Apply(formats, row); err != nil {
		t.Fatalf("Apply(formats): %v", err)
	}
	if row[0] != "42" {
		t.Errorf("row[0] = %v, want formatted \"42\"", row[0])
	}

	if err := p.Operate("double", double, []string{"n"}, ""); err == nil {
		t.Error("Operate after Finalize should fail")
	}
}

func TestApplyWrapsOperationFailure(t *testing.T) {
	cat := newTestCatalog(t, "n")
	p := NewPipeline(cat)
	boom := func(args ...interface{}) (interface{}, error) {
		return nil, catalog.Schemaf("bad value")
	}
	if err := p.Operate("boom", boom, []string{"n"}, ""); err != nil {
		t.Fatalf("Operate: %v", err)
	}
	ops, _ := p.Finalize()
	err := Apply(ops, []interface{}{"x"})
	if err == nil {
		t.Fatal("Apply should surface the operation failure")
	}
	if _, ok := err.(*catalog.OperationError); !ok {
		t.Errorf("Apply error = %T, want *catalog.OperationError", err)
	}
}

func TestDescriptorFiltersAndAggregates(t *testing.T) {
	cat := newTestCatalog(t, "dept", "salary")
	if err := cat.SetType("salary", catalog.TypeDouble); err != nil {
		t.Fatalf("SetType: %v", err)
	}
	d := NewDescriptor(cat)

	if err := d.AddFilter([]string{"missing"}, nil); !catalog.IsSchemaError(err) {
		t.Errorf("AddFilter(unknown) = %v, want SchemaError", err)
	}
	err := d.AddFilter([]string{"salary"}, func(values []interface{}) bool {
		return values[0].(float64) <= 800
	})
	if err != nil {
		t.Fatalf("AddFilter: %v", err)
	}
	if err := d.AddGroupKey("", "dept"); err != nil {
		t.Fatalf("AddGroupKey: %v", err)
	}
	if err := d.AddAggregate("median", []string{"salary"}, []string{"m"}); !catalog.IsSchemaError(err) {
		t.Errorf("AddAggregate(unknown fn) = %v, want SchemaError", err)
	}
	if err := d.AddAggregate("avg", []string{"salary"}, []string{"a", "b"}); !catalog.IsSchemaError(err) {
		t.Errorf("AddAggregate(count mismatch) = %v, want SchemaError", err)
	}
	if err := d.AddAggregate("avg", []string{"salary"}, []string{"dept_avg"}); err != nil {
		t.Fatalf("AddAggregate: %v", err)
	}

	if !d.Matches([]interface{}{"X", float64(100)}) {
		t.Error("row with salary 100 should pass the filter")
	}
	if d.Matches([]interface{}{"X", float64(900)}) {
		t.Error("row with salary 900 should be rejected")
	}
}

func TestKeyFuncRegistry(t *testing.T) {
	fn, err := KeyFuncFor("year")
	if err != nil {
		t.Fatalf("KeyFuncFor(year): %v", err)
	}
	v, err := fn(time.Date(2021, 7, 9, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("year: %v", err)
	}
	if v.(int64) != 2021 {
		t.Errorf("year = %v, want 2021", v)
	}
	if _, err := fn("not a date"); err == nil {
		t.Error("year over a non-date value should fail")
	}
	if _, err := KeyFuncFor("ghost"); !catalog.IsSchemaError(err) {
		t.Errorf("KeyFuncFor(ghost) = %v, want SchemaError", err)
	}

	cat := newTestCatalog(t, "day")
	d := NewDescriptor(cat)
	if err := d.AddGroupKey("ghost", "day"); !catalog.IsSchemaError(err) {
		t.Errorf("AddGroupKey(unknown tag) = %v, want SchemaError", err)
	}
	if err := d.AddGroupKey("month", "day"); err != nil {
		t.Fatalf("AddGroupKey: %v", err)
	}
}

func TestAggregateFunctions(t *testing.T) {
	cases := []struct {
		fn     string
		values []interface{}
		want   interface{}
	}{
		{"count", []interface{}{1, 2, 3}, int64(3)},
		{"sum", []interface{}{float64(1), float64(2)}, float64(3)},
		{"avg", []interface{}{float64(100), float64(50)}, float64(75)},
		{"min", []interface{}{float64(4), float64(2), float64(9)}, float64(2)},
		{"max", []interface{}{float64(4), float64(2), float64(9)}, float64(9)},
	}
	for _, tc := range cases {
		fn, err := AggregatorFor(tc.fn)
		if err != nil {
			t.Fatalf("AggregatorFor(%s): %v", tc.fn, err)
		}
		if got := fn(tc.values); got != tc.want {
			t.Errorf("%s(%v) = %v, want %v", tc.fn, tc.values, got, tc.want)
		}
	}
}
