package extsort

import (
	"io"
	"math/rand"
	"reflect"
	"sort"
	"strconv"
	"testing"

	"github.com/c-sungho/clojask/catalog"
)

type sliceReader struct {
	rows [][]string
	pos  int
}

func (r *sliceReader) Read() ([]string, error) {
	if r.pos >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.pos]
	r.pos++
	return row, nil
}

type sliceWriter struct {
	rows [][]string
}

func (w *sliceWriter) Write(row []string) error {
	w.rows = append(w.rows, row)
	return nil
}

func sortCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]string{"name", "score", "when"})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	if err := cat.SetType("score", catalog.TypeInt); err != nil {
		t.Fatalf("SetType: %v", err)
	}
	if err := cat.SetType("when", catalog.TypeDate); err != nil {
		t.Fatalf("SetType: %v", err)
	}
	return cat
}

func TestParseSpecValidation(t *testing.T) {
	cat := sortCatalog(t)

	bad := [][]string{
		{},                          // empty
		{"+"},                       // odd length
		{"score", "+"},              // direction and column swapped
		{"*", "score"},              // unknown direction
		{"+", "ghost"},              // unknown column
		{"+", "score", "-"},         // trailing direction
		{"+", "score", "name", "-"}, // misaligned pair
	}
	for _, spec := range bad {
		if _, err := ParseSpec(cat, spec); !catalog.IsSchemaError(err) {
			t.Errorf("ParseSpec(%v) = %v, want SchemaError", spec, err)
		}
	}

	keys, err := ParseSpec(cat, []string{"+", "score", "-", "when"})
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	if len(keys) != 2 || keys[0].Desc || !keys[1].Desc {
		t.Errorf("keys = %+v", keys)
	}
}

func TestComparatorTypedMultiKey(t *testing.T) {
	cat := sortCatalog(t)
	keys, err := ParseSpec(cat, []string{"+", "score", "-", "name"})
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	cmp := Comparator(keys)

	// Numeric comparison, not lexical: 9 < 10
	if cmp([]string{"a", "9", ""}, []string{"b", "10", ""}) >= 0 {
		t.Error("typed int comparison should order 9 before 10")
	}
	// Equal first key falls through to the descending second key
	if cmp([]string{"a", "5", ""}, []string{"b", "5", ""}) <= 0 {
		t.Error("descending name should order b before a")
	}
	if cmp([]string{"a", "5", ""}, []string{"a", "5", ""}) != 0 {
		t.Error("identical keys should compare equal")
	}
}

func TestExternalSortMatchesReference(t *testing.T) {
	cat := sortCatalog(t)
	keys, err := ParseSpec(cat, []string{"-", "score", "+", "name"})
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	cmp := Comparator(keys)

	rng := rand.New(rand.NewSource(7))
	rows := make([][]string, 500)
	for i := range rows {
		rows[i] = []string{
			string(rune('a' + rng.Intn(26))),
			strconv.Itoa(rng.Intn(50)),
			"2021-01-01",
		}
	}

	reference := make([][]string, len(rows))
	copy(reference, rows)
	sort.SliceStable(reference, func(i, j int) bool { return cmp(reference[i], reference[j]) < 0 })

	// Tiny chunks force multiple spilled runs through the merge
	out := &sliceWriter{}
	err = Sort(&sliceReader{rows: rows}, cmp, Options{ChunkRows: 37, TmpDir: t.TempDir()}, out)
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}

	if len(out.rows) != len(rows) {
		t.Fatalf("output has %d rows, want %d", len(out.rows), len(rows))
	}
	for i := 1; i < len(out.rows); i++ {
		if cmp(out.rows[i-1], out.rows[i]) > 0 {
			t.Fatalf("output out of order at %d: %v > %v", i, out.rows[i-1], out.rows[i])
		}
	}
	// Same multiset as a reference in-memory sort: compare key sequences
	for i := range out.rows {
		if cmp(out.rows[i], reference[i]) != 0 {
			t.Fatalf("row %d keys differ from reference: %v vs %v", i, out.rows[i], reference[i])
		}
	}
}

func TestExternalSortSingleChunkInMemory(t *testing.T) {
	cat := sortCatalog(t)
	keys, err := ParseSpec(cat, []string{"+", "score"})
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	cmp := Comparator(keys)

	rows := [][]string{
		{"c", "3", ""},
		{"a", "1", ""},
		{"b", "2", ""},
	}
	out := &sliceWriter{}
	if err := Sort(&sliceReader{rows: rows}, cmp, Options{TmpDir: t.TempDir()}, out); err != nil {
		t.Fatalf("Sort: %v", err)
	}
	want := [][]string{{"a", "1", ""}, {"b", "2", ""}, {"c", "3", ""}}
	if !reflect.DeepEqual(out.rows, want) {
		t.Errorf("Sort = %v, want %v", out.rows, want)
	}
}

func TestExternalSortEmptyInput(t *testing.T) {
	cat := sortCatalog(t)
	keys, _ := ParseSpec(cat, []string{"+", "score"})
	out := &sliceWriter{}
	if err := Sort(&sliceReader{}, Comparator(keys), Options{TmpDir: t.TempDir()}, out); err != nil {
		t.Fatalf("Sort: %v", err)
	}
	if len(out.rows) != 0 {
		t.Errorf("empty input produced %d rows", len(out.rows))
	}
}
