package catalog

import (
	"reflect"
	"testing"
	"time"
)

func mustCatalog(t *testing.T, names ...string) *Catalog {
	t.Helper()
	c, err := New(names)
	if err != nil {
		t.Fatalf("New(%v): %v", names, err)
	}
	return c
}

func TestColIndexDenseAfterMutations(t *testing.T) {
	c := mustCatalog(t, "a", "b", "c", "d", "e")

	if err := c.Delete("b", "d"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, want := c.ColIndex(), []int{0, 2, 4}; !reflect.DeepEqual(got, want) {
		t.Errorf("ColIndex after delete = %v, want %v", got, want)
	}

	if err := c.Reorder([]string{"e", "a", "c"}); err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	if got, want := c.LiveNames(), []string{"e", "a", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("LiveNames after reorder = %v, want %v", got, want)
	}
	// Slots follow their names; only the logical order permutes
	if got, want := c.ColIndex(), []int{4, 0, 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("ColIndex after reorder = %v, want %v", got, want)
	}
	if slot, _ := c.Resolve("e"); slot != 4 {
		t.Errorf("Resolve(e) = %d, reorder must not move slots", slot)
	}

	if err := c.Rename([]string{"x", "y", "z"}); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if got, want := c.LiveNames(), []string{"x", "y", "z"}; !reflect.DeepEqual(got, want) {
		t.Errorf("LiveNames after rename = %v, want %v", got, want)
	}

	// Property: dense view is duplicate-free and matches live cardinality
	seen := map[int]bool{}
	for _, slot := range c.ColIndex() {
		if seen[slot] {
			t.Fatalf("duplicate slot %d in dense view", slot)
		}
		seen[slot] = true
		if !c.Live(slot) {
			t.Fatalf("dense view contains dead slot %d", slot)
		}
	}
}

func TestResolveDeletedColumnFails(t *testing.T) {
	c := mustCatalog(t, "a", "b")
	if err := c.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Resolve("a"); !IsSchemaError(err) {
		t.Errorf("Resolve(deleted) = %v, want SchemaError", err)
	}
	if _, err := c.Resolve("nope"); !IsSchemaError(err) {
		t.Errorf("Resolve(unknown) = %v, want SchemaError", err)
	}
}

func TestReorderRejectsNonBijection(t *testing.T) {
	c := mustCatalog(t, "a", "b", "c")

	cases := [][]string{
		{"a", "b"},           // too few
		{"a", "b", "b"},      // repeated
		{"a", "b", "ghost"},  // unknown
		{"a", "b", "c", "d"}, // too many
	}
	for _, names := range cases {
		if err := c.Reorder(names); !IsSchemaError(err) {
			t.Errorf("Reorder(%v) = %v, want SchemaError", names, err)
		}
	}
}

func TestRenamePreservesSlots(t *testing.T) {
	c := mustCatalog(t, "a", "b")
	slotA, _ := c.Resolve("a")
	if err := c.Rename([]string{"first", "second"}); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	slotFirst, err := c.Resolve("first")
	if err != nil {
		t.Fatalf("Resolve(first): %v", err)
	}
	if slotFirst != slotA {
		t.Errorf("rename moved slot: %d != %d", slotFirst, slotA)
	}
	if err := c.Rename([]string{"only"}); !IsSchemaError(err) {
		t.Errorf("Rename with wrong count = %v, want SchemaError", err)
	}
}

func TestRenameSwapKeepsNamesResolvable(t *testing.T) {
	c := mustCatalog(t, "a", "b")
	if err := c.Rename([]string{"b", "a"}); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	slot, err := c.Resolve("b")
	if err != nil {
		t.Fatalf("Resolve(b): %v", err)
	}
	if slot != 0 {
		t.Errorf("Resolve(b) = %d, want slot 0", slot)
	}
	slot, err = c.Resolve("a")
	if err != nil {
		t.Fatalf("Resolve(a): %v", err)
	}
	if slot != 1 {
		t.Errorf("Resolve(a) = %d, want slot 1", slot)
	}
	if got, want := c.LiveNames(), []string{"b", "a"}; !reflect.DeepEqual(got, want) {
		t.Errorf("LiveNames = %v, want %v", got, want)
	}
}

func TestSetTypeRegistersParserAndFormatter(t *testing.T) {
	c := mustCatalog(t, "n", "when")
	if err := c.SetType("n", TypeInt); err != nil {
		t.Fatalf("SetType: %v", err)
	}
	if err := c.SetType("when", TypeDate); err != nil {
		t.Fatalf("SetType: %v", err)
	}
	if err := c.SetType("n", TypeTag("decimal")); !IsSchemaError(err) {
		t.Errorf("SetType(unknown tag) = %v, want SchemaError", err)
	}

	slot, _ := c.Resolve("n")
	v, err := c.Column(slot).Parser("42")
	if err != nil {
		t.Fatalf("Parser: %v", err)
	}
	if v.(int64) != 42 {
		t.Errorf("parsed %v, want 42", v)
	}

	slot, _ = c.Resolve("when")
	v, err = c.Column(slot).Parser("2021-02-03")
	if err != nil {
		t.Fatalf("Parser: %v", err)
	}
	want := time.Date(2021, 2, 3, 0, 0, 0, 0, time.UTC)
	if !v.(time.Time).Equal(want) {
		t.Errorf("parsed %v, want %v", v, want)
	}
	if got := c.Formatters(); len(got) != 2 {
		t.Errorf("Formatters() has %d entries, want 2", len(got))
	}
}

func TestAddRejectsLiveDuplicate(t *testing.T) {
	c := mustCatalog(t, "a")
	if _, err := c.Add("a"); !IsSchemaError(err) {
		t.Errorf("Add(existing) = %v, want SchemaError", err)
	}
	slot, err := c.Add("b")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if slot != 1 {
		t.Errorf("Add slot = %d, want 1", slot)
	}
	// Deleting frees the name for reuse in a fresh slot
	if err := c.Delete("b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	slot, err = c.Add("b")
	if err != nil {
		t.Fatalf("Add after delete: %v", err)
	}
	if slot != 2 {
		t.Errorf("Add reused slot %d, want fresh slot 2", slot)
	}
}

func TestComparatorsOrderTypedValues(t *testing.T) {
	cmpInt, err := ComparatorFor(TypeInt)
	if err != nil {
		t.Fatalf("ComparatorFor: %v", err)
	}
	if cmpInt(int64(1), int64(2)) >= 0 {
		t.Error("int comparator: 1 should sort before 2")
	}
	cmpStr, _ := ComparatorFor(TypeString)
	if cmpStr("10", "9") >= 0 {
		t.Error("string comparator should order lexically")
	}
	cmpDate, _ := ComparatorFor(TypeDate)
	a := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	b := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	if cmpDate(a, b) >= 0 {
		t.Error("date comparator: 2020 should sort before 2021")
	}
}
