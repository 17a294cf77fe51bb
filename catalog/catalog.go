package catalog

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/c-sungho/clojask/trace"
)

// Column holds the metadata recorded for one slot in the catalog.
// Slots are stable once assigned; deletion clears the liveness bit but
// keeps the slot so other references stay valid.
type Column struct {
	Name      string
	Slot      int
	Type      TypeTag
	Parser    ParseFunc
	Formatter FormatFunc // pending, concatenated after user operations at finalize
}

// Catalog is the per-table registry of column metadata. Slots bind a
// column to its physical field position for good; the logical column
// order is a separate list of live slots, so reorders never detach a
// name from its data. The dense view over that list is the canonical
// output layout every downstream component consumes.
type Catalog struct {
	columns []*Column
	byName  map[string]int
	live    *roaring.Bitmap
	order   []int
}

// New builds a catalog from the table's header names, one live slot per
// name in order.
func New(names []string) (*Catalog, error) {
	c := &Catalog{
		byName: make(map[string]int, len(names)),
		live:   roaring.New(),
	}
	for _, name := range names {
		if _, dup := c.byName[name]; dup {
			return nil, Schemaf("duplicate column name %q", name)
		}
		slot := len(c.columns)
		c.columns = append(c.columns, &Column{Name: name, Slot: slot, Type: TypeRaw})
		c.byName[name] = slot
		c.live.Add(uint32(slot))
		c.order = append(c.order, slot)
	}
	trace.Get().Debug(trace.ComponentCatalog, "Catalog initialized", trace.Context(
		"columns", len(names),
	))
	return c, nil
}

// Width returns the total number of slots, live or not
func (c *Catalog) Width() int { return len(c.columns) }

// Resolve maps a user-facing column name to its slot. Deleted and
// unknown names both fail with a SchemaError.
func (c *Catalog) Resolve(name string) (int, error) {
	slot, ok := c.byName[name]
	if !ok || !c.live.Contains(uint32(slot)) {
		return 0, Schemaf("unknown column %q", name)
	}
	return slot, nil
}

// ResolveAll maps a list of names to slots, failing on the first unknown
func (c *Catalog) ResolveAll(names []string) ([]int, error) {
	slots := make([]int, len(names))
	for i, name := range names {
		slot, err := c.Resolve(name)
		if err != nil {
			return nil, err
		}
		slots[i] = slot
	}
	return slots, nil
}

// Column returns the metadata for a slot
func (c *Catalog) Column(slot int) *Column { return c.columns[slot] }

// Live reports whether a slot is live
func (c *Catalog) Live(slot int) bool { return c.live.Contains(uint32(slot)) }

// SetType records the default parser for the column and registers the
// matching formatter to be applied at finalize time. Unknown tags fail
// with a SchemaError; callers wanting custom behavior use SetParser.
func (c *Catalog) SetType(name string, tag TypeTag) error {
	slot, err := c.Resolve(name)
	if err != nil {
		return err
	}
	parse, err := ParserFor(tag)
	if err != nil {
		return err
	}
	format, err := FormatterFor(tag)
	if err != nil {
		return err
	}
	col := c.columns[slot]
	col.Type = tag
	col.Parser = parse
	col.Formatter = format
	trace.Get().Debug(trace.ComponentCatalog, "Column typed", trace.Context(
		"column", name, "type", string(tag),
	))
	return nil
}

// SetParser records a user-supplied parser for the column without
// registering a formatter
func (c *Catalog) SetParser(name string, parse ParseFunc) error {
	slot, err := c.Resolve(name)
	if err != nil {
		return err
	}
	col := c.columns[slot]
	col.Type = TypeRaw
	col.Parser = parse
	return nil
}

// Add allocates a fresh live slot for a new column name. The name must
// not collide with any live column.
func (c *Catalog) Add(name string) (int, error) {
	if slot, ok := c.byName[name]; ok && c.live.Contains(uint32(slot)) {
		return 0, Schemaf("column %q already exists", name)
	}
	slot := len(c.columns)
	c.columns = append(c.columns, &Column{Name: name, Slot: slot, Type: TypeRaw})
	c.byName[name] = slot
	c.live.Add(uint32(slot))
	c.order = append(c.order, slot)
	return slot, nil
}

// Delete marks the named columns as tombstones. Slots are retained and
// never renumbered.
func (c *Catalog) Delete(names ...string) error {
	slots, err := c.ResolveAll(names)
	if err != nil {
		return err
	}
	for _, slot := range slots {
		c.live.Remove(uint32(slot))
	}
	kept := c.order[:0]
	for _, slot := range c.order {
		if c.live.Contains(uint32(slot)) {
			kept = append(kept, slot)
		}
	}
	c.order = kept
	trace.Get().Debug(trace.ComponentCatalog, "Columns deleted", trace.Context(
		"columns", names, "remaining", int(c.live.GetCardinality()),
	))
	return nil
}

// Reorder permutes the logical column order. The names must be a
// bijection onto the current live name set; slot bindings stay put.
func (c *Catalog) Reorder(names []string) error {
	if len(names) != len(c.order) {
		return Schemaf("reorder expects %d columns, got %d", len(c.order), len(names))
	}
	seen := make(map[string]bool, len(names))
	order := make([]int, len(names))
	for i, name := range names {
		if seen[name] {
			return Schemaf("reorder repeats column %q", name)
		}
		seen[name] = true
		slot, err := c.Resolve(name)
		if err != nil {
			return err
		}
		order[i] = slot
	}
	c.order = order
	return nil
}

// Rename replaces the names of the live columns, in current order. The
// count must match the live column count. All old names are unbound
// before any new one is bound, so a permutation of the current names is
// a legal rename.
func (c *Catalog) Rename(names []string) error {
	liveSlots := c.ColIndex()
	if len(names) != len(liveSlots) {
		return Schemaf("rename expects %d columns, got %d", len(liveSlots), len(names))
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			return Schemaf("rename repeats column %q", name)
		}
		seen[name] = true
	}
	for _, slot := range liveSlots {
		delete(c.byName, c.columns[slot].Name)
	}
	for i, slot := range liveSlots {
		c.columns[slot].Name = names[i]
		c.byName[names[i]] = slot
	}
	return nil
}

// ColIndex returns the dense view: live slots in logical column order.
// Callers must treat the result as read-only.
func (c *Catalog) ColIndex() []int { return c.order }

// LiveNames returns the live column names in dense order
func (c *Catalog) LiveNames() []string {
	slots := c.ColIndex()
	names := make([]string, len(slots))
	for i, slot := range slots {
		names[i] = c.columns[slot].Name
	}
	return names
}

// Formatters collects the pending formatters keyed by slot
func (c *Catalog) Formatters() map[int]FormatFunc {
	out := make(map[int]FormatFunc)
	for _, slot := range c.ColIndex() {
		if f := c.columns[slot].Formatter; f != nil {
			out[slot] = f
		}
	}
	return out
}

// Parsers collects the declared parsers keyed by slot
func (c *Catalog) Parsers() map[int]ParseFunc {
	out := make(map[int]ParseFunc)
	for _, slot := range c.ColIndex() {
		if p := c.columns[slot].Parser; p != nil {
			out[slot] = p
		}
	}
	return out
}

// Clone returns an independent copy of the catalog. Join planning takes
// read-only references; clones keep table builders from aliasing.
func (c *Catalog) Clone() *Catalog {
	cp := &Catalog{
		columns: make([]*Column, len(c.columns)),
		byName:  make(map[string]int, len(c.byName)),
		live:    c.live.Clone(),
		order:   append([]int(nil), c.order...),
	}
	for i, col := range c.columns {
		dup := *col
		cp.columns[i] = &dup
	}
	for name, slot := range c.byName {
		cp.byName[name] = slot
	}
	return cp
}
