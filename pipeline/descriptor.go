package pipeline

import (
	"github.com/c-sungho/clojask/catalog"
	"github.com/c-sungho/clojask/trace"
)

// Predicate decides whether a row passes a filter. It receives the
// values of the filter's columns in declaration order.
type Predicate func(values []interface{}) bool

// Filter is one row predicate bound to catalog slots
type Filter struct {
	Slots []int
	Pred  Predicate
}

// GroupKey is one group-by key: the slot it reads and an optional
// collation tag naming a registered KeyFunc applied to the value before
// bucketing.
type GroupKey struct {
	Tag  string
	Slot int
}

// AggregateSpec is one aggregate declaration: a registered function
// applied per source column, producing one named output column each.
type AggregateSpec struct {
	Name    string
	Fn      AggregateFunc
	Sources []int
	Outputs []string
}

// Descriptor is the row-level pipeline attached to a table: filters,
// group-by keys, and aggregate specs. A non-empty group-by replaces the
// output schema entirely with keys plus aggregate outputs; aggregates
// without group keys form a whole-table aggregate.
type Descriptor struct {
	cat        *catalog.Catalog
	Filters    []Filter
	GroupKeys  []GroupKey
	Aggregates []AggregateSpec
}

// NewDescriptor creates an empty descriptor over a catalog
func NewDescriptor(cat *catalog.Catalog) *Descriptor {
	return &Descriptor{cat: cat}
}

// AddFilter resolves the filter columns and records the predicate
func (d *Descriptor) AddFilter(cols []string, pred Predicate) error {
	slots, err := d.cat.ResolveAll(cols)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		return catalog.Schemaf("filter needs at least one column")
	}
	d.Filters = append(d.Filters, Filter{Slots: slots, Pred: pred})
	return nil
}

// AddGroupKey appends one group-by key in declaration order. A
// non-empty tag must name a registered key function.
func (d *Descriptor) AddGroupKey(tag, col string) error {
	slot, err := d.cat.Resolve(col)
	if err != nil {
		return err
	}
	if tag != "" {
		if _, err := KeyFuncFor(tag); err != nil {
			return err
		}
	}
	d.GroupKeys = append(d.GroupKeys, GroupKey{Tag: tag, Slot: slot})
	return nil
}

// AddAggregate appends one aggregate spec. The function name must be
// registered and one fresh output name is required per source column.
func (d *Descriptor) AddAggregate(fnName string, cols []string, newNames []string) error {
	fn, err := AggregatorFor(fnName)
	if err != nil {
		return err
	}
	if len(newNames) != len(cols) {
		return catalog.Schemaf("aggregate %q declares %d source columns but %d output names",
			fnName, len(cols), len(newNames))
	}
	slots, err := d.cat.ResolveAll(cols)
	if err != nil {
		return err
	}
	for _, name := range newNames {
		if name == "" {
			return catalog.Schemaf("aggregate %q has an empty output name", fnName)
		}
	}
	d.Aggregates = append(d.Aggregates, AggregateSpec{
		Name:    fnName,
		Fn:      fn,
		Sources: slots,
		Outputs: newNames,
	})
	trace.Get().Debug(trace.ComponentPipeline, "Aggregate recorded", trace.Context(
		"fn", fnName, "sources", cols, "outputs", newNames,
	))
	return nil
}

// Matches reports whether the row passes every recorded filter
func (d *Descriptor) Matches(row []interface{}) bool {
	return MatchFilters(d.Filters, row)
}

// MatchFilters evaluates a filter list against one slot-indexed row
func MatchFilters(filters []Filter, row []interface{}) bool {
	for _, f := range filters {
		values := make([]interface{}, len(f.Slots))
		for i, slot := range f.Slots {
			values[i] = row[slot]
		}
		if !f.Pred(values) {
			return false
		}
	}
	return true
}
