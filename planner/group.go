package planner

import (
	"sort"

	"github.com/c-sungho/clojask/catalog"
	"github.com/c-sungho/clojask/pipeline"
	"github.com/c-sungho/clojask/trace"
)

// AggOutput is one (function, source column, output name) unit after
// index recomputation. SourceIdx is the source's position within the
// group plan's Index, so the backend carries only the columns the
// selected aggregates actually read.
type AggOutput struct {
	FnName    string
	Fn        pipeline.AggregateFunc
	Source    int // original catalog slot
	SourceIdx int // position within Index
	Output    string
}

// GroupOutput locates one selected output column in the post-aggregate
// row: a group key (by key position) or an aggregate unit (by index
// into Aggregates).
type GroupOutput struct {
	IsKey bool
	Pos   int
}

// GroupPlan is the computed schema and index remapping for a grouped
// evaluation. The post-aggregate virtual schema is the group keys in
// declaration order followed by the aggregate output names in
// declaration order; OutputNames is the user's selection over it.
type GroupPlan struct {
	Keys       []pipeline.GroupKey
	Index      []int
	Aggregates []AggOutput

	// Formatters holds the carried columns' pending formatters, keyed
	// by position within Index
	Formatters map[int]catalog.FormatFunc

	// KeyFormatters keeps the group keys' pending formatters, keyed by
	// key position; keys are not carried through Index. A tagged key
	// has no formatter: its collation function changed the value's type.
	KeyFormatters map[int]catalog.FormatFunc

	// KeyFuncs holds the resolved collation functions, keyed by key
	// position
	KeyFuncs map[int]pipeline.KeyFunc

	OutputNames []string
	Outputs     []GroupOutput
}

// IndexGroupAggregates computes the output schema and index remapping
// for a table carrying group-by or aggregate specs. selects lists the
// requested output columns over the virtual post-aggregate schema; nil
// selects everything in declared order.
func IndexGroupAggregates(cat *catalog.Catalog, d *pipeline.Descriptor, selects []string) (*GroupPlan, error) {
	// A group key deleted upstream is a schema error, not a silent drop
	for _, key := range d.GroupKeys {
		if !cat.Live(key.Slot) {
			return nil, catalog.Schemaf("group-by key %q was deleted", cat.Column(key.Slot).Name)
		}
	}

	// Flatten aggregate specs into per-column units
	type unit struct {
		fnName string
		fn     pipeline.AggregateFunc
		source int
		output string
	}
	var units []unit
	for _, spec := range d.Aggregates {
		for i, src := range spec.Sources {
			if !cat.Live(src) {
				return nil, catalog.Schemaf("aggregate source %q was deleted", cat.Column(src).Name)
			}
			units = append(units, unit{spec.Name, spec.Fn, src, spec.Outputs[i]})
		}
	}

	// Virtual schema: keys in order, then aggregate outputs in order.
	// A tagged key shows up under its transformed name, fn(col).
	virtual := make([]string, 0, len(d.GroupKeys)+len(units))
	keyPos := make(map[string]int, len(d.GroupKeys))
	keyFuncs := make(map[int]pipeline.KeyFunc)
	for i, key := range d.GroupKeys {
		name := cat.Column(key.Slot).Name
		if key.Tag != "" {
			fn, err := pipeline.KeyFuncFor(key.Tag)
			if err != nil {
				return nil, err
			}
			keyFuncs[i] = fn
			name = key.Tag + "(" + name + ")"
		}
		keyPos[name] = i
		virtual = append(virtual, name)
	}
	unitPos := make(map[string]int, len(units))
	for i, u := range units {
		if _, dup := keyPos[u.output]; dup {
			return nil, catalog.Schemaf("aggregate output %q collides with a group key", u.output)
		}
		if _, dup := unitPos[u.output]; dup {
			return nil, catalog.Schemaf("aggregate output %q declared twice", u.output)
		}
		unitPos[u.output] = i
		virtual = append(virtual, u.output)
	}

	if selects == nil {
		selects = virtual
	}

	// Resolve the selection and collect the aggregate units it needs
	outputs := make([]GroupOutput, 0, len(selects))
	selectedUnits := make([]int, 0, len(units))
	unitSelected := make(map[int]int) // unit index -> position in selectedUnits
	for _, name := range selects {
		if pos, ok := keyPos[name]; ok {
			outputs = append(outputs, GroupOutput{IsKey: true, Pos: pos})
			continue
		}
		pos, ok := unitPos[name]
		if !ok {
			return nil, catalog.Schemaf("unknown column %q in group select", name)
		}
		if _, seen := unitSelected[pos]; !seen {
			unitSelected[pos] = len(selectedUnits)
			selectedUnits = append(selectedUnits, pos)
		}
		outputs = append(outputs, GroupOutput{IsKey: false, Pos: unitSelected[pos]})
	}

	// Index: sorted distinct source slots the selected aggregates read.
	// Positions within it are the remapped source references.
	sourceSet := make(map[int]bool)
	for _, pos := range selectedUnits {
		sourceSet[units[pos].source] = true
	}
	index := make([]int, 0, len(sourceSet))
	for slot := range sourceSet {
		index = append(index, slot)
	}
	sort.Ints(index)
	indexPos := make(map[int]int, len(index))
	for i, slot := range index {
		indexPos[slot] = i
	}

	aggs := make([]AggOutput, len(selectedUnits))
	for i, pos := range selectedUnits {
		u := units[pos]
		aggs[i] = AggOutput{
			FnName:    u.fnName,
			Fn:        u.fn,
			Source:    u.source,
			SourceIdx: indexPos[u.source],
			Output:    u.output,
		}
	}

	// Re-key pending formatters from original slot to post-group position
	formatters := make(map[int]catalog.FormatFunc)
	keyFormatters := make(map[int]catalog.FormatFunc)
	for slot, f := range cat.Formatters() {
		if pos, carried := indexPos[slot]; carried {
			formatters[pos] = f
		}
	}
	for i, key := range d.GroupKeys {
		if _, tagged := keyFuncs[i]; tagged {
			continue
		}
		if f, ok := cat.Formatters()[key.Slot]; ok {
			keyFormatters[i] = f
		}
	}

	plan := &GroupPlan{
		Keys:          d.GroupKeys,
		Index:         index,
		Aggregates:    aggs,
		Formatters:    formatters,
		KeyFormatters: keyFormatters,
		KeyFuncs:      keyFuncs,
		OutputNames:   selects,
		Outputs:       outputs,
	}
	trace.Get().Debug(trace.ComponentGroup, "Group plan computed", trace.Context(
		"keys", len(plan.Keys), "carried", len(index), "aggregates", len(aggs),
	))
	return plan, nil
}
