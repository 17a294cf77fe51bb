package planner

import (
	"github.com/c-sungho/clojask/catalog"
	"github.com/c-sungho/clojask/pipeline"
)

// MaxWorkers caps the parallelism any evaluation may request
const MaxWorkers = 8

// Plan is the frozen, backend-consumable description of one evaluation:
// the operator list, filters, index mappings, and partition keys. A plan
// is built once at evaluation time and never mutated afterwards.
type Plan struct {
	Ops     []pipeline.Operation
	Filters []pipeline.Filter

	// FormatOps run after the filters, so predicates compare typed
	// values while the projection sees output text
	FormatOps []pipeline.Operation

	// Width is the slot count rows must be allocated with
	Width int

	// Parsers keyed by slot, applied before any operation runs
	Parsers map[int]catalog.ParseFunc

	// OutputSlots/OutputNames describe the projection for plain
	// (non-grouped, non-join) evaluations
	OutputSlots []int
	OutputNames []string

	Group *GroupPlan
	Join  *JoinPlan

	Workers   int
	BatchSize int

	// Order asks the backend to preserve input row order end-to-end
	Order bool

	// RaiseOnError aborts on the first row failure; otherwise the
	// backend reports which rows failed instead of dropping them
	RaiseOnError bool
}

// Validate checks the plan-level limits the core enforces before
// handing anything to a backend.
func (p *Plan) Validate() error {
	if p.Workers < 1 || p.Workers > MaxWorkers {
		return catalog.Schemaf("worker count %d out of range [1,%d]", p.Workers, MaxWorkers)
	}
	if p.BatchSize < 1 {
		return catalog.Schemaf("batch size %d must be positive", p.BatchSize)
	}
	return nil
}

// ProjectNames resolves a select-or-exclude pair against the given
// output schema, enforcing that the two are mutually exclusive.
func ProjectNames(all []string, selects, excludes []string) ([]string, error) {
	if len(selects) > 0 && len(excludes) > 0 {
		return nil, catalog.Schemaf("select and exclude are mutually exclusive")
	}
	known := make(map[string]bool, len(all))
	for _, name := range all {
		known[name] = true
	}
	if len(selects) > 0 {
		for _, name := range selects {
			if !known[name] {
				return nil, catalog.Schemaf("unknown output column %q", name)
			}
		}
		return selects, nil
	}
	if len(excludes) > 0 {
		drop := make(map[string]bool, len(excludes))
		for _, name := range excludes {
			if !known[name] {
				return nil, catalog.Schemaf("unknown output column %q", name)
			}
			drop[name] = true
		}
		kept := make([]string, 0, len(all))
		for _, name := range all {
			if !drop[name] {
				kept = append(kept, name)
			}
		}
		return kept, nil
	}
	return all, nil
}
