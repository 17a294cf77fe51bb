package planner

import (
	"time"

	"github.com/c-sungho/clojask/catalog"
	"github.com/c-sungho/clojask/trace"
)

// JoinKind selects the join semantics
type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftJoin
	RightJoin
	AsofForwardJoin
	AsofBackwardJoin
)

// String returns the join kind name
func (k JoinKind) String() string {
	switch k {
	case InnerJoin:
		return "inner"
	case LeftJoin:
		return "left"
	case RightJoin:
		return "right"
	case AsofForwardJoin:
		return "asof-forward"
	case AsofBackwardJoin:
		return "asof-backward"
	default:
		return "unknown"
	}
}

// IsAsof reports whether the kind carries roll semantics
func (k JoinKind) IsAsof() bool {
	return k == AsofForwardJoin || k == AsofBackwardJoin
}

// Side describes one input table of a join: its catalog, the backing
// file (path and size, for the build-side heuristic), and the name
// prefix applied to its output columns.
type Side struct {
	Cat    *catalog.Catalog
	Path   string
	Size   int64
	Prefix string
}

// JoinSpec is the caller's join request before planning
type JoinSpec struct {
	Kind      JoinKind
	LeftKeys  []string
	RightKeys []string
	LeftRoll  string
	RightRoll string
	Limit     *float64 // max allowed roll gap; nil = unlimited
	Select    []string // output columns over the combined prefixed schema; nil = all
}

// JoinPlan is the frozen schema and index remapping for a two-table
// join. LeftOut/RightOut are each side's dense live slots; Names is the
// combined prefixed schema in a-then-b order; WriteIndex permutes that
// concatenated layout onto the caller's select order.
type JoinPlan struct {
	Kind      JoinKind
	LeftKeys  []int
	RightKeys []int

	LeftRoll  int
	RightRoll int
	RollType  catalog.TypeTag
	Limit     float64
	HasLimit  bool

	LeftOut  []int
	RightOut []int
	Names    []string

	WriteIndex  []int
	OutputNames []string

	// BuildRight is a physical choice only: which side the backend
	// materializes for matching. It never changes the output schema.
	BuildRight bool
}

// PlanJoin validates a join request against both catalogs and computes
// the combined schema, key alignment, and per-side index remapping.
func PlanJoin(left, right Side, spec JoinSpec) (*JoinPlan, error) {
	if left.Cat == nil || right.Cat == nil {
		return nil, catalog.Schemaf("join requires two table values")
	}
	if len(spec.LeftKeys) == 0 {
		return nil, catalog.Schemaf("join requires at least one key pair")
	}
	if len(spec.LeftKeys) != len(spec.RightKeys) {
		return nil, catalog.Schemaf("join key count mismatch: %d left vs %d right",
			len(spec.LeftKeys), len(spec.RightKeys))
	}

	leftKeys, err := left.Cat.ResolveAll(spec.LeftKeys)
	if err != nil {
		return nil, err
	}
	rightKeys, err := right.Cat.ResolveAll(spec.RightKeys)
	if err != nil {
		return nil, err
	}

	plan := &JoinPlan{
		Kind:      spec.Kind,
		LeftKeys:  leftKeys,
		RightKeys: rightKeys,
		LeftRoll:  -1,
		RightRoll: -1,
	}

	if spec.Kind.IsAsof() {
		if spec.LeftRoll == "" || spec.RightRoll == "" {
			return nil, catalog.Schemaf("%s join requires roll columns on both sides", spec.Kind)
		}
		lr, err := left.Cat.Resolve(spec.LeftRoll)
		if err != nil {
			return nil, err
		}
		rr, err := right.Cat.Resolve(spec.RightRoll)
		if err != nil {
			return nil, err
		}
		lt := left.Cat.Column(lr).Type
		rt := right.Cat.Column(rr).Type
		if lt != rt {
			return nil, catalog.Schemaf("roll columns %q (%s) and %q (%s) are not mutually comparable",
				spec.LeftRoll, lt, spec.RightRoll, rt)
		}
		if _, err := RollGap(lt, zeroRollValue(lt), zeroRollValue(lt)); err != nil {
			return nil, err
		}
		plan.LeftRoll = lr
		plan.RightRoll = rr
		plan.RollType = lt
		if spec.Limit != nil {
			if *spec.Limit < 0 {
				return nil, catalog.Schemaf("as-of limit must be non-negative, got %v", *spec.Limit)
			}
			plan.Limit = *spec.Limit
			plan.HasLimit = true
		}
	} else if spec.LeftRoll != "" || spec.RightRoll != "" {
		return nil, catalog.Schemaf("%s join does not take roll columns", spec.Kind)
	}

	// Combined schema from the caller's argument order, before any
	// build-side decision, so output identity is stable
	plan.LeftOut = left.Cat.ColIndex()
	plan.RightOut = right.Cat.ColIndex()
	for _, slot := range plan.LeftOut {
		plan.Names = append(plan.Names, left.Prefix+left.Cat.Column(slot).Name)
	}
	for _, slot := range plan.RightOut {
		plan.Names = append(plan.Names, right.Prefix+right.Cat.Column(slot).Name)
	}

	namePos := make(map[string]int, len(plan.Names))
	for i, name := range plan.Names {
		if _, dup := namePos[name]; dup {
			return nil, catalog.Schemaf("join output name %q is ambiguous, use distinct prefixes", name)
		}
		namePos[name] = i
	}

	selects := spec.Select
	if selects == nil {
		selects = plan.Names
	}
	plan.WriteIndex = make([]int, len(selects))
	for i, name := range selects {
		pos, ok := namePos[name]
		if !ok {
			return nil, catalog.Schemaf("unknown join output column %q", name)
		}
		plan.WriteIndex[i] = pos
	}
	plan.OutputNames = selects

	// Physical heuristic: for plain inner joins, materialize the
	// smaller underlying file to bound the build side's memory
	if spec.Kind == InnerJoin {
		plan.BuildRight = right.Size <= left.Size
	} else {
		// Left joins probe left rows against right; right joins the
		// reverse; as-of joins index the right side's roll values
		plan.BuildRight = spec.Kind != RightJoin
	}

	trace.Get().Debug(trace.ComponentJoin, "Join plan computed", trace.Context(
		"kind", spec.Kind.String(),
		"keys", len(leftKeys),
		"outputs", len(plan.OutputNames),
		"buildRight", plan.BuildRight,
	))
	return plan, nil
}

// RollGap measures the ascending-order distance between two roll values
// of the given type. The as-of limit is compared against this gap.
func RollGap(tag catalog.TypeTag, from, to interface{}) (float64, error) {
	switch tag {
	case catalog.TypeInt:
		a, aok := from.(int64)
		b, bok := to.(int64)
		if !aok || !bok {
			return 0, catalog.Schemaf("roll value is not an int")
		}
		return float64(b - a), nil
	case catalog.TypeDouble:
		a, aok := from.(float64)
		b, bok := to.(float64)
		if !aok || !bok {
			return 0, catalog.Schemaf("roll value is not a double")
		}
		return b - a, nil
	case catalog.TypeDate:
		a, aok := from.(time.Time)
		b, bok := to.(time.Time)
		if !aok || !bok {
			return 0, catalog.Schemaf("roll value is not a date")
		}
		return b.Sub(a).Seconds(), nil
	default:
		return 0, catalog.Schemaf("type %q cannot serve as an as-of roll key", tag)
	}
}

func zeroRollValue(tag catalog.TypeTag) interface{} {
	switch tag {
	case catalog.TypeInt:
		return int64(0)
	case catalog.TypeDouble:
		return float64(0)
	case catalog.TypeDate:
		return time.Time{}
	default:
		return nil
	}
}
