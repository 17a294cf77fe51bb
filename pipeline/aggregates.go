package pipeline

import (
	"github.com/c-sungho/clojask/catalog"
)

// AggregateFunc reduces the values one group produced for one source
// column into a single output value.
type AggregateFunc func(values []interface{}) interface{}

var aggregateRegistry = map[string]AggregateFunc{
	"count": func(values []interface{}) interface{} {
		return int64(len(values))
	},
	"sum": func(values []interface{}) interface{} {
		var sum float64
		for _, v := range values {
			sum += numeric(v)
		}
		return sum
	},
	"avg": func(values []interface{}) interface{} {
		if len(values) == 0 {
			return float64(0)
		}
		var sum float64
		for _, v := range values {
			sum += numeric(v)
		}
		return sum / float64(len(values))
	},
	"min": func(values []interface{}) interface{} {
		if len(values) == 0 {
			return nil
		}
		best := numeric(values[0])
		for _, v := range values[1:] {
			if n := numeric(v); n < best {
				best = n
			}
		}
		return best
	},
	"max": func(values []interface{}) interface{} {
		if len(values) == 0 {
			return nil
		}
		best := numeric(values[0])
		for _, v := range values[1:] {
			if n := numeric(v); n > best {
				best = n
			}
		}
		return best
	},
}

// AggregatorFor looks up a registered aggregate function by name
func AggregatorFor(name string) (AggregateFunc, error) {
	fn, ok := aggregateRegistry[name]
	if !ok {
		return nil, catalog.Schemaf("unknown aggregate function %q", name)
	}
	return fn, nil
}

// RegisterAggregate adds a user aggregate under a fresh name
func RegisterAggregate(name string, fn AggregateFunc) error {
	if _, dup := aggregateRegistry[name]; dup {
		return catalog.Schemaf("aggregate function %q already registered", name)
	}
	aggregateRegistry[name] = fn
	return nil
}

func numeric(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}
