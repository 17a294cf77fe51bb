package pipeline

import (
	"time"

	"github.com/c-sungho/clojask/catalog"
)

// KeyFunc transforms a group-by key value before bucketing. Groups form
// over the transformed value, and the transformed value is what the key
// column shows in the output.
type KeyFunc func(v interface{}) (interface{}, error)

var keyFuncRegistry = map[string]KeyFunc{
	"year":  datePart(func(t time.Time) int64 { return int64(t.Year()) }),
	"month": datePart(func(t time.Time) int64 { return int64(t.Month()) }),
	"day":   datePart(func(t time.Time) int64 { return int64(t.Day()) }),
}

func datePart(part func(time.Time) int64) KeyFunc {
	return func(v interface{}) (interface{}, error) {
		t, ok := v.(time.Time)
		if !ok {
			return nil, catalog.Schemaf("key value %v is not a date", v)
		}
		return part(t), nil
	}
}

// KeyFuncFor looks up a registered group key function by tag
func KeyFuncFor(tag string) (KeyFunc, error) {
	fn, ok := keyFuncRegistry[tag]
	if !ok {
		return nil, catalog.Schemaf("unknown group key function %q", tag)
	}
	return fn, nil
}

// RegisterKeyFunc adds a user key function under a fresh tag
func RegisterKeyFunc(tag string, fn KeyFunc) error {
	if _, dup := keyFuncRegistry[tag]; dup {
		return catalog.Schemaf("group key function %q already registered", tag)
	}
	keyFuncRegistry[tag] = fn
	return nil
}
