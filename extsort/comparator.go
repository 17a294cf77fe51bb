package extsort

import (
	"github.com/c-sungho/clojask/catalog"
)

// Key is one resolved sort key: direction, the field position it reads,
// and the typed parse/compare behavior of the column's declared type.
type Key struct {
	Desc    bool
	Slot    int
	Parse   catalog.ParseFunc
	Compare catalog.CompareFunc
}

// ParseSpec validates a sort specification and resolves it against the
// catalog. The spec alternates direction markers and column names:
// "+", "Salary", "-", "Date". Typed comparison follows each column's
// declared type, not its raw text.
func ParseSpec(cat *catalog.Catalog, spec []string) ([]Key, error) {
	if len(spec) == 0 {
		return nil, catalog.Schemaf("sort spec is empty")
	}
	if len(spec)%2 != 0 {
		return nil, catalog.Schemaf("sort spec must alternate direction and column, got %d items", len(spec))
	}

	keys := make([]Key, 0, len(spec)/2)
	for i := 0; i < len(spec); i += 2 {
		var desc bool
		switch spec[i] {
		case "+":
			desc = false
		case "-":
			desc = true
		default:
			return nil, catalog.Schemaf("sort spec item %d: want direction \"+\" or \"-\", got %q", i, spec[i])
		}

		slot, err := cat.Resolve(spec[i+1])
		if err != nil {
			return nil, err
		}
		col := cat.Column(slot)
		compare, err := catalog.ComparatorFor(col.Type)
		if err != nil {
			return nil, err
		}
		keys = append(keys, Key{
			Desc:    desc,
			Slot:    slot,
			Parse:   col.Parser,
			Compare: compare,
		})
	}
	return keys, nil
}

// Comparator builds a total-order comparator over raw delimited rows
// from the resolved keys. The first non-zero key decides; exhausting
// all keys yields equality. Fields that fail their typed parse fall
// back to raw text comparison.
func Comparator(keys []Key) func(a, b []string) int {
	rawCompare, _ := catalog.ComparatorFor(catalog.TypeRaw)
	return func(a, b []string) int {
		for _, key := range keys {
			av, bv := typedField(key, a), typedField(key, b)
			var c int
			if av == nil || bv == nil {
				c = rawCompare(field(a, key.Slot), field(b, key.Slot))
			} else {
				c = key.Compare(av, bv)
			}
			if key.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	}
}

func typedField(key Key, row []string) interface{} {
	raw := field(row, key.Slot)
	if key.Parse == nil {
		return raw
	}
	v, err := key.Parse(raw)
	if err != nil {
		return nil
	}
	return v
}

func field(row []string, slot int) string {
	if slot < len(row) {
		return row[slot]
	}
	return ""
}
