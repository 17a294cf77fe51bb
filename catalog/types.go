package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TypeTag identifies a declared column type
type TypeTag string

const (
	TypeInt    TypeTag = "int"
	TypeDouble TypeTag = "double"
	TypeString TypeTag = "string"
	TypeDate   TypeTag = "date"
	TypeRaw    TypeTag = "raw"
)

// DateLayout is the accepted textual form of date columns
const DateLayout = "2006-01-02"

// ParseFunc converts the raw field text into a typed value
type ParseFunc func(string) (interface{}, error)

// FormatFunc renders a typed value back to output text
type FormatFunc func(interface{}) string

// CompareFunc orders two typed values: negative, zero, positive
type CompareFunc func(a, b interface{}) int

// typeEntry bundles the behavior registered for one type tag
type typeEntry struct {
	parse   ParseFunc
	format  FormatFunc
	compare CompareFunc
}

var typeRegistry = map[TypeTag]typeEntry{
	TypeInt: {
		parse: func(s string) (interface{}, error) {
			v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing %q as int: %w", s, err)
			}
			return v, nil
		},
		format: func(v interface{}) string {
			if n, ok := v.(int64); ok {
				return strconv.FormatInt(n, 10)
			}
			return fmt.Sprint(v)
		},
		compare: func(a, b interface{}) int {
			av, bv := toInt64(a), toInt64(b)
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		},
	},
	TypeDouble: {
		parse: func(s string) (interface{}, error) {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("parsing %q as double: %w", s, err)
			}
			return v, nil
		},
		format: func(v interface{}) string {
			if f, ok := v.(float64); ok {
				return strconv.FormatFloat(f, 'g', -1, 64)
			}
			return fmt.Sprint(v)
		},
		compare: func(a, b interface{}) int {
			av, bv := toFloat64(a), toFloat64(b)
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		},
	},
	TypeString: {
		parse:  func(s string) (interface{}, error) { return s, nil },
		format: func(v interface{}) string { return fmt.Sprint(v) },
		compare: func(a, b interface{}) int {
			return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
		},
	},
	TypeDate: {
		parse: func(s string) (interface{}, error) {
			v, err := time.Parse(DateLayout, strings.TrimSpace(s))
			if err != nil {
				return nil, fmt.Errorf("parsing %q as date: %w", s, err)
			}
			return v, nil
		},
		format: func(v interface{}) string {
			if t, ok := v.(time.Time); ok {
				return t.Format(DateLayout)
			}
			return fmt.Sprint(v)
		},
		compare: func(a, b interface{}) int {
			at, aok := a.(time.Time)
			bt, bok := b.(time.Time)
			if !aok || !bok {
				return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
			}
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			}
			return 0
		},
	},
	TypeRaw: {
		parse:  func(s string) (interface{}, error) { return s, nil },
		format: func(v interface{}) string { return fmt.Sprint(v) },
		compare: func(a, b interface{}) int {
			return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
		},
	},
}

// KnownType reports whether tag is a registered type tag
func KnownType(tag TypeTag) bool {
	_, ok := typeRegistry[tag]
	return ok
}

// ParserFor returns the registered parser for a type tag
func ParserFor(tag TypeTag) (ParseFunc, error) {
	entry, ok := typeRegistry[tag]
	if !ok {
		return nil, Schemaf("unknown type tag %q", tag)
	}
	return entry.parse, nil
}

// FormatterFor returns the registered formatter for a type tag
func FormatterFor(tag TypeTag) (FormatFunc, error) {
	entry, ok := typeRegistry[tag]
	if !ok {
		return nil, Schemaf("unknown type tag %q", tag)
	}
	return entry.format, nil
}

// ComparatorFor returns the registered comparator for a type tag
func ComparatorFor(tag TypeTag) (CompareFunc, error) {
	entry, ok := typeRegistry[tag]
	if !ok {
		return nil, Schemaf("unknown type tag %q", tag)
	}
	return entry.compare, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func toFloat64(v interface{}) float64 {
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
