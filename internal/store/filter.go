package store

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// Op is a supported comparison.
type Op string

const (
	OpEq    Op = "$eq"
	OpNe    Op = "$ne"
	OpGt    Op = "$gt"
	OpGte   Op = "$gte"
	OpLt    Op = "$lt"
	OpLte   Op = "$lte"
	OpIn    Op = "$in"
	OpNin   Op = "$nin"
	OpRegex Op = "$regex"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
)

// filterable lists the course fields a catalog filter may reference, keyed by JSON name.
var filterable = map[string]fieldKind{
	"category":     kindString,
	"level":        kindString,
	"status":       kindString,
	"instructorId": kindString,
	"priceCents":   kindInt,
	"title":        kindString,
}

const maxRegexLen = 100

// Cond is one comparison. Value is a string, an int64, or a slice of one of
// those for $in and $nin.
type Cond struct {
	Field string
	Op    Op
	Value any

	re *regexp.Regexp
}

// Filter is a conjunction of conditions over courses.
type Filter struct {
	Conds []Cond
}

// Where returns a copy of f with an extra equality condition on a text field.
func (f Filter) Where(field, value string) Filter {
	return Filter{Conds: append(append([]Cond(nil), f.Conds...), Cond{Field: field, Op: OpEq, Value: value})}
}

// ParseFilter compiles an already sanitized filter document. Top-level keys are
// field names or $and; a field maps to a plain value (equality) or an operator object.
func ParseFilter(doc map[string]any) (Filter, error) {
	var f Filter
	if err := f.parseDoc(doc); err != nil {
		return Filter{}, err
	}
	// deterministic order for SQL generation and tests
	sort.SliceStable(f.Conds, func(i, j int) bool { return f.Conds[i].Field < f.Conds[j].Field })
	return f, nil
}

func (f *Filter) parseDoc(doc map[string]any) error {
	for k, v := range doc {
		if k == "$and" {
			parts, ok := v.([]any)
			if !ok {
				return fmt.Errorf("%w: $and needs an array", ErrUnsupportedFilter)
			}
			for _, p := range parts {
				sub, ok := p.(map[string]any)
				if !ok {
					return fmt.Errorf("%w: $and entries must be objects", ErrUnsupportedFilter)
				}
				if err := f.parseDoc(sub); err != nil {
					return err
				}
			}
			continue
		}
		if strings.HasPrefix(k, "$") {
			return fmt.Errorf("%w: operator %s at top level", ErrUnsupportedFilter, k)
		}
		kind, ok := filterable[k]
		if !ok {
			return fmt.Errorf("%w: field %q", ErrUnsupportedFilter, k)
		}
		ops, isOps := v.(map[string]any)
		if !isOps {
			c, err := newCond(k, kind, OpEq, v)
			if err != nil {
				return err
			}
			f.Conds = append(f.Conds, c)
			continue
		}
		keys := make([]string, 0, len(ops))
		for op := range ops {
			keys = append(keys, op)
		}
		sort.Strings(keys)
		for _, op := range keys {
			c, err := newCond(k, kind, Op(op), ops[op])
			if err != nil {
				return err
			}
			f.Conds = append(f.Conds, c)
		}
	}
	return nil
}

func newCond(field string, kind fieldKind, op Op, raw any) (Cond, error) {
	c := Cond{Field: field, Op: op}
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		if kind == kindString && op != OpEq && op != OpNe {
			return Cond{}, fmt.Errorf("%w: %s on text field %s", ErrUnsupportedFilter, op, field)
		}
		v, err := scalar(kind, raw)
		if err != nil {
			return Cond{}, fmt.Errorf("%w: %s.%s: %v", ErrUnsupportedFilter, field, op, err)
		}
		c.Value = v
	case OpIn, OpNin:
		list, ok := raw.([]any)
		if !ok {
			return Cond{}, fmt.Errorf("%w: %s.%s needs an array", ErrUnsupportedFilter, field, op)
		}
		if kind == kindInt {
			vals := make([]int64, 0, len(list))
			for _, item := range list {
				v, err := scalar(kind, item)
				if err != nil {
					return Cond{}, fmt.Errorf("%w: %s.%s: %v", ErrUnsupportedFilter, field, op, err)
				}
				vals = append(vals, v.(int64))
			}
			c.Value = vals
		} else {
			vals := make([]string, 0, len(list))
			for _, item := range list {
				v, err := scalar(kind, item)
				if err != nil {
					return Cond{}, fmt.Errorf("%w: %s.%s: %v", ErrUnsupportedFilter, field, op, err)
				}
				vals = append(vals, v.(string))
			}
			c.Value = vals
		}
	case OpRegex:
		pattern, ok := raw.(string)
		if !ok || kind != kindString || field != "title" {
			return Cond{}, fmt.Errorf("%w: $regex is only supported on title", ErrUnsupportedFilter)
		}
		if len(pattern) > maxRegexLen {
			return Cond{}, fmt.Errorf("%w: $regex longer than %d", ErrUnsupportedFilter, maxRegexLen)
		}
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return Cond{}, fmt.Errorf("%w: $regex: %v", ErrUnsupportedFilter, err)
		}
		c.Value = pattern
		c.re = re
	default:
		return Cond{}, fmt.Errorf("%w: operator %s", ErrUnsupportedFilter, op)
	}
	return c, nil
}

func scalar(kind fieldKind, raw any) (any, error) {
	switch kind {
	case kindInt:
		switch n := raw.(type) {
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("not an integer: %s", n)
			}
			return i, nil
		case float64:
			if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
				return nil, fmt.Errorf("not an integer: %v", n)
			}
			return int64(n), nil
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		}
		return nil, fmt.Errorf("expected a number, got %T", raw)
	default:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %T", raw)
		}
		return s, nil
	}
}

// Match evaluates the filter against c.
func (f Filter) Match(c *Course) bool {
	for _, cond := range f.Conds {
		if !cond.match(c) {
			return false
		}
	}
	return true
}

func courseField(c *Course, field string) any {
	switch field {
	case "category":
		return c.Category
	case "level":
		return c.Level
	case "status":
		return string(c.Status)
	case "instructorId":
		return c.InstructorID
	case "priceCents":
		return c.PriceCents
	case "title":
		return c.Title
	}
	return nil
}

func (cond Cond) match(c *Course) bool {
	got := courseField(c, cond.Field)
	switch cond.Op {
	case OpEq:
		return got == cond.Value
	case OpNe:
		return got != cond.Value
	case OpGt, OpGte, OpLt, OpLte:
		g, ok1 := got.(int64)
		w, ok2 := cond.Value.(int64)
		if !ok1 || !ok2 {
			return false
		}
		switch cond.Op {
		case OpGt:
			return g > w
		case OpGte:
			return g >= w
		case OpLt:
			return g < w
		default:
			return g <= w
		}
	case OpIn, OpNin:
		in := false
		switch vals := cond.Value.(type) {
		case []string:
			for _, v := range vals {
				if got == v {
					in = true
				}
			}
		case []int64:
			for _, v := range vals {
				if got == v {
					in = true
				}
			}
		}
		return in == (cond.Op == OpIn)
	case OpRegex:
		s, _ := got.(string)
		return cond.re != nil && cond.re.MatchString(s)
	}
	return false
}
