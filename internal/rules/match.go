package rules

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"
)

// Matches reports whether the rule fires for the event: the trigger must
// accept it and every condition must hold.
func (r *Rule) Matches(ev Event) bool {
	if !r.Trigger.matches(ev) {
		return false
	}
	doc := ev.doc()
	for _, c := range r.Conditions {
		if !c.eval(doc) {
			return false
		}
	}
	return true
}

func (t Trigger) matches(ev Event) bool {
	if len(t.Any) > 0 {
		for _, alt := range t.Any {
			if alt.Event == ev.Type && globMatch(alt.PathGlob, ev.Path) {
				return true
			}
		}
		return false
	}
	return t.Type == ev.Type && globMatch(t.PathGlob, ev.Path)
}

// globMatch treats an empty pattern as "any". Globs are case-sensitive
// and a separator is never matched by * or ?.
func globMatch(pattern, path string) bool {
	if pattern == "" {
		return true
	}
	ok, err := filepath.Match(pattern, path)
	return err == nil && ok
}

func (c Condition) eval(doc map[string]any) bool {
	v, ok := lookupField(doc, c.Field)
	if !ok {
		// A missing field satisfies nothing, not even ne.
		return false
	}
	switch c.Op {
	case OpEq:
		return equalValues(v, c.Value)
	case OpNe:
		return !equalValues(v, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		return orderValues(c.Op, v, c.Value)
	case OpIn:
		list, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, e := range list {
			if equalValues(v, e) {
				return true
			}
		}
		return false
	case OpRegex:
		s, okS := v.(string)
		pat, okP := c.Value.(string)
		if !okS || !okP {
			return false
		}
		matched, err := regexp.MatchString(pat, s)
		return err == nil && matched
	case OpGlob:
		s, okS := v.(string)
		pat, okP := c.Value.(string)
		if !okS || !okP {
			return false
		}
		return globMatch(pat, s)
	}
	return false
}

// lookupField digs into the document along a dotted path like
// "file.extension".
func lookupField(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// equalValues compares across the JSON value space: strings fold case,
// numbers compare numerically whatever their Go type, arrays elementwise,
// maps keywise.
func equalValues(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	switch at := a.(type) {
	case string:
		bs, ok := b.(string)
		return ok && strings.EqualFold(at, bs)
	case bool:
		bb, ok := b.(bool)
		return ok && at == bb
	case nil:
		return b == nil
	case []any:
		bl, ok := b.([]any)
		if !ok || len(at) != len(bl) {
			return false
		}
		for i := range at {
			if !equalValues(at[i], bl[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bm, ok := b.(map[string]any)
		if !ok || len(at) != len(bm) {
			return false
		}
		for k, av := range at {
			bv, ok := bm[k]
			if !ok || !equalValues(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// orderValues handles gt/gte/lt/lte. Numbers compare numerically, strings
// lexically (which covers RFC 3339 timestamps), everything else is
// unordered and fails the test.
func orderValues(op string, a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return false
		}
		return applyOrder(op, compareFloat(af, bf))
	}
	as, okA := a.(string)
	bs, okB := b.(string)
	if okA && okB {
		return applyOrder(op, strings.Compare(as, bs))
	}
	return false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func applyOrder(op string, cmp int) bool {
	switch op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}
