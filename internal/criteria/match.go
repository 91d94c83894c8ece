package criteria

import (
	"strings"

	"github.com/roach88/stitch/internal/ir"
)

// Flatten returns a copy of w without Subquery predicates, keeping only the
// predicates a datastore can evaluate directly.
func Flatten(w Where) Where {
	out := w.Clone()
	for attr, p := range out.Attrs {
		if _, ok := p.(Subquery); ok {
			delete(out.Attrs, attr)
		}
	}
	if len(out.Attrs) == 0 {
		out.Attrs = nil
	}
	return out
}

// Match evaluates w against one record in memory. Subquery predicates are
// ignored; the executor enforces them by back-filtering.
func Match(record ir.IRObject, w Where) bool {
	if w.None {
		return false
	}
	for attr, p := range w.Attrs {
		if !matchPredicate(record.Get(attr), p) {
			return false
		}
	}
	for _, branch := range w.And {
		if !Match(record, branch) {
			return false
		}
	}
	if len(w.Or) == 0 {
		return true
	}
	for _, branch := range w.Or {
		if Match(record, branch) {
			return true
		}
	}
	return false
}

// Filter returns the records matching w, preserving order. Never nil.
func Filter(records []ir.IRObject, w Where) []ir.IRObject {
	out := make([]ir.IRObject, 0, len(records))
	for _, r := range records {
		if Match(r, w) {
			out = append(out, r)
		}
	}
	return out
}

func matchPredicate(v ir.IRValue, p Predicate) bool {
	switch pv := p.(type) {
	case Literal:
		if list, ok := pv.Value.(ir.IRArray); ok {
			return contains(list, v)
		}
		return ir.Equal(v, pv.Value)
	case Comparison:
		for op, operand := range pv.Ops {
			if !matchOperator(v, op, operand) {
				return false
			}
		}
		return true
	}
	return true
}

func matchOperator(v ir.IRValue, op Operator, operand ir.IRValue) bool {
	switch op {
	case OpEq:
		return ir.Equal(v, operand)
	case OpNe:
		return !ir.Equal(v, operand)
	case OpIn:
		list, _ := operand.(ir.IRArray)
		return contains(list, v)
	case OpNotIn:
		list, _ := operand.(ir.IRArray)
		return !contains(list, v)
	case OpLt, OpLte, OpGt, OpGte:
		if !ir.Comparable(v, operand) {
			return false
		}
		c := ir.Compare(v, operand)
		switch op {
		case OpLt:
			return c < 0
		case OpLte:
			return c <= 0
		case OpGt:
			return c > 0
		}
		return c >= 0
	case OpContains, OpStartsWith, OpEndsWith:
		s, ok := v.(ir.IRString)
		if !ok {
			return false
		}
		needle, _ := operand.(ir.IRString)
		hay, sub := strings.ToLower(string(s)), strings.ToLower(string(needle))
		switch op {
		case OpContains:
			return strings.Contains(hay, sub)
		case OpStartsWith:
			return strings.HasPrefix(hay, sub)
		}
		return strings.HasSuffix(hay, sub)
	}
	return false
}

func contains(list ir.IRArray, v ir.IRValue) bool {
	for _, item := range list {
		if ir.Equal(item, v) {
			return true
		}
	}
	return false
}
