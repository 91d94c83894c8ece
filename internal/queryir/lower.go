package queryir

import (
	"maps"
	"slices"

	"github.com/roach88/stitch/internal/criteria"
	"github.com/roach88/stitch/internal/ir"
)

// Lower builds the Select of a flat page request. Subquery predicates are
// ignored; callers flatten first.
func Lower(from string, where criteria.Where, sort []criteria.SortKey, skip, limit int) Select {
	sel := Select{
		From:   from,
		Filter: LowerWhere(where),
		Offset: skip,
		Limit:  limit,
	}
	for _, k := range sort {
		sel.Order = append(sel.Order, Order{Field: k.Attr, Desc: k.Desc})
	}
	return sel
}

// LowerWhere converts a where clause to a predicate. It returns nil for a
// clause matching everything.
func LowerWhere(w criteria.Where) Predicate {
	if w.None {
		return Or{}
	}

	var preds []Predicate
	for _, attr := range slices.Sorted(maps.Keys(w.Attrs)) {
		if p := lowerPredicate(attr, w.Attrs[attr]); p != nil {
			preds = append(preds, p)
		}
	}
	for _, branch := range w.And {
		if p := LowerWhere(branch); p != nil {
			preds = append(preds, p)
		}
	}
	if len(w.Or) > 0 {
		var alts []Predicate
		for _, branch := range w.Or {
			p := LowerWhere(branch)
			if p == nil {
				alts = nil
				break
			}
			alts = append(alts, p)
		}
		if alts != nil {
			preds = append(preds, Or{Predicates: alts})
		}
	}

	switch len(preds) {
	case 0:
		return nil
	case 1:
		return preds[0]
	}
	return And{Predicates: preds}
}

func lowerPredicate(field string, p criteria.Predicate) Predicate {
	switch pv := p.(type) {
	case criteria.Literal:
		if list, ok := pv.Value.(ir.IRArray); ok {
			return in(field, list)
		}
		return equals(field, pv.Value)
	case criteria.Comparison:
		var preds []Predicate
		for _, op := range pv.SortedOps() {
			preds = append(preds, lowerOperator(field, op, pv.Ops[op]))
		}
		if len(preds) == 1 {
			return preds[0]
		}
		return And{Predicates: preds}
	}
	return nil
}

func lowerOperator(field string, op criteria.Operator, v ir.IRValue) Predicate {
	switch op {
	case criteria.OpEq:
		return equals(field, v)
	case criteria.OpNe:
		return Not{Predicate: equals(field, v)}
	case criteria.OpIn:
		list, _ := v.(ir.IRArray)
		return in(field, list)
	case criteria.OpNotIn:
		list, _ := v.(ir.IRArray)
		return Not{Predicate: in(field, list)}
	case criteria.OpLt:
		return compare(field, Lt, v)
	case criteria.OpLte:
		return compare(field, Lte, v)
	case criteria.OpGt:
		return compare(field, Gt, v)
	case criteria.OpGte:
		return compare(field, Gte, v)
	case criteria.OpContains:
		return match(field, Contains, v)
	case criteria.OpStartsWith:
		return match(field, Prefix, v)
	case criteria.OpEndsWith:
		return match(field, Suffix, v)
	}
	return Or{}
}

// equals treats null as IS NULL, matching in-memory equality.
func equals(field string, v ir.IRValue) Predicate {
	if ir.IsNull(v) {
		return IsNull{Field: field}
	}
	return Equals{Field: field, Value: v}
}

// in splits a null member off into IS NULL.
func in(field string, list ir.IRArray) Predicate {
	values := make([]ir.IRValue, 0, len(list))
	hasNull := false
	for _, v := range list {
		if ir.IsNull(v) {
			hasNull = true
			continue
		}
		values = append(values, v)
	}
	if !hasNull {
		return In{Field: field, Values: values}
	}
	if len(values) == 0 {
		return IsNull{Field: field}
	}
	return Or{Predicates: []Predicate{In{Field: field, Values: values}, IsNull{Field: field}}}
}

// compare never matches null, mirroring ir.Comparable.
func compare(field string, op CompareOp, v ir.IRValue) Predicate {
	if ir.IsNull(v) {
		return Or{}
	}
	return Compare{Field: field, Op: op, Value: v}
}

func match(field string, mode MatchMode, v ir.IRValue) Predicate {
	s, ok := v.(ir.IRString)
	if !ok {
		return Or{}
	}
	return Match{Field: field, Mode: mode, Value: string(s)}
}
