package criteria

import (
	"github.com/roach88/stitch/internal/ir"
)

// Raw renders the tree back into loose form. Normalizing the result with
// the same lookup yields a tree equal to t.
func (t *Tree) Raw() map[string]any {
	out := map[string]any{
		"where":  t.Where.Raw(),
		"select": t.Select.Raw(),
		"sort":   rawSort(t.Sort),
		"skip":   t.Skip,
		"limit":  t.Limit,
	}
	if t.From != "" {
		out["from"] = t.From
	}
	return out
}

// Raw renders the where clause. where:false renders as false.
func (w Where) Raw() any {
	if w.None {
		return false
	}
	out := make(map[string]any, len(w.Attrs)+2)
	for attr, p := range w.Attrs {
		out[attr] = rawPredicate(p)
	}
	if len(w.And) > 0 {
		out["and"] = rawBranches(w.And)
	}
	if len(w.Or) > 0 {
		out["or"] = rawBranches(w.Or)
	}
	return out
}

func rawBranches(ws []Where) []any {
	out := make([]any, len(ws))
	for i, w := range ws {
		out[i] = w.Raw()
	}
	return out
}

func rawPredicate(p Predicate) any {
	switch pv := p.(type) {
	case Literal:
		return ir.ToNative(pv.Value)
	case Comparison:
		out := make(map[string]any, len(pv.Ops))
		for op, v := range pv.Ops {
			out[string(op)] = ir.ToNative(v)
		}
		return out
	case Subquery:
		out := map[string]any{
			"whose": pv.Whose.Raw(),
			"min":   pv.Min,
		}
		if pv.Max != nil {
			out["max"] = *pv.Max
		}
		return out
	}
	return nil
}

// Raw renders the select clause.
func (s Select) Raw() map[string]any {
	out := make(map[string]any, len(s))
	for attr, p := range s {
		if p.Nested != nil {
			out[attr] = p.Nested.Raw()
		} else if p.Scalar {
			out[attr] = true
		}
	}
	return out
}

func rawSort(keys []SortKey) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		dir := "ASC"
		if k.Desc {
			dir = "DESC"
		}
		out[i] = map[string]any{k.Attr: dir}
	}
	return out
}
