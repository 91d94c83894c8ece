package rule

import (
	"github.com/roach88/stitch/internal/criteria"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/schema"
)

// junctionRule is the rule of a to-many association stored in a junction
// entity (one-way collections and many-to-many). Its links are the junction
// rows given to WithLinks.
type junctionRule struct {
	*linkRule
	junction *schema.Entity
}

var _ Linker = (*junctionRule)(nil)

func newJunction(b base, junction *schema.Entity, rows []ir.IRObject) *junctionRule {
	parentCol, relatedCol := b.assoc.ParentColumn, b.assoc.RelatedColumn

	links := make(map[string][]ir.IRValue)
	for _, row := range rows {
		from, to := row.Get(parentCol), row.Get(relatedCol)
		if ir.IsNull(from) || ir.IsNull(to) {
			continue
		}
		k := ir.Key(from)
		links[k] = append(links[k], to)
	}

	return &junctionRule{
		linkRule: &linkRule{
			base:      b,
			fetchAttr: b.related.PrimaryKey,
			parentLinks: func(p ir.IRObject) []ir.IRValue {
				pk := b.parentPK(p)
				if ir.IsNull(pk) {
					return nil
				}
				return links[ir.Key(pk)]
			},
			childLink: b.relatedPK,
		},
		junction: junction,
	}
}

func (r *junctionRule) Junction() *schema.Entity { return r.junction }

func (r *junctionRule) LinkCriteria(parents []ir.IRObject) *criteria.Tree {
	pks := ir.IRArray{}
	seen := make(map[string]struct{})
	for _, p := range parents {
		pk := r.parentPK(p)
		if ir.IsNull(pk) {
			continue
		}
		if _, dup := seen[ir.Key(pk)]; dup {
			continue
		}
		seen[ir.Key(pk)] = struct{}{}
		pks = append(pks, pk)
	}
	return &criteria.Tree{
		From: r.junction.Identity,
		Where: criteria.Where{Attrs: map[string]criteria.Predicate{
			r.assoc.ParentColumn: criteria.Literal{Value: pks},
		}},
		Select: criteria.Select{},
		Sort:   []criteria.SortKey{{Attr: schema.JunctionPrimaryKey}},
		Limit:  criteria.Unbounded,
	}
}

func (r *junctionRule) WithLinks(rows []ir.IRObject) Rule {
	return newJunction(r.base, r.junction, rows)
}
