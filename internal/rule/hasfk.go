package rule

import "github.com/roach88/stitch/internal/ir"

// newHasFK builds the rule of a to-one association. The parent record holds
// the related primary key under the association's FK key, so each parent
// links to at most one related record.
func newHasFK(b base) *linkRule {
	fk := b.assoc.FKKey
	return &linkRule{
		base:      b,
		fetchAttr: b.related.PrimaryKey,
		parentLinks: func(p ir.IRObject) []ir.IRValue {
			return []ir.IRValue{p.Get(fk)}
		},
		childLink: b.relatedPK,
	}
}
