package rule

import "github.com/roach88/stitch/internal/ir"

// newViaFK builds the rule of a to-many association whose related records
// point back at the parent through the inverse model attribute via.
func newViaFK(b base, via string) *linkRule {
	fk := b.assoc.FKKey
	return &linkRule{
		base:      b,
		fetchAttr: via,
		parentLinks: func(p ir.IRObject) []ir.IRValue {
			return []ir.IRValue{b.parentPK(p)}
		},
		childLink: func(c ir.IRObject) ir.IRValue {
			return c.Get(fk)
		},
	}
}
