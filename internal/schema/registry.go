package schema

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/stitcherr"
)

// JunctionPrimaryKey is the primary key attribute of junction entities.
const JunctionPrimaryKey = "id"

// Registry holds every entity and, once finalized, every resolved
// association. It satisfies criteria.Lookup.
type Registry struct {
	entities     map[string]*Entity
	associations map[string]map[string]*Association
	finalized    bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entities:     make(map[string]*Entity),
		associations: make(map[string]map[string]*Association),
	}
}

// Add validates and registers an entity. Adding after Finalize is an error.
func (r *Registry) Add(e *Entity) error {
	if r.finalized {
		return stitcherr.New(stitcherr.KindInvalidSchema, "registry is finalized").WithEntity(e.Identity)
	}
	if err := e.Validate(); err != nil {
		return stitcherr.Wrap(stitcherr.KindInvalidSchema, err, "invalid entity").WithEntity(e.Identity)
	}
	if _, exists := r.entities[e.Identity]; exists {
		return stitcherr.New(stitcherr.KindInvalidSchema, "entity defined twice").WithEntity(e.Identity)
	}
	r.entities[e.Identity] = e
	return nil
}

// Finalize classifies every association and synthesizes junction
// entities. Associations naming a missing entity stay unresolved.
func (r *Registry) Finalize() error {
	if r.finalized {
		return nil
	}
	for _, id := range slices.Sorted(maps.Keys(r.entities)) {
		e := r.entities[id]
		if e.Junction {
			continue
		}
		for _, name := range e.AttributeNames() {
			a := e.Attributes[name]
			if !a.IsAssociation() {
				continue
			}
			assoc, err := r.classify(e, a)
			if err != nil {
				return stitcherr.Wrap(stitcherr.KindInvalidSchema, err, "association %s.%s", e.Identity, name).WithEntity(e.Identity)
			}
			if assoc == nil {
				continue
			}
			if r.associations[e.Identity] == nil {
				r.associations[e.Identity] = make(map[string]*Association)
			}
			r.associations[e.Identity][name] = assoc
		}
	}
	r.finalized = true
	return nil
}

// classify derives the single shape of an association. It returns nil when
// the related entity is not registered.
func (r *Registry) classify(parent *Entity, a *Attribute) (*Association, error) {
	if a.Model != "" {
		if _, ok := r.entities[a.Model]; !ok {
			return nil, nil
		}
		return &Association{
			Parent:   parent.Identity,
			AttrName: a.Name,
			Related:  a.Model,
			Shape:    ShapeHasFK,
			FKKey:    a.Key(),
		}, nil
	}

	related, ok := r.entities[a.Collection]
	if !ok {
		return nil, nil
	}
	assoc := &Association{Parent: parent.Identity, AttrName: a.Name, Related: related.Identity}

	if a.Via == "" {
		assoc.Shape = ShapeViaJunction
		assoc.ParentColumn = parent.Identity + "_" + a.Name
		assoc.RelatedColumn = related.Identity
		assoc.Junction = assoc.ParentColumn + "__" + related.Identity
		r.ensureJunction(assoc.Junction, parent, related, assoc.ParentColumn, assoc.RelatedColumn)
		return assoc, nil
	}

	inverse, ok := related.Attributes[a.Via]
	if !ok {
		return nil, fmt.Errorf("via %q is not an attribute of %s", a.Via, related.Identity)
	}
	switch {
	case inverse.Model == parent.Identity:
		assoc.Shape = ShapeViaFK
		assoc.FKKey = inverse.Key()
		return assoc, nil

	case inverse.Collection == parent.Identity && inverse.Via == a.Name:
		if related.Identity == parent.Identity && a.Via == a.Name {
			return nil, fmt.Errorf("many-to-many association cannot be its own inverse")
		}
		assoc.Shape = ShapeManyToMany
		assoc.ParentColumn = parent.Identity + "_" + a.Name
		assoc.RelatedColumn = related.Identity + "_" + a.Via

		sides := []string{assoc.ParentColumn, assoc.RelatedColumn}
		slices.Sort(sides)
		assoc.Junction = strings.Join(sides, "__")

		owner, other := parent, related
		if sides[0] != assoc.ParentColumn {
			owner, other = related, parent
		}
		r.ensureJunction(assoc.Junction, owner, other, sides[0], sides[1])
		return assoc, nil
	}
	return nil, fmt.Errorf("via %q on %s does not point back at %s", a.Via, related.Identity, parent.Identity)
}

// ensureJunction registers a junction entity once. Its datastore is the
// first side's.
func (r *Registry) ensureJunction(identity string, first, second *Entity, firstColumn, secondColumn string) {
	if _, ok := r.entities[identity]; ok {
		return
	}
	pkType := func(e *Entity) AttrType {
		if pk, ok := e.Attributes[e.PrimaryKey]; ok {
			return pk.Type
		}
		return TypeString
	}
	r.entities[identity] = &Entity{
		Identity:   identity,
		Datastore:  first.Datastore,
		PrimaryKey: JunctionPrimaryKey,
		Junction:   true,
		Attributes: map[string]*Attribute{
			JunctionPrimaryKey: {Name: JunctionPrimaryKey, Type: TypeString},
			firstColumn:        {Name: firstColumn, Type: pkType(first), Required: true},
			secondColumn:       {Name: secondColumn, Type: pkType(second), Required: true},
		},
	}
}

// Entity returns the entity with the given identity.
func (r *Registry) Entity(identity string) (*Entity, bool) {
	e, ok := r.entities[identity]
	return e, ok
}

// Entities returns every entity sorted by identity, junctions included.
func (r *Registry) Entities() []*Entity {
	out := make([]*Entity, 0, len(r.entities))
	for _, id := range slices.Sorted(maps.Keys(r.entities)) {
		out = append(out, r.entities[id])
	}
	return out
}

// PrimaryKey implements criteria.Lookup.
func (r *Registry) PrimaryKey(entity string) (string, bool) {
	e, ok := r.entities[entity]
	if !ok {
		return "", false
	}
	return e.PrimaryKey, true
}

// Related implements criteria.Lookup. It only answers for resolved
// associations.
func (r *Registry) Related(entity, attr string) (string, bool) {
	a, ok := r.Association(entity, attr)
	if !ok {
		return "", false
	}
	return a.Related, true
}

// Association returns the resolved association for (entity, attr).
func (r *Registry) Association(entity, attr string) (*Association, bool) {
	a, ok := r.associations[entity][attr]
	return a, ok
}

// IsAssociation reports whether attr is declared as an association on
// entity, resolved or not.
func (r *Registry) IsAssociation(entity, attr string) bool {
	e, ok := r.entities[entity]
	if !ok {
		return false
	}
	a, ok := e.Attributes[attr]
	return ok && a.IsAssociation()
}

// LinkRecord builds the junction row linking a parent to a related record.
// The row id is derived from both keys, so linking twice is idempotent and
// both sides of a many-to-many association produce the same row.
func (a *Association) LinkRecord(parentPK, relatedPK ir.IRValue) ir.IRObject {
	row := ir.IRObject{
		a.ParentColumn:  parentPK,
		a.RelatedColumn: relatedPK,
	}
	cols := []string{a.ParentColumn, a.RelatedColumn}
	slices.Sort(cols)
	row[JunctionPrimaryKey] = ir.IRString(ir.Key(row[cols[0]]) + "|" + ir.Key(row[cols[1]]))
	return row
}
