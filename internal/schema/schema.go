// Package schema describes entities, their attributes and how their
// associations are shaped.
//
// Entities are usually compiled from CUE (see LoadDir) into a Registry.
// Registry.Finalize classifies every association into exactly one Shape and
// synthesizes the junction entities that to-many-through-junction shapes
// need. An association whose related entity is missing is left
// unresolved rather than rejected; queries treat it as always empty.
package schema

import (
	"fmt"
	"maps"
	"slices"
)

// AttrType is the storage type of a scalar attribute.
type AttrType string

const (
	TypeString  AttrType = "string"
	TypeInteger AttrType = "integer"
	TypeBoolean AttrType = "boolean"
	// TypeJSON holds arrays and objects.
	TypeJSON AttrType = "json"
)

// ValidType reports whether t is a known scalar type.
func ValidType(t AttrType) bool {
	switch t {
	case TypeString, TypeInteger, TypeBoolean, TypeJSON:
		return true
	}
	return false
}

// Attribute describes one attribute of an entity. Exactly one of Type,
// Model and Collection is meaningful.
type Attribute struct {
	Name string

	// Type is set for scalar attributes.
	Type AttrType

	// Model names the related entity of a to-one association. The record
	// holds the related primary key under Key().
	Model string

	// Collection names the related entity of a to-many association.
	Collection string

	// Via names the inverse attribute on the related entity.
	Via string

	// ColumnName overrides the storage column (and, for Model attributes,
	// the record key holding the foreign key).
	ColumnName string

	Required bool
}

// IsAssociation reports whether a is a model or collection attribute.
func (a *Attribute) IsAssociation() bool {
	return a.Model != "" || a.Collection != ""
}

// IsCollection reports whether a is a to-many association. Collection
// attributes are never stored on the record.
func (a *Attribute) IsCollection() bool {
	return a.Collection != ""
}

// Column returns the storage column name.
func (a *Attribute) Column() string {
	if a.ColumnName != "" {
		return a.ColumnName
	}
	return a.Name
}

// Key returns the record key an attribute's stored value lives under.
// Model attributes store their foreign key under the column name, so the
// attribute name stays free for the populated record.
func (a *Attribute) Key() string {
	if a.Model != "" {
		return a.Column()
	}
	return a.Name
}

// Entity is a named record type living in one datastore.
type Entity struct {
	Identity   string
	Datastore  string
	PrimaryKey string
	Attributes map[string]*Attribute

	// Junction is true for entities synthesized by Finalize.
	Junction bool
}

// Attribute returns the named attribute.
func (e *Entity) Attribute(name string) (*Attribute, bool) {
	a, ok := e.Attributes[name]
	return a, ok
}

// AttributeNames returns every attribute name, sorted.
func (e *Entity) AttributeNames() []string {
	return slices.Sorted(maps.Keys(e.Attributes))
}

// StoredAttributes returns the attributes a record physically holds
// (scalars and model foreign keys), sorted by name.
func (e *Entity) StoredAttributes() []*Attribute {
	var out []*Attribute
	for _, name := range e.AttributeNames() {
		a := e.Attributes[name]
		if a.IsCollection() {
			continue
		}
		out = append(out, a)
	}
	return out
}

// StoredType returns the storage type of a stored attribute. Model
// attributes take the type of the related primary key when known.
func (e *Entity) StoredType(a *Attribute, reg *Registry) AttrType {
	if a.Model == "" {
		return a.Type
	}
	if reg != nil {
		if related, ok := reg.Entity(a.Model); ok {
			if pk, ok := related.Attributes[related.PrimaryKey]; ok {
				return pk.Type
			}
		}
	}
	return TypeString
}

// KeyFor maps an attribute name to its record key. Unknown names map to
// themselves.
func (e *Entity) KeyFor(name string) string {
	if a, ok := e.Attributes[name]; ok {
		return a.Key()
	}
	return name
}

// Validate checks the entity in isolation.
func (e *Entity) Validate() error {
	if e.Identity == "" {
		return fmt.Errorf("entity identity is required")
	}
	if e.PrimaryKey == "" {
		return fmt.Errorf("entity %s: primaryKey is required", e.Identity)
	}
	pk, ok := e.Attributes[e.PrimaryKey]
	if !ok {
		return fmt.Errorf("entity %s: primary key %q is not an attribute", e.Identity, e.PrimaryKey)
	}
	if pk.IsAssociation() {
		return fmt.Errorf("entity %s: primary key %q cannot be an association", e.Identity, e.PrimaryKey)
	}

	keys := make(map[string]string, len(e.Attributes))
	for _, name := range e.AttributeNames() {
		a := e.Attributes[name]
		switch {
		case a.Model != "" && a.Collection != "":
			return fmt.Errorf("entity %s: attribute %s cannot be both model and collection", e.Identity, name)
		case a.Via != "" && a.Collection == "":
			return fmt.Errorf("entity %s: attribute %s: via requires collection", e.Identity, name)
		case !a.IsAssociation() && !ValidType(a.Type):
			return fmt.Errorf("entity %s: attribute %s: unknown type %q", e.Identity, name, a.Type)
		}
		if a.IsCollection() {
			continue
		}
		if other, taken := keys[a.Key()]; taken {
			return fmt.Errorf("entity %s: attributes %s and %s share record key %q", e.Identity, other, name, a.Key())
		}
		keys[a.Key()] = name
	}
	return nil
}

// Shape classifies an association.
type Shape int

const (
	// ShapeHasFK is a to-one association; the parent record holds the FK.
	ShapeHasFK Shape = iota + 1

	// ShapeViaJunction is a one-way to-many association through a
	// synthesized junction entity.
	ShapeViaJunction

	// ShapeViaFK is a to-many association whose related records hold a FK
	// back to the parent.
	ShapeViaFK

	// ShapeManyToMany is a two-way many-to-many association through a
	// junction entity shared by both sides.
	ShapeManyToMany
)

func (s Shape) String() string {
	switch s {
	case ShapeHasFK:
		return "has-fk"
	case ShapeViaJunction:
		return "via-junction"
	case ShapeViaFK:
		return "via-fk"
	case ShapeManyToMany:
		return "many-to-many"
	}
	return fmt.Sprintf("Shape(%d)", int(s))
}

// Association is the resolved shape of one (entity, attribute) pair.
type Association struct {
	Parent   string
	AttrName string
	Related  string
	Shape    Shape

	// FKKey is the record key holding the foreign key: on the parent for
	// ShapeHasFK, on the related entity for ShapeViaFK.
	FKKey string

	// Junction names the junction entity for junction shapes.
	Junction string

	// ParentColumn and RelatedColumn are the junction keys holding the
	// parent and related primary keys.
	ParentColumn  string
	RelatedColumn string
}

// IsToMany reports whether the association attaches a list.
func (a *Association) IsToMany() bool {
	return a.Shape != ShapeHasFK
}
