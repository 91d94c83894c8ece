package adapter

import (
	"github.com/google/uuid"

	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/schema"
	"github.com/roach88/stitch/internal/stitcherr"
)

// Prepare validates a record against entity and returns it in stored form:
// keyed by record keys, every stored key present (absent ones null).
// A model attribute given under its attribute name is moved to its key.
func Prepare(entity *schema.Entity, record ir.IRObject) (ir.IRObject, error) {
	out := make(ir.IRObject, len(entity.Attributes))
	for _, a := range entity.StoredAttributes() {
		out[a.Key()] = ir.IRNull{}
	}

	for _, k := range record.SortedKeys() {
		v := record[k]
		a, ok := attributeFor(entity, k)
		if !ok {
			return nil, stitcherr.New(stitcherr.KindMalformedQuery,
				"unknown attribute %q", k).WithEntity(entity.Identity)
		}
		if err := checkType(entity, a, v); err != nil {
			return nil, err
		}
		out[a.Key()] = v
	}

	for _, a := range entity.StoredAttributes() {
		if a.Required && ir.IsNull(out[a.Key()]) && a.Name != entity.PrimaryKey {
			return nil, stitcherr.New(stitcherr.KindMalformedQuery,
				"attribute %q is required", a.Name).WithEntity(entity.Identity)
		}
	}
	return out, nil
}

// PrepareValues validates an update. Unlike Prepare, absent keys stay
// absent and the primary key cannot be changed.
func PrepareValues(entity *schema.Entity, values ir.IRObject) (ir.IRObject, error) {
	out := make(ir.IRObject, len(values))
	for _, k := range values.SortedKeys() {
		a, ok := attributeFor(entity, k)
		if !ok {
			return nil, stitcherr.New(stitcherr.KindMalformedQuery,
				"unknown attribute %q", k).WithEntity(entity.Identity)
		}
		if a.Name == entity.PrimaryKey {
			return nil, stitcherr.New(stitcherr.KindMalformedQuery,
				"primary key %q cannot be updated", k).WithEntity(entity.Identity)
		}
		if err := checkType(entity, a, values[k]); err != nil {
			return nil, err
		}
		out[a.Key()] = values[k]
	}
	return out, nil
}

// AssignKey fills a null primary key. Integer keys take next; string keys
// get a UUIDv7.
func AssignKey(entity *schema.Entity, record ir.IRObject, next func() int64) error {
	if !ir.IsNull(record.Get(entity.PrimaryKey)) {
		return nil
	}
	switch entity.Attributes[entity.PrimaryKey].Type {
	case schema.TypeInteger:
		record[entity.PrimaryKey] = ir.IRInt(next())
	case schema.TypeString:
		id, err := uuid.NewV7()
		if err != nil {
			return stitcherr.Wrap(stitcherr.KindAdapter, err, "generating key").WithEntity(entity.Identity)
		}
		record[entity.PrimaryKey] = ir.IRString(id.String())
	default:
		return stitcherr.New(stitcherr.KindMalformedQuery,
			"primary key %q is required", entity.PrimaryKey).WithEntity(entity.Identity)
	}
	return nil
}

// MaxIntKey returns the largest integer primary key among records, or 0.
func MaxIntKey(entity *schema.Entity, records []ir.IRObject) int64 {
	var max int64
	for _, r := range records {
		if i, ok := r.Get(entity.PrimaryKey).(ir.IRInt); ok && int64(i) > max {
			max = int64(i)
		}
	}
	return max
}

// attributeFor resolves a record key or a stored attribute name.
func attributeFor(entity *schema.Entity, key string) (*schema.Attribute, bool) {
	for _, a := range entity.StoredAttributes() {
		if a.Key() == key {
			return a, true
		}
	}
	a, ok := entity.Attributes[key]
	if !ok || a.IsCollection() {
		return nil, false
	}
	return a, true
}

func checkType(entity *schema.Entity, a *schema.Attribute, v ir.IRValue) error {
	if ir.IsNull(v) {
		return nil
	}
	var ok bool
	switch entity.StoredType(a, nil) {
	case schema.TypeString:
		_, ok = v.(ir.IRString)
		if a.Model != "" {
			_, isInt := v.(ir.IRInt)
			ok = ok || isInt
		}
	case schema.TypeInteger:
		_, ok = v.(ir.IRInt)
	case schema.TypeBoolean:
		_, ok = v.(ir.IRBool)
	case schema.TypeJSON:
		ok = true
	}
	if !ok {
		return stitcherr.New(stitcherr.KindMalformedQuery,
			"attribute %q expects %s, got %T", a.Name, entity.StoredType(a, nil), v).WithEntity(entity.Identity)
	}
	return nil
}
