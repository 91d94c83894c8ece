package orm

import (
	"context"
	"errors"

	"github.com/roach88/stitch/internal/adapter"
	"github.com/roach88/stitch/internal/criteria"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/logging"
	"github.com/roach88/stitch/internal/schema"
	"github.com/roach88/stitch/internal/stitcherr"
)

// target resolves an entity and the adapter owning it.
func (o *ORM) target(identity string) (*schema.Entity, adapter.Adapter, error) {
	entity, ok := o.reg.Entity(identity)
	if !ok {
		return nil, nil, stitcherr.New(stitcherr.KindUnknownEntity, "unknown entity %q", identity).WithEntity(identity)
	}
	a, ok := o.Datastore(entity.Datastore)
	if !ok {
		return nil, nil, stitcherr.New(stitcherr.KindMissingCapability,
			"no datastore named %q", entity.Datastore).WithEntity(identity)
	}
	return entity, a, nil
}

func missing(entity *schema.Entity, a adapter.Adapter, capability string) error {
	return stitcherr.New(stitcherr.KindMissingCapability,
		"%s datastore %q cannot %s", a.Kind(), entity.Datastore, capability).WithEntity(entity.Identity)
}

// Create inserts one record and returns it as stored.
func (o *ORM) Create(ctx context.Context, entity string, record ir.IRObject) (ir.IRObject, error) {
	e, a, err := o.target(entity)
	if err != nil {
		return nil, err
	}
	c, ok := a.(adapter.Creator)
	if !ok {
		return nil, missing(e, a, "create")
	}
	return c.Create(ctx, e, record)
}

// CreateEach inserts records and returns them as stored. Datastores that
// support batches insert atomically; others insert one by one and stop at
// the first failure.
func (o *ORM) CreateEach(ctx context.Context, entity string, records []ir.IRObject) ([]ir.IRObject, error) {
	e, a, err := o.target(entity)
	if err != nil {
		return nil, err
	}
	if bc, ok := a.(adapter.BatchCreator); ok {
		return bc.CreateEach(ctx, e, records)
	}
	c, ok := a.(adapter.Creator)
	if !ok {
		return nil, missing(e, a, "create")
	}
	out := make([]ir.IRObject, 0, len(records))
	for _, r := range records {
		created, err := c.Create(ctx, e, r)
		if err != nil {
			return out, err
		}
		out = append(out, created)
	}
	return out, nil
}

// Link creates the junction row joining parentPK to relatedPK through the
// attr association of entity. Only junction associations can be linked.
func (o *ORM) Link(ctx context.Context, entity, attr string, parentPK, relatedPK ir.IRValue) (ir.IRObject, error) {
	assoc, ok := o.reg.Association(entity, attr)
	if !ok {
		return nil, stitcherr.New(stitcherr.KindUnresolvableReference,
			"%s.%s is not a resolved association", entity, attr).WithEntity(entity)
	}
	if assoc.Junction == "" {
		return nil, stitcherr.New(stitcherr.KindMalformedQuery,
			"%s.%s has no junction to link through", entity, attr).WithEntity(entity)
	}
	return o.Create(ctx, assoc.Junction, assoc.LinkRecord(parentPK, relatedPK))
}

// Update sets values on every record matching raw criteria and returns the
// updated records. Only the where clause of the criteria is used and it
// cannot contain subqueries.
func (o *ORM) Update(ctx context.Context, entity string, raw any, values ir.IRObject) ([]ir.IRObject, error) {
	e, a, err := o.target(entity)
	if err != nil {
		return nil, err
	}
	u, ok := a.(adapter.Updater)
	if !ok {
		return nil, missing(e, a, "update")
	}
	where, none, err := o.mutationWhere(e, raw)
	if err != nil || none {
		return []ir.IRObject{}, err
	}
	return u.Update(ctx, e, where, values)
}

// Destroy deletes every record matching raw criteria and returns them.
func (o *ORM) Destroy(ctx context.Context, entity string, raw any) ([]ir.IRObject, error) {
	e, a, err := o.target(entity)
	if err != nil {
		return nil, err
	}
	d, ok := a.(adapter.Destroyer)
	if !ok {
		return nil, missing(e, a, "destroy")
	}
	where, none, err := o.mutationWhere(e, raw)
	if err != nil || none {
		return []ir.IRObject{}, err
	}
	return d.Destroy(ctx, e, where)
}

// Define prepares storage for every entity whose datastore supports it.
// Entities assigned to an unregistered datastore are skipped.
func (o *ORM) Define(ctx context.Context) error {
	var errs []error
	for _, e := range o.reg.Entities() {
		a, ok := o.Datastore(e.Datastore)
		if !ok {
			logging.Warn().Str("entity", e.Identity).Str("datastore", e.Datastore).Msg("no datastore registered, skipping define")
			continue
		}
		d, ok := a.(adapter.Definer)
		if !ok {
			continue
		}
		if err := d.Define(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// mutationWhere normalizes mutation criteria into a flat, record-keyed
// where clause. none reports where:false.
func (o *ORM) mutationWhere(e *schema.Entity, raw any) (where criteria.Where, none bool, err error) {
	tree, err := o.Normalize(e.Identity, raw)
	if err != nil {
		return where, false, err
	}
	if tree.Where.None {
		return where, true, nil
	}
	if sq := tree.Where.Subqueries(); len(sq) > 0 {
		return where, false, stitcherr.New(stitcherr.KindMalformedQuery,
			"mutation criteria cannot filter on association %q", sq[0]).WithEntity(e.Identity)
	}
	return adapter.RecordWhere(e, tree.Where), false, nil
}
