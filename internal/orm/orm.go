// Package orm is the caller-facing entry point of stitch.
//
// An ORM binds a schema registry to named datastores. Queries are normalized,
// executed by the batch engine and returned as assembled records; mutations
// go straight to the datastore owning the entity. There is no global state:
// every operation goes through an *ORM value.
package orm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/stitch/internal/adapter"
	"github.com/roach88/stitch/internal/criteria"
	"github.com/roach88/stitch/internal/engine"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/logging"
	"github.com/roach88/stitch/internal/schema"
	"github.com/roach88/stitch/internal/stitcherr"
)

// ORM is safe for concurrent use. Registering a datastore while queries run
// is allowed; running queries keep the datastores they started with.
type ORM struct {
	reg          *schema.Registry
	defaultLimit int
	engineOpts   []engine.Option

	mu         sync.RWMutex
	datastores map[string]adapter.Adapter
	engine     *engine.Engine
}

// Option configures an ORM.
type Option func(*ORM)

// WithDefaultLimit sets the limit of queries that give none.
func WithDefaultLimit(n int) Option {
	return func(o *ORM) {
		o.defaultLimit = n
	}
}

// WithEngineOptions passes options to the batch engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *ORM) {
		o.engineOpts = append(o.engineOpts, opts...)
	}
}

// New creates an ORM over reg with no datastores.
func New(reg *schema.Registry, opts ...Option) *ORM {
	o := &ORM{
		reg:          reg,
		defaultLimit: criteria.DefaultLimit,
		datastores:   make(map[string]adapter.Adapter),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.engine = engine.New(reg, o.datastores, o.engineOpts...)
	return o
}

// Registry returns the schema registry.
func (o *ORM) Registry() *schema.Registry { return o.reg }

// RegisterDatastore assigns a to the datastore name entities refer to.
// Registering the same name twice is an error.
func (o *ORM) RegisterDatastore(name string, a adapter.Adapter) error {
	if a == nil {
		return fmt.Errorf("datastore %q: nil adapter", name)
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.datastores[name]; exists {
		return fmt.Errorf("datastore %q already registered", name)
	}
	o.datastores[name] = a
	o.engine = engine.New(o.reg, o.datastores, o.engineOpts...)

	logging.Debug().Str("datastore", name).Str("kind", a.Kind()).Msg("datastore registered")
	return nil
}

// Datastore returns the adapter registered under name.
func (o *ORM) Datastore(name string) (adapter.Adapter, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.datastores[name]
	return a, ok
}

// Datastores returns the registered datastore names mapped to their kinds.
func (o *ORM) Datastores() map[string]string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]string, len(o.datastores))
	for name, a := range o.datastores {
		out[name] = a.Kind()
	}
	return out
}

// Close closes every datastore that holds resources. All errors are
// returned joined; the ORM must not be used afterwards.
func (o *ORM) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var errs []error
	for name, a := range o.datastores {
		if c, ok := a.(adapter.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close datastore %q: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (o *ORM) currentEngine() *engine.Engine {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.engine
}

// Normalize turns raw query input into a criteria tree. from names the
// target entity and may be empty when raw carries a "from" key.
func (o *ORM) Normalize(from string, raw any) (*criteria.Tree, error) {
	tree, err := criteria.Normalize(raw, o.reg, criteria.WithFrom(from), criteria.WithDefaultLimit(o.defaultLimit))
	if err != nil {
		return nil, err
	}
	if tree.From == "" {
		return nil, stitcherr.New(stitcherr.KindMalformedQuery, "query names no entity")
	}
	return tree, nil
}

// Find runs a query and returns the assembled records.
func (o *ORM) Find(ctx context.Context, from string, raw any) ([]ir.IRObject, error) {
	res, err := o.Explain(ctx, from, raw)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// FindOne runs a query expected to match at most one record. ok is false
// when nothing matches; more than one match is a KindMalformedQuery error.
func (o *ORM) FindOne(ctx context.Context, from string, raw any) (record ir.IRObject, ok bool, err error) {
	tree, err := o.Normalize(from, raw)
	if err != nil {
		return nil, false, err
	}
	tree.Skip = 0
	tree.Limit = 2

	res, err := o.currentEngine().Execute(ctx, tree)
	if err != nil {
		return nil, false, err
	}
	switch len(res.Records) {
	case 0:
		return nil, false, nil
	case 1:
		return res.Records[0], true, nil
	}
	return nil, false, stitcherr.New(stitcherr.KindMalformedQuery,
		"more than one record matches").WithEntity(tree.From)
}

// Explain runs a query and returns the full execution result, including
// the heap buffer summary.
func (o *ORM) Explain(ctx context.Context, from string, raw any) (*engine.Result, error) {
	tree, err := o.Normalize(from, raw)
	if err != nil {
		return nil, err
	}
	return o.currentEngine().Execute(ctx, tree)
}
