package engine

import (
	"context"
	"maps"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/stitch/internal/adapter"
	"github.com/roach88/stitch/internal/cache"
	"github.com/roach88/stitch/internal/criteria"
	"github.com/roach88/stitch/internal/heap"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/logging"
	"github.com/roach88/stitch/internal/schema"
	"github.com/roach88/stitch/internal/stitcherr"
)

// Defaults for the executor tuning knobs.
const (
	DefaultBatchSize   = 100
	DefaultConcurrency = 4
)

// Engine executes criteria trees against a set of named datastores.
//
// An Engine holds no per-query state; every Execute call gets its own heap,
// cache, clock and quota. It is safe for concurrent use as long as the
// registry and the datastore map are not modified.
type Engine struct {
	reg        *schema.Registry
	datastores map[string]adapter.Adapter
	ids        IDGenerator

	batchSize   int
	concurrency int
	maxFetches  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithBatchSize sets the page size used when a node pages through its
// datastore. Values <= 0 are ignored.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithConcurrency bounds how many sibling branches of one node run at once.
// Values <= 0 are ignored.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithMaxFetches sets the fetch quota of one execution.
//
// Default: 10000 fetches (DefaultMaxFetches)
// Use WithMaxFetches(0) to disable the quota.
func WithMaxFetches(n int) Option {
	return func(e *Engine) {
		e.maxFetches = n
	}
}

// WithIDGenerator replaces the UUIDv7 execution ID generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// New creates an Engine. datastores maps the datastore names entities are
// assigned to onto their adapters; the map is copied.
func New(reg *schema.Registry, datastores map[string]adapter.Adapter, opts ...Option) *Engine {
	e := &Engine{
		reg:         reg,
		datastores:  make(map[string]adapter.Adapter, len(datastores)),
		ids:         UUIDv7Generator{},
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		maxFetches:  DefaultMaxFetches,
	}
	maps.Copy(e.datastores, datastores)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BatchSize returns the paging size.
func (e *Engine) BatchSize() int { return e.batchSize }

// Concurrency returns the sibling fan-out limit.
func (e *Engine) Concurrency() int { return e.concurrency }

// MaxFetches returns the fetch quota of one execution.
func (e *Engine) MaxFetches() int { return e.maxFetches }

// finder returns the Finder serving entity, if its datastore has one.
func (e *Engine) finder(entity *schema.Entity) (adapter.Finder, bool) {
	a, ok := e.datastores[entity.Datastore]
	if !ok {
		return nil, false
	}
	f, ok := a.(adapter.Finder)
	return f, ok
}

// Result is the outcome of one execution.
type Result struct {
	ExecutionID string

	// Records are the assembled root records with populated associations
	// attached.
	Records []ir.IRObject

	// Fetches is the number of adapter calls issued.
	Fetches int64

	// Buffers describes every heap buffer in allocation order.
	Buffers []heap.Info
}

// execution is the state of one Execute call. Nothing in it outlives the
// call.
type execution struct {
	e     *Engine
	id    string
	heap  *heap.Heap
	cache *cache.Cache
	clock *Clock
	quota *FetchQuota
	log   *zerolog.Logger
}

// Execute runs tree and returns the assembled records of its root entity.
//
// Errors:
//   - KindUnknownEntity: tree.From is not registered
//   - KindMissingCapability: the root datastore cannot find
//   - KindAdapter: a fetch failed (wraps the adapter error)
//   - KindQuotaExceeded: the execution issued more than MaxFetches fetches
//   - the context error when ctx is cancelled
//
// On error nothing partial is returned.
func (e *Engine) Execute(ctx context.Context, tree *criteria.Tree) (*Result, error) {
	if tree == nil {
		return nil, stitcherr.New(stitcherr.KindMalformedQuery, "nil criteria tree")
	}
	root, ok := e.reg.Entity(tree.From)
	if !ok {
		return nil, stitcherr.New(stitcherr.KindUnknownEntity, "unknown entity %q", tree.From).WithEntity(tree.From)
	}
	if _, ok := e.finder(root); !ok {
		return nil, stitcherr.New(stitcherr.KindMissingCapability,
			"datastore %q cannot serve queries", root.Datastore).WithEntity(root.Identity)
	}

	ctx, x := e.newExecution(ctx)
	start := time.Now()
	n, err := x.run(ctx, root.Identity, root, tree)
	if err != nil {
		x.log.Debug().Err(err).Int64("fetches", x.clock.Current()).Msg("execution aborted")
		return nil, err
	}

	x.cache.Wipe(root.Identity).Push(root.Identity, x.integrate(n)...)
	records := x.cache.Get(root.Identity)

	x.log.Debug().
		Str("entity", root.Identity).
		Int("records", len(records)).
		Int64("fetches", x.clock.Current()).
		Int("buffers", x.heap.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("execution complete")

	return &Result{
		ExecutionID: x.id,
		Records:     records,
		Fetches:     x.clock.Current(),
		Buffers:     x.heap.Summary(),
	}, nil
}

func (e *Engine) newExecution(ctx context.Context) (context.Context, *execution) {
	id := e.ids.Generate()
	ctx, log := logging.WithExecution(ctx, id)
	return ctx, &execution{
		e:     e,
		id:    id,
		heap:  heap.New(),
		cache: cache.New(),
		clock: NewClock(),
		quota: NewFetchQuota(e.maxFetches),
		log:   log,
	}
}

// find issues one adapter fetch. identity is the buffer the page is meant
// for and only feeds logs and errors.
func (x *execution) find(ctx context.Context, identity string, entity *schema.Entity, q adapter.Query) ([]ir.IRObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seq := x.clock.Next()
	if err := x.quota.Check(x.id, seq); err != nil {
		return nil, err
	}

	f, ok := x.e.finder(entity)
	if !ok {
		return nil, stitcherr.New(stitcherr.KindMissingCapability,
			"datastore %q cannot serve queries", entity.Datastore).WithEntity(entity.Identity).WithIdentity(identity)
	}

	start := time.Now()
	records, err := f.Find(ctx, entity, q)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, stitcherr.Wrap(stitcherr.KindAdapter, err, "find").
			WithEntity(entity.Identity).WithIdentity(identity)
	}

	x.log.Debug().
		Int64("fetch", seq).
		Str("identity", identity).
		Str("entity", entity.Identity).
		Int("skip", q.Skip).
		Int("limit", q.Limit).
		Int("records", len(records)).
		Dur("elapsed", time.Since(start)).
		Msg("fetched")

	if records == nil {
		records = []ir.IRObject{}
	}
	return records, nil
}
