package orm

import (
	"fmt"

	"github.com/roach88/stitch/internal/adapter"
	"github.com/roach88/stitch/internal/adapter/kvstore"
	"github.com/roach88/stitch/internal/adapter/memstore"
	"github.com/roach88/stitch/internal/adapter/sqlstore"
	"github.com/roach88/stitch/internal/config"
	"github.com/roach88/stitch/internal/engine"
	"github.com/roach88/stitch/internal/schema"
)

// Open builds an ORM from configuration: engine tuning, default limit and
// one adapter per declared datastore. opts apply after the configuration.
// On error every adapter opened so far is closed.
func Open(cfg *config.Config, reg *schema.Registry, opts ...Option) (*ORM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := New(reg, append([]Option{
		WithDefaultLimit(cfg.Engine.DefaultLimit),
		WithEngineOptions(
			engine.WithBatchSize(cfg.Engine.BatchSize),
			engine.WithConcurrency(cfg.Engine.Concurrency),
			engine.WithMaxFetches(cfg.Engine.MaxFetches),
		),
	}, opts...)...)
	for _, ds := range cfg.Datastores {
		a, err := OpenDatastore(ds)
		if err != nil {
			o.Close()
			return nil, err
		}
		if err := o.RegisterDatastore(ds.Name, a); err != nil {
			if c, ok := a.(adapter.Closer); ok {
				c.Close()
			}
			o.Close()
			return nil, err
		}
	}
	return o, nil
}

// OpenDatastore opens the adapter a datastore declaration describes. An
// empty path keeps sqlite and badger stores in memory.
func OpenDatastore(ds config.DatastoreConfig) (adapter.Adapter, error) {
	switch ds.Kind {
	case config.KindSQLite:
		path := ds.Path
		if path == "" {
			path = ":memory:"
		}
		s, err := sqlstore.Open(path)
		if err != nil {
			return nil, fmt.Errorf("datastore %q: %w", ds.Name, err)
		}
		return s, nil
	case config.KindBadger:
		s, err := kvstore.Open(kvstore.Options{Dir: ds.Path, InMemory: ds.Path == ""})
		if err != nil {
			return nil, fmt.Errorf("datastore %q: %w", ds.Name, err)
		}
		return s, nil
	case config.KindMemory:
		s, err := memstore.New()
		if err != nil {
			return nil, fmt.Errorf("datastore %q: %w", ds.Name, err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("datastore %q: unknown kind %q", ds.Name, ds.Kind)
}
