package harness

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/roach88/stitch/internal/config"
	"github.com/roach88/stitch/internal/engine"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/orm"
	"github.com/roach88/stitch/internal/schema"
	"github.com/roach88/stitch/internal/stitcherr"
	"github.com/roach88/stitch/internal/testutil"
)

// Harness is the test execution engine for one scenario run.
// It owns a freshly opened ORM and deterministic execution IDs.
type Harness struct {
	orm    *orm.ORM
	logger zerolog.Logger
}

type options struct {
	kind   string
	logger zerolog.Logger
}

// Option configures a run.
type Option func(*options)

// WithDatastoreKind forces every datastore of the scenario to one kind,
// overriding the scenario's own declarations. Running a scenario under
// each kind checks the adapters agree.
func WithDatastoreKind(kind string) Option {
	return func(o *options) {
		o.kind = kind
	}
}

// WithLogger sets the logger executions log to. The default discards.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against fresh in-memory datastores, so runs are
// isolated and repeatable.
//
// Execution flow:
// 1. Compile the schema
// 2. Open one datastore per name the schema uses
// 3. Define storage and seed the fixtures
// 4. Run every query and check its expectations
//
// An error is returned when the scenario cannot be set up; failed
// expectations are reported in the Result instead.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	reg, err := CompileSchema(scenario)
	if err != nil {
		return nil, err
	}

	cfg := config.Default()
	if scenario.BatchSize > 0 {
		cfg.Engine.BatchSize = scenario.BatchSize
	}
	cfg.Datastores = datastores(scenario, reg, o.kind)

	ids := testutil.NewSequentialIDGenerator(scenario.Name)
	db, err := orm.Open(cfg, reg, orm.WithEngineOptions(engine.WithIDGenerator(ids)))
	if err != nil {
		return nil, fmt.Errorf("failed to open datastores: %w", err)
	}
	defer db.Close()

	h := &Harness{orm: db, logger: o.logger}
	ctx := h.logger.WithContext(context.Background())

	if err := db.Define(ctx); err != nil {
		return nil, fmt.Errorf("failed to define storage: %w", err)
	}
	if err := Seed(ctx, db, scenario.Fixtures); err != nil {
		return nil, fmt.Errorf("failed to seed fixtures: %w", err)
	}
	if err := SeedLinks(ctx, db, scenario.Links); err != nil {
		return nil, fmt.Errorf("failed to seed links: %w", err)
	}

	result := NewResult()
	for _, step := range scenario.Queries {
		outcome, problems := h.runQuery(ctx, step)
		result.Queries = append(result.Queries, outcome)
		for _, p := range problems {
			result.AddError(fmt.Sprintf("%s: %s", step.Name, p))
		}
	}
	return result, nil
}

// CompileSchema compiles a scenario's inline schema and schema files as
// one CUE source. Schema files must not declare a package.
func CompileSchema(scenario *Scenario) (*schema.Registry, error) {
	var src strings.Builder
	src.WriteString(scenario.Schema)
	for _, path := range scenario.SchemaFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file: %w", err)
		}
		src.WriteString("\n")
		src.Write(data)
	}
	return schema.CompileString(src.String(), scenario.Name+".cue")
}

// datastores lists one declaration per datastore name the schema or the
// scenario mentions, in name order. Paths stay empty so every store lives
// in memory.
func datastores(scenario *Scenario, reg *schema.Registry, forced string) []config.DatastoreConfig {
	kinds := make(map[string]string)
	for _, e := range reg.Entities() {
		kinds[e.Datastore] = config.KindMemory
	}
	for _, ds := range scenario.Datastores {
		kinds[ds.Name] = ds.Kind
	}

	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]config.DatastoreConfig, len(names))
	for i, name := range names {
		kind := kinds[name]
		if forced != "" {
			kind = forced
		}
		out[i] = config.DatastoreConfig{Name: name, Kind: kind}
	}
	return out
}

// Seed creates fixture records entity by entity, in entity name order.
func Seed(ctx context.Context, db *orm.ORM, fixtures Fixtures) error {
	entities := make([]string, 0, len(fixtures))
	for entity := range fixtures {
		entities = append(entities, entity)
	}
	slices.Sort(entities)

	for _, entity := range entities {
		records := make([]ir.IRObject, len(fixtures[entity]))
		for i, raw := range fixtures[entity] {
			rec, err := convertRecord(raw)
			if err != nil {
				return fmt.Errorf("%s[%d]: %w", entity, i, err)
			}
			records[i] = rec
		}
		if _, err := db.CreateEach(ctx, entity, records); err != nil {
			return fmt.Errorf("%s: %w", entity, err)
		}
	}
	return nil
}

// SeedLinks creates one junction row per link, in order.
func SeedLinks(ctx context.Context, db *orm.ORM, links []LinkStep) error {
	for i, l := range links {
		parent, err := ir.FromNative(l.Parent)
		if err != nil {
			return fmt.Errorf("links[%d].parent: %w", i, err)
		}
		related, err := ir.FromNative(l.Related)
		if err != nil {
			return fmt.Errorf("links[%d].related: %w", i, err)
		}
		if _, err := db.Link(ctx, l.Entity, l.Attr, parent, related); err != nil {
			return fmt.Errorf("links[%d]: %w", i, err)
		}
	}
	return nil
}

// runQuery executes one step and returns its outcome plus every failed
// expectation.
func (h *Harness) runQuery(ctx context.Context, step QueryStep) (QueryOutcome, []string) {
	outcome := QueryOutcome{Name: step.Name}

	res, err := h.orm.Explain(ctx, step.From, step.Query)
	if err != nil {
		kind, ok := stitcherr.KindOf(err)
		if !ok {
			return outcome, []string{fmt.Sprintf("unclassified error: %v", err)}
		}
		outcome.Error = string(kind)
		h.logger.Debug().Str("query", step.Name).Err(err).Msg("query failed")

		switch {
		case step.ExpectError == "":
			return outcome, []string{fmt.Sprintf("unexpected error: %v", err)}
		case step.ExpectError != outcome.Error:
			return outcome, []string{fmt.Sprintf("expected error %s, got %v", step.ExpectError, err)}
		}
		return outcome, nil
	}

	outcome.ExecutionID = res.ExecutionID
	outcome.Records = res.Records
	outcome.Fetches = res.Fetches
	for _, b := range res.Buffers {
		outcome.Buffers = append(outcome.Buffers, b.Identity)
	}

	var problems []string
	if step.ExpectError != "" {
		problems = append(problems, fmt.Sprintf("expected error %s, query succeeded", step.ExpectError))
	}
	if step.Expect != nil {
		if err := expectRecords(outcome.Records, step.Expect); err != nil {
			problems = append(problems, err.Error())
		}
	}
	problems = append(problems, EvaluateAssertions(outcome, step.Assertions)...)
	return outcome, problems
}

// convertRecord converts a YAML-parsed record to an IRObject.
func convertRecord(raw map[string]any) (ir.IRObject, error) {
	v, err := ir.FromNative(raw)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("expected an object, got %T", v)
	}
	return obj, nil
}
