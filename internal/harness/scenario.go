package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/stitch/internal/config"
	"github.com/roach88/stitch/internal/stitcherr"
)

// Scenario defines a query conformance scenario.
// A scenario compiles a schema, seeds fixtures into fresh datastores, runs
// queries and checks their records against expectations.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is inline CUE source.
	Schema string `yaml:"schema,omitempty"`

	// SchemaFiles lists CUE files compiled together with Schema.
	// Paths are relative to the scenario file location.
	SchemaFiles []string `yaml:"schema_files,omitempty"`

	// Datastores overrides the kind of named datastores. Datastores the
	// schema uses but this list omits are in-memory.
	Datastores []DatastoreStep `yaml:"datastores,omitempty"`

	// BatchSize overrides the engine page size. Zero keeps the default.
	BatchSize int `yaml:"batch_size,omitempty"`

	// Fixtures are the records created before any query runs, keyed by
	// entity. Entities are seeded in name order.
	Fixtures Fixtures `yaml:"fixtures,omitempty"`

	// Links are junction rows created after the fixtures, one per pair of
	// linked primary keys.
	Links []LinkStep `yaml:"links,omitempty"`

	// Queries run in order against the seeded datastores.
	Queries []QueryStep `yaml:"queries"`
}

// DatastoreStep declares one datastore of a scenario.
type DatastoreStep struct {
	Name string `yaml:"name"`

	// Kind is one of sqlite, memory or badger.
	Kind string `yaml:"kind"`
}

// Fixtures maps entity identities to the records to create.
type Fixtures map[string][]map[string]any

// LinkStep joins two records through a junction association.
type LinkStep struct {
	// Entity and Attr name the association, such as person and toys.
	Entity string `yaml:"entity"`
	Attr   string `yaml:"attr"`

	Parent  any `yaml:"parent"`
	Related any `yaml:"related"`
}

// QueryStep is one query and what it must produce.
type QueryStep struct {
	// Name identifies the query in results and golden files.
	Name string `yaml:"name"`

	// From is the target entity. May be empty when Query carries "from".
	From string `yaml:"from,omitempty"`

	// Query is the raw criteria, in any form the normalizer accepts.
	Query any `yaml:"query"`

	// Expect lists the exact records, in order. Nil skips the check.
	Expect []map[string]any `yaml:"expect,omitempty"`

	// ExpectError is the error kind the query must fail with, such as
	// MALFORMED_QUERY.
	ExpectError string `yaml:"expect_error,omitempty"`

	// Assertions are additional checks on the outcome.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Assertion validates one aspect of a query outcome.
type Assertion struct {
	// Type specifies the assertion type:
	// - "count": exactly Count records
	// - "contains": some record has every field of Record
	// - "order": the values of Attr appear as Values, in order
	// - "buffer": the execution allocated the buffer Identity
	// - "max_fetches": at most Max adapter fetches were issued
	Type string `yaml:"type"`

	Count int `yaml:"count,omitempty"`

	Record map[string]any `yaml:"record,omitempty"`

	Attr   string `yaml:"attr,omitempty"`
	Values []any  `yaml:"values,omitempty"`

	Identity string `yaml:"identity,omitempty"`

	Max int64 `yaml:"max,omitempty"`
}

// Assertion type constants.
const (
	AssertCount      = "count"
	AssertContains   = "contains"
	AssertOrder      = "order"
	AssertBuffer     = "buffer"
	AssertMaxFetches = "max_fetches"
)

// LoadScenario reads and parses a scenario YAML file. Schema file paths
// resolve against the scenario's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving schema file paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	for i, p := range s.SchemaFiles {
		if !filepath.IsAbs(p) && basePath != "" {
			s.SchemaFiles[i] = filepath.Join(basePath, p)
		}
	}
	for _, p := range s.SchemaFiles {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: schema file not found: %s", p)
		}
	}
	return s, nil
}

// ParseScenario parses scenario YAML. Schema file paths are left as given.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Schema == "" && len(s.SchemaFiles) == 0 {
		return fmt.Errorf("schema or schema_files is required")
	}
	if len(s.Queries) == 0 {
		return fmt.Errorf("queries list is required and must be non-empty")
	}
	if s.BatchSize < 0 {
		return fmt.Errorf("batch_size must be >= 0, got %d", s.BatchSize)
	}

	seen := make(map[string]bool, len(s.Datastores))
	for i, ds := range s.Datastores {
		if ds.Name == "" {
			return fmt.Errorf("datastores[%d]: name is required", i)
		}
		if seen[ds.Name] {
			return fmt.Errorf("datastores[%d]: %q declared twice", i, ds.Name)
		}
		seen[ds.Name] = true
		switch ds.Kind {
		case config.KindSQLite, config.KindMemory, config.KindBadger:
		default:
			return fmt.Errorf("datastores[%d]: unknown kind %q", i, ds.Kind)
		}
	}

	for i, l := range s.Links {
		if l.Entity == "" || l.Attr == "" {
			return fmt.Errorf("links[%d]: entity and attr are required", i)
		}
		if l.Parent == nil || l.Related == nil {
			return fmt.Errorf("links[%d]: parent and related are required", i)
		}
	}

	names := make(map[string]bool, len(s.Queries))
	for i, q := range s.Queries {
		if q.Name == "" {
			return fmt.Errorf("queries[%d]: name is required", i)
		}
		if names[q.Name] {
			return fmt.Errorf("queries[%d]: duplicate name %q", i, q.Name)
		}
		names[q.Name] = true

		if q.ExpectError != "" {
			if _, ok := stitcherr.ParseKind(q.ExpectError); !ok {
				return fmt.Errorf("queries[%d]: unknown error kind %q", i, q.ExpectError)
			}
			if q.Expect != nil {
				return fmt.Errorf("queries[%d]: expect and expect_error are exclusive", i)
			}
		}
		for j, a := range q.Assertions {
			if err := validateAssertion(i, j, &a); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(query, index int, a *Assertion) error {
	at := fmt.Sprintf("queries[%d].assertions[%d]", query, index)
	switch a.Type {
	case "":
		return fmt.Errorf("%s: type is required", at)
	case AssertCount:
		if a.Count < 0 {
			return fmt.Errorf("%s: count must be non-negative", at)
		}
	case AssertContains:
		if len(a.Record) == 0 {
			return fmt.Errorf("%s: record is required for contains", at)
		}
	case AssertOrder:
		if a.Attr == "" || len(a.Values) == 0 {
			return fmt.Errorf("%s: attr and values are required for order", at)
		}
	case AssertBuffer:
		if a.Identity == "" {
			return fmt.Errorf("%s: identity is required for buffer", at)
		}
	case AssertMaxFetches:
		if a.Max <= 0 {
			return fmt.Errorf("%s: max must be positive for max_fetches", at)
		}
	default:
		return fmt.Errorf("%s: unknown assertion type %q", at, a.Type)
	}
	return nil
}

// LoadFixtures reads a fixtures YAML file: a mapping from entity identity
// to a list of records.
func LoadFixtures(path string) (Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures file: %w", err)
	}
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	if f == nil {
		f = Fixtures{}
	}
	return f, nil
}
