package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/stitch/internal/config"
	"github.com/roach88/stitch/internal/criteria"
	"github.com/roach88/stitch/internal/harness"
	"github.com/roach88/stitch/internal/logging"
	"github.com/roach88/stitch/internal/orm"
	"github.com/roach88/stitch/internal/schema"
)

// LoadError represents an error opening a workspace with its error code.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Workspace is an opened schema plus the datastores its config declares.
type Workspace struct {
	Config   *config.Config
	Registry *schema.Registry
	ORM      *orm.ORM
}

// OpenWorkspace loads the config and schema named by opts, opens every
// datastore and prepares storage for each entity. Logs go to logOut at the
// config's level unless --verbose already configured debug logging.
func OpenWorkspace(ctx context.Context, opts *RootOptions, logOut io.Writer) (*Workspace, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if !opts.Verbose {
		if err := logging.Configure(logOut, cfg.Log.Level, cfg.Log.Format); err != nil {
			return nil, &LoadError{Code: ErrCodeConfig, Message: "invalid log settings", Err: err}
		}
	}

	reg, err := LoadRegistry(opts.SchemaDir)
	if err != nil {
		return nil, err
	}

	db, err := orm.Open(cfg, reg)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeConfig, Message: "failed to open datastores", Err: err}
	}
	if err := db.Define(ctx); err != nil {
		return nil, errors.Join(
			&LoadError{Code: errorCode(err), Message: "failed to define storage", Err: err},
			db.Close(),
		)
	}
	return &Workspace{Config: cfg, Registry: reg, ORM: db}, nil
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeConfig, Message: "failed to load config", Err: err}
	}
	return cfg, nil
}

// normalizeWith normalizes raw criteria against reg without opening any
// datastore.
func normalizeWith(reg *schema.Registry, defaultLimit int, entity string, raw any) (*criteria.Tree, error) {
	return orm.New(reg, orm.WithDefaultLimit(defaultLimit)).Normalize(entity, raw)
}

// LoadRegistry compiles the CUE schema directory.
func LoadRegistry(dir string) (*schema.Registry, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema directory not found: %s", dir)}
	}
	reg, err := schema.LoadDir(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeSchema, Message: "failed to load schema", Err: err}
	}
	return reg, nil
}

// Seed creates the records of a fixtures file and returns how many
// records each entity received.
func (w *Workspace) Seed(ctx context.Context, path string) (map[string]int, error) {
	fixtures, err := harness.LoadFixtures(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBadInput, Message: "failed to load fixtures", Err: err}
	}
	if err := harness.Seed(ctx, w.ORM, fixtures); err != nil {
		return nil, &LoadError{Code: errorCode(err), Message: "failed to seed fixtures", Err: err}
	}
	counts := make(map[string]int, len(fixtures))
	for entity, records := range fixtures {
		counts[entity] = len(records)
	}
	return counts, nil
}

// Close closes every datastore.
func (w *Workspace) Close() error {
	return w.ORM.Close()
}

// ParseCriteria decodes query criteria given on the command line. The
// argument is YAML (and therefore also JSON); a leading "@" reads the
// criteria from a file instead. An empty argument means no criteria.
func ParseCriteria(arg string) (any, error) {
	data := []byte(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: "failed to read criteria file", Err: err}
		}
		data = b
	}
	if strings.TrimSpace(string(data)) == "" {
		return map[string]any{}, nil
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &LoadError{Code: ErrCodeBadInput, Message: "failed to parse criteria", Err: err}
	}
	return raw, nil
}

// loadErrorCode returns the code of err when it is a LoadError.
func loadErrorCode(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	return errorCode(err)
}
