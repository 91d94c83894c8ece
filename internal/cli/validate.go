package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/stitch/internal/schema"
)

// EntitySummary describes one compiled entity.
type EntitySummary struct {
	Identity     string               `json:"identity"`
	Datastore    string               `json:"datastore"`
	PrimaryKey   string               `json:"primary_key"`
	Junction     bool                 `json:"junction,omitempty"`
	Attributes   []string             `json:"attributes"`
	Associations []AssociationSummary `json:"associations,omitempty"`
}

// AssociationSummary describes the resolved shape of one association.
type AssociationSummary struct {
	Attribute string `json:"attribute"`
	Related   string `json:"related"`
	Shape     string `json:"shape"`
	FKKey     string `json:"fk_key,omitempty"`
	Junction  string `json:"junction,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool            `json:"valid"`
	Entities []EntitySummary `json:"entities"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the schema and config",
		Long: `Compile the CUE schema, resolve every association and check the
config declares each datastore an entity is assigned to.

Prints the compiled entities with their association shapes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	out := formatter(opts, cmd)

	reg, err := LoadRegistry(opts.SchemaDir)
	if err != nil {
		return out.Fail(ExitCommandError, loadErrorCode(err), err)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return out.Fail(ExitCommandError, loadErrorCode(err), err)
	}

	entities := reg.Entities()
	out.VerboseLog("Compiled %d entities from %s", len(entities), opts.SchemaDir)

	summaries := make([]EntitySummary, 0, len(entities))
	for _, e := range entities {
		if _, ok := cfg.Datastore(e.Datastore); !ok {
			return out.Fail(ExitFailure, ErrCodeSchema,
				fmt.Errorf("entity %s is assigned to undeclared datastore %q", e.Identity, e.Datastore))
		}
		summaries = append(summaries, summarize(reg, e))
	}

	if opts.Format == "json" {
		return out.Success(ValidationResult{Valid: true, Entities: summaries})
	}

	tw := tabwriter.NewWriter(out.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tDATASTORE\tATTRIBUTE\tRELATED\tSHAPE")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t\t\t\n", s.Identity, s.Datastore)
		for _, a := range s.Associations {
			fmt.Fprintf(tw, "\t\t%s\t%s\t%s\n", a.Attribute, a.Related, a.Shape)
		}
	}
	tw.Flush()
	fmt.Fprintln(out.Writer, "✓ Schema valid")
	return nil
}

func summarize(reg *schema.Registry, e *schema.Entity) EntitySummary {
	s := EntitySummary{
		Identity:   e.Identity,
		Datastore:  e.Datastore,
		PrimaryKey: e.PrimaryKey,
		Junction:   e.Junction,
		Attributes: e.AttributeNames(),
	}
	for _, name := range s.Attributes {
		a, ok := reg.Association(e.Identity, name)
		if !ok {
			continue
		}
		s.Associations = append(s.Associations, AssociationSummary{
			Attribute: name,
			Related:   a.Related,
			Shape:     a.Shape.String(),
			FKKey:     a.FKKey,
			Junction:  a.Junction,
		})
	}
	return s
}
