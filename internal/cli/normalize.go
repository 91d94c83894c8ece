package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/stitch/internal/ir"
)

// NewNormalizeCommand creates the normalize command.
func NewNormalizeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize <entity> [criteria]",
		Short: "Print the canonical form of query criteria",
		Long: `Normalize criteria against the schema and print the canonical tree
without touching any datastore.

Useful to check how shorthand expands: a bare primary key, where:false,
select objects and nested association criteria.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			criteria := ""
			if len(args) == 2 {
				criteria = args[1]
			}
			return runNormalize(rootOpts, args[0], criteria, cmd)
		},
	}
	return cmd
}

func runNormalize(opts *RootOptions, entity, criteriaArg string, cmd *cobra.Command) error {
	out := formatter(opts, cmd)

	raw, err := ParseCriteria(criteriaArg)
	if err != nil {
		return out.Fail(ExitCommandError, loadErrorCode(err), err)
	}
	reg, err := LoadRegistry(opts.SchemaDir)
	if err != nil {
		return out.Fail(ExitCommandError, loadErrorCode(err), err)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return out.Fail(ExitCommandError, loadErrorCode(err), err)
	}

	tree, err := normalizeWith(reg, cfg.Engine.DefaultLimit, entity, raw)
	if err != nil {
		return out.Fail(ExitFailure, errorCode(err), err)
	}

	if opts.Format == "json" {
		return out.Success(tree.Raw())
	}
	data, err := ir.MarshalCanonical(tree.Raw())
	if err != nil {
		return err
	}
	fmt.Fprintf(out.Writer, "%s\n", data)
	return nil
}
