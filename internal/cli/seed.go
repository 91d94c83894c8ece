package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// SeedResult is the JSON payload of the seed command.
type SeedResult struct {
	Entities map[string]int `json:"entities"`
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <fixtures.yaml>",
		Short: "Create fixture records in the configured datastores",
		Long: `Create the records of a fixtures file. The file maps entity names to
lists of records. Entities are created in name order; integer primary keys
left out are assigned by the datastore.

Seeding only persists for file-backed datastores (sqlite with a path,
badger with a directory). In-memory datastores are discarded on exit.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runSeed(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := formatter(opts, cmd)
	ctx := cmd.Context()

	ws, err := OpenWorkspace(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(ExitCommandError, loadErrorCode(err), err)
	}
	defer ws.Close()

	counts, err := ws.Seed(ctx, path)
	if err != nil {
		return out.Fail(ExitFailure, loadErrorCode(err), err)
	}

	if opts.Format == "json" {
		return out.Success(SeedResult{Entities: counts})
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	fmt.Fprintf(out.Writer, "✓ Seeded %d record(s) across %d entities\n", total, len(counts))
	return nil
}
