package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/stitch/internal/engine"
	"github.com/roach88/stitch/internal/ir"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Explain  bool   // print fetch count and heap buffers
	Fixtures string // fixtures file seeded before the query runs
}

// QueryResult is the JSON payload of the query command.
type QueryResult struct {
	ExecutionID string        `json:"execution_id"`
	Records     []ir.IRObject `json:"records"`
	Fetches     int64         `json:"fetches,omitempty"`
	Buffers     any           `json:"buffers,omitempty"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <entity> [criteria]",
		Short: "Run a query across the configured datastores",
		Long: `Run a query and print the assembled records.

Criteria are YAML or JSON: a where clause, a primary key, false, or an
object with where, select, sort, skip and limit. Prefix a file path with @
to read criteria from a file.

Exit codes:
  0 - Query succeeded
  1 - Query failed (malformed criteria, adapter failure, quota exceeded)
  2 - Command error (missing schema, bad config)

Examples:
  stitch query person '{age: {">": 30}}'
  stitch query person '{where: {pets: {whose: {name: Fido}}}, select: [name, pets]}'
  stitch query person @older.yaml --explain --format json`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			criteria := ""
			if len(args) == 2 {
				criteria = args[1]
			}
			return runQuery(opts, args[0], criteria, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Explain, "explain", false, "print fetch count and heap buffers")
	cmd.Flags().StringVar(&opts.Fixtures, "fixtures", "", "seed records from a fixtures file first")

	return cmd
}

func runQuery(opts *QueryOptions, entity, criteriaArg string, cmd *cobra.Command) error {
	out := formatter(opts.RootOptions, cmd)

	raw, err := ParseCriteria(criteriaArg)
	if err != nil {
		return out.Fail(ExitCommandError, loadErrorCode(err), err)
	}

	ctx := cmd.Context()
	ws, err := OpenWorkspace(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(ExitCommandError, loadErrorCode(err), err)
	}
	defer ws.Close()

	if opts.Fixtures != "" {
		if _, err := ws.Seed(ctx, opts.Fixtures); err != nil {
			return out.Fail(ExitCommandError, loadErrorCode(err), err)
		}
		out.VerboseLog("Seeded fixtures from %s", opts.Fixtures)
	}

	res, err := ws.ORM.Explain(ctx, entity, raw)
	if err != nil {
		return out.Fail(ExitFailure, errorCode(err), err)
	}

	if opts.Format == "json" {
		payload := QueryResult{ExecutionID: res.ExecutionID, Records: res.Records}
		if opts.Explain {
			payload.Fetches = res.Fetches
			payload.Buffers = res.Buffers
		}
		return out.Success(payload)
	}

	if err := out.Records(res.Records); err != nil {
		return err
	}
	if opts.Explain {
		writeExplain(cmd, res)
	}
	return nil
}

// writeExplain prints the heap buffers of an execution as a table.
func writeExplain(cmd *cobra.Command, res *engine.Result) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\nexecution %s: %d fetch(es), %d buffer(s)\n", res.ExecutionID, res.Fetches, len(res.Buffers))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTITY\tFROM\tRECORDS\tFOOTPRINT")
	for _, b := range res.Buffers {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\n", b.Identity, b.From, b.Records, b.IsFootprint)
	}
	tw.Flush()
}
