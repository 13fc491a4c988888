package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/arloliu/segpool"
	"github.com/arloliu/segpool/types"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Count int
	From  int64
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the initial segments of a processor",
		Long: `Create evenly sized segments for a processor before any process runs.

Existing segments are left untouched, so running the command twice is safe.

Example:
  segpool init -p orders --count 8
  segpool init -p orders --count 4 --from 120000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return initSegments(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&opts.Count, "count", 1, "number of segments")
	cmd.Flags().Int64Var(&opts.From, "from", -1, "stream position new segments start after (-1 for the beginning)")

	return cmd
}

func initSegments(ctx context.Context, opts *InitOptions, w io.Writer) error {
	processor, err := opts.processor()
	if err != nil {
		return err
	}

	e, err := openEnv(ctx, opts.RootOptions, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	var initial segpool.TrackingToken
	if opts.From >= 0 {
		initial = types.GlobalSequenceToken{Index: opts.From}
	}

	if err := segpool.InitializeSegments(ctx, e.store, processor, opts.Count, initial); err != nil {
		return WrapExitError(ExitFailure, "init failed", err)
	}

	report, err := collectStatus(ctx, e, processor)
	if err != nil {
		return WrapExitError(ExitFailure, "read segments", err)
	}

	return printer{format: opts.str(flagFormat), w: w}.result(report, func(w io.Writer) {
		fmt.Fprintf(w, "processor %s has %d segments\n", processor, len(report.Segments))
	})
}
