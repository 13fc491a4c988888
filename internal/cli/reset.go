package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/arloliu/segpool"
	"github.com/arloliu/segpool/types"
)

// ResetOptions holds flags for the reset command.
type ResetOptions struct {
	*RootOptions
	From int64
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Rewind every segment of a processor for replay",
		Long: `Rewind every segment of a processor so events are delivered again.

Events up to each segment's previous progress are flagged as replayed. All
segments must be unclaimed; if any is claimed nothing is changed.

Example:
  segpool reset -p orders
  segpool reset -p orders --from 1500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return resetTokens(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Int64Var(&opts.From, "from", -1, "replay events after this stream position (-1 replays everything)")

	return cmd
}

func resetTokens(ctx context.Context, opts *ResetOptions, w io.Writer) error {
	processor, err := opts.processor()
	if err != nil {
		return err
	}

	e, err := openEnv(ctx, opts.RootOptions, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	var start segpool.TrackingToken
	if opts.From >= 0 {
		start = types.GlobalSequenceToken{Index: opts.From}
	}

	if err := segpool.ResetTokens(ctx, e.store, processor, start); err != nil {
		return WrapExitError(ExitFailure, "reset failed", err)
	}
	opts.Logger().Info("tokens reset", "processor", processor, "from", start)

	res := map[string]any{"processor": processor, "from": opts.From}

	return printer{format: opts.str(flagFormat), w: w}.result(res, func(w io.Writer) {
		fmt.Fprintf(w, "tokens of %s reset\n", processor)
	})
}
