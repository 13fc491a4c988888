package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/arloliu/segpool"
)

// OperationResult is the output of split, merge, and release.
type OperationResult struct {
	Operation string `json:"operation"`
	Processor string `json:"processor"`
	SegmentID int    `json:"segmentId"`
	Applied   bool   `json:"applied"`
}

type segmentOp func(ctx context.Context, store segpool.TokenStore, processor string, segmentID int, opts ...segpool.Option) (bool, error)

// NewSplitCommand creates the split command.
func NewSplitCommand(rootOpts *RootOptions) *cobra.Command {
	return newSegmentCommand(rootOpts, "split", segpool.Split,
		"Split a segment into two halves",
		`Split a segment into two halves that keep its progress.

The segment must not be claimed by a running process. Stop it there first,
for example with "segpool release" using that process's --owner.

Example:
  segpool split -p orders 0`)
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	return newSegmentCommand(rootOpts, "merge", segpool.Merge,
		"Merge a segment with its sibling",
		`Merge a segment with its sibling into one segment.

Both halves must be unclaimed. Nothing happens for the root segment or when
the sibling has been split further.

Example:
  segpool merge -p orders 2`)
}

// NewReleaseCommand creates the release command.
func NewReleaseCommand(rootOpts *RootOptions) *cobra.Command {
	return newSegmentCommand(rootOpts, "release", segpool.Release,
		"Release a claim held by --owner",
		`Release the claim the --owner identity holds on a segment.

Use it to free segments of a process that died without releasing them,
instead of waiting for the claim timeout.

Example:
  segpool release -p orders --owner worker-7 3`)
}

func newSegmentCommand(rootOpts *RootOptions, name string, op segmentOp, short, long string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <segment-id>",
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id < 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid segment id %q", args[0]))
			}

			return runSegmentOp(cmd.Context(), rootOpts, name, op, id, cmd.OutOrStdout())
		},
	}
}

func runSegmentOp(ctx context.Context, o *RootOptions, name string, op segmentOp, id int, w io.Writer) error {
	processor, err := o.processor()
	if err != nil {
		return err
	}

	e, err := openEnv(ctx, o, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	applied, err := op(ctx, e.store, processor, id, segpool.WithLogger(o.Logger()))
	if err != nil {
		return WrapExitError(ExitFailure, name+" failed", err)
	}

	res := OperationResult{Operation: name, Processor: processor, SegmentID: id, Applied: applied}

	return printer{format: o.str(flagFormat), w: w}.result(res, func(w io.Writer) {
		if applied {
			fmt.Fprintf(w, "%s of segment %d applied\n", name, id)
		} else {
			fmt.Fprintf(w, "%s of segment %d not applicable\n", name, id)
		}
	})
}
