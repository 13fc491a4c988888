package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/arloliu/segpool"
	"github.com/arloliu/segpool/types"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	StatusBucket string
}

// SegmentInfo is one row of the segment layout.
type SegmentInfo struct {
	ID        int    `json:"id"`
	Mask      int    `json:"mask"`
	Available bool   `json:"available"`
	Segment   string `json:"segment"`
}

// StatusReport is the output of the status command.
type StatusReport struct {
	Processor string                  `json:"processor"`
	Segments  []SegmentInfo           `json:"segments"`
	Processes []segpool.ProcessStatus `json:"processes,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the segment layout and the published process status",
		Long: `Show every segment of a processor group and whether it is free to claim.

When processes publish their status to a NATS KV bucket, the per-segment
progress reported by each process is listed too.

Example:
  segpool status -p orders
  segpool status -p orders --format json --status-bucket segpool-status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showStatus(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.StatusBucket, "status-bucket", "segpool-status", "NATS KV bucket with published process status (empty skips it)")

	return cmd
}

func showStatus(ctx context.Context, opts *StatusOptions, w io.Writer) error {
	processor, err := opts.processor()
	if err != nil {
		return err
	}

	e, err := openEnv(ctx, opts.RootOptions, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	report, err := collectStatus(ctx, e, processor)
	if err != nil {
		return WrapExitError(ExitFailure, "read segments", err)
	}

	// Other backends only read the status bucket when NATS was configured explicitly.
	if opts.StatusBucket != "" && (e.js != nil || opts.v.IsSet(flagNATSURL)) {
		report.Processes, err = readFleet(ctx, e, opts, processor)
		if err != nil {
			return err
		}
	}

	return printer{format: opts.str(flagFormat), w: w}.result(report, func(w io.Writer) {
		printReport(w, report)
	})
}

func collectStatus(ctx context.Context, e *env, processor string) (StatusReport, error) {
	report := StatusReport{Processor: processor}

	ids, err := e.store.FetchSegments(ctx, processor)
	if err != nil {
		return report, err
	}
	available, err := e.store.FetchAvailableSegments(ctx, processor)
	if err != nil {
		return report, err
	}

	for _, id := range ids {
		seg := types.ComputeSegment(id, ids...)
		free := slices.ContainsFunc(available, func(s types.Segment) bool { return s.ID == id })
		report.Segments = append(report.Segments, SegmentInfo{
			ID:        seg.ID,
			Mask:      seg.Mask,
			Available: free,
			Segment:   seg.String(),
		})
	}

	return report, nil
}

// readFleet reads the status bucket. A missing bucket means no process publishes.
func readFleet(ctx context.Context, e *env, opts *StatusOptions, processor string) ([]segpool.ProcessStatus, error) {
	js, err := e.jetStream(opts.RootOptions)
	if err != nil {
		return nil, err
	}

	kv, err := js.KeyValue(ctx, opts.StatusBucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, WrapExitError(ExitFailure, "open status bucket", err)
	}

	fleet, err := segpool.FleetStatus(ctx, kv, processor)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "read process status", err)
	}

	return fleet, nil
}

func printReport(w io.Writer, report StatusReport) {
	fmt.Fprintf(w, "Processor %s: %d segments\n\n", report.Processor, len(report.Segments))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEGMENT\tID\tMASK\tCLAIMABLE")
	for _, s := range report.Segments {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%t\n", s.Segment, s.ID, s.Mask, s.Available)
	}
	_ = tw.Flush()

	if len(report.Processes) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OWNER\tSEGMENT\tSTATE\tTOKEN\tCAUGHT UP\tERROR")
	for _, p := range report.Processes {
		for _, st := range p.Segments {
			errText := ""
			if st.Error != nil {
				errText = st.Error.Error()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%t\t%s\n", p.Owner, st.Segment, st.State, st.Token, st.CaughtUp, errText)
		}
	}
	_ = tw.Flush()
}
