package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/arloliu/segpool"
	"github.com/arloliu/segpool/internal/metrics"
	"github.com/arloliu/segpool/source"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Stream      string
	Subject     string
	MetricsAddr string
	SplitLag    int64
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a processor that logs every event of a JetStream stream",
		Long: `Run a coordinator that claims segments of a processor group and reads
events from a JetStream stream. Every event is logged at debug level, which
makes the command useful to watch segment movement between processes.

Example:
  segpool run -p orders --stream ORDERS --subject 'orders.>'
  segpool run --config orders.yaml --stream ORDERS --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProcessor(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Stream, "stream", "", "JetStream stream to read (required)")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "subject filter within the stream")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().Int64Var(&opts.SplitLag, "split-lag", 0, "split segments lagging this many events behind the head (0 disables)")
	_ = cmd.MarkFlagRequired("stream")

	return cmd
}

func runProcessor(ctx context.Context, opts *RunOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	logger := opts.Logger()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := openEnv(ctx, opts.RootOptions, &cfg.TokenStore)
	if err != nil {
		return err
	}
	defer e.Close()

	js, err := e.jetStream(opts.RootOptions)
	if err != nil {
		return err
	}
	stream, err := js.Stream(ctx, opts.Stream)
	if err != nil {
		return WrapExitError(ExitCommandError, "open stream "+opts.Stream, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	coordOpts := []segpool.Option{
		segpool.WithLogger(logger),
		segpool.WithMetrics(metrics.NewPrometheus(reg, "segpool")),
		segpool.WithJetStream(js),
	}
	if opts.SplitLag > 0 {
		coordOpts = append(coordOpts, segpool.WithBalancePolicy(segpool.LagPolicy{MinLag: opts.SplitLag}))
	}

	handler := segpool.HandlerFunc(func(_ context.Context, ev segpool.Event) error {
		logger.Debug("event", "token", ev.Token, "key", ev.PartitionKey, "bytes", len(ev.Payload), "replay", ev.Replay)
		return nil
	})

	coord, err := segpool.NewCoordinator(&cfg, e.store, source.NewJetStream(stream, opts.Subject), handler, coordOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "create coordinator", err)
	}

	var srv *http.Server
	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv = &http.Server{Addr: opts.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", opts.MetricsAddr, "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", opts.MetricsAddr)
	}

	if err := coord.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "start coordinator", err)
	}
	logger.Info("processor running", "processor", cfg.ProcessorName, "owner", coord.Owner(), "stream", opts.Stream)

	<-ctx.Done()
	logger.Info("shutting down", "processor", cfg.ProcessorName)

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	stopErr := coord.Stop(stopCtx)
	if srv != nil {
		_ = srv.Shutdown(stopCtx)
	}
	if stopErr != nil {
		return WrapExitError(ExitFailure, "stop coordinator", stopErr)
	}

	return nil
}
