// Package cli implements the segpool command line tool.
//
// Every flag can also be set through the environment with the SEGPOOL_
// prefix, dashes replaced by underscores (SEGPOOL_NATS_URL, SEGPOOL_BACKEND).
package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arloliu/segpool/internal/logging"
	"github.com/arloliu/segpool/types"
)

// Flag names shared by every command.
const (
	flagConfig    = "config"
	flagProcessor = "processor"
	flagBackend   = "backend"
	flagBucket    = "bucket"
	flagPrefix    = "prefix"
	flagOwner     = "owner"
	flagNATSURL   = "nats-url"
	flagRedisAddr = "redis-addr"
	flagEtcd      = "etcd-endpoints"
	flagLogFormat = "log-format"
	flagLogLevel  = "log-level"
	flagFormat    = "format"
)

// Token store backends.
const (
	BackendNATSKV = "natskv"
	BackendRedis  = "redis"
	BackendEtcd   = "etcd"
)

// ValidFormats lists the output formats of the inspection commands.
var ValidFormats = []string{"text", "json"}

// RootOptions holds the resolved global settings.
type RootOptions struct {
	v      *viper.Viper
	logger types.Logger
}

// Logger returns the logger built from --log-format and --log-level.
func (o *RootOptions) Logger() types.Logger {
	if o.logger == nil {
		return logging.NewNop()
	}

	return o.logger
}

func (o *RootOptions) str(name string) string {
	return o.v.GetString(name)
}

// NewRootCommand creates the segpool root command.
//
// Returns:
//   - *cobra.Command: Root command with all subcommands attached
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "segpool",
		Short: "Run and operate segment-claiming event processors",
		Long: `segpool runs pooled event processors and operates on their segments.

Segments live in a shared token store (NATS KV, Redis or etcd). The
inspection and operation commands work directly against that store and can
be used while processors are running.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.init(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagConfig, "", "path to a YAML processor config")
	flags.StringP(flagProcessor, "p", "", "processor group name")
	flags.String(flagBackend, BackendNATSKV, "token store backend (natskv|redis|etcd)")
	flags.String(flagBucket, "segpool-tokens", "NATS KV bucket holding tokens")
	flags.String(flagPrefix, "", "key prefix for the redis and etcd backends")
	flags.String(flagOwner, "", "token store owner identity (random if empty)")
	flags.String(flagNATSURL, "nats://127.0.0.1:4222", "NATS server URL")
	flags.String(flagRedisAddr, "127.0.0.1:6379", "Redis address")
	flags.StringSlice(flagEtcd, []string{"127.0.0.1:2379"}, "etcd endpoints")
	flags.String(flagLogFormat, logging.BackendText, "log format (text|json|zerolog|console|logrus|none)")
	flags.String(flagLogLevel, "info", "log level (debug|info|warn|error)")
	flags.String(flagFormat, "text", "output format (text|json)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewSplitCommand(opts))
	cmd.AddCommand(NewMergeCommand(opts))
	cmd.AddCommand(NewReleaseCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))

	return cmd
}

func (o *RootOptions) init(cmd *cobra.Command) error {
	o.v.SetEnvPrefix("SEGPOOL")
	o.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	o.v.AutomaticEnv()
	if err := o.v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}

	if format := o.str(flagFormat); !slices.Contains(ValidFormats, format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", format, ValidFormats))
	}

	switch backend := o.str(flagBackend); backend {
	case BackendNATSKV, BackendRedis, BackendEtcd:
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown backend %q", backend))
	}

	logger, err := logging.New(logging.Options{
		Backend: o.str(flagLogFormat),
		Level:   o.str(flagLogLevel),
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "configure logging", err)
	}
	o.logger = logger

	return nil
}

// processor returns the --processor value or fails with a usage error.
func (o *RootOptions) processor() (string, error) {
	name := o.str(flagProcessor)
	if name == "" {
		return "", NewExitError(ExitCommandError, "--processor is required")
	}

	return name, nil
}
