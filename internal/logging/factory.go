package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"

	"github.com/arloliu/segpool/types"
)

// Backend names accepted by New.
const (
	BackendText    = "text"
	BackendJSON    = "json"
	BackendZerolog = "zerolog"
	BackendConsole = "console"
	BackendLogrus  = "logrus"
	BackendNone    = "none"
)

// Options selects a logger backend.
type Options struct {
	// Backend is one of the Backend* names. Empty means BackendText.
	Backend string

	// Level is "debug", "info", "warn", or "error". Empty means "info".
	Level string

	// Output is where records are written. Nil means os.Stderr.
	Output io.Writer
}

// New creates a logger for the given options.
//
// Returns:
//   - types.Logger: The configured logger
//   - error: Unknown backend or level
func New(opts Options) (types.Logger, error) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level := strings.ToLower(strings.TrimSpace(opts.Level))
	if level == "" {
		level = "info"
	}

	switch strings.ToLower(opts.Backend) {
	case "", BackendText, BackendJSON:
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}

		handlerOpts := &slog.HandlerOptions{Level: lvl}
		var handler slog.Handler = slog.NewTextHandler(out, handlerOpts)
		if strings.EqualFold(opts.Backend, BackendJSON) {
			handler = slog.NewJSONHandler(out, handlerOpts)
		}

		return NewSlog(slog.New(handler)), nil

	case BackendZerolog, BackendConsole:
		lvl, err := zerolog.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}

		w := out
		if strings.EqualFold(opts.Backend, BackendConsole) {
			w = zerolog.ConsoleWriter{Out: out}
		}

		return NewZerolog(zerolog.New(w).Level(lvl).With().Timestamp().Logger()), nil

	case BackendLogrus:
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}

		l := logrus.New()
		l.SetOutput(out)
		l.SetLevel(lvl)
		l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})

		return NewLogrus(l), nil

	case BackendNone:
		return NewNop(), nil

	default:
		return nil, fmt.Errorf("unknown log backend %q", opts.Backend)
	}
}
