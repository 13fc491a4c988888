package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestSlogLogger(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	logger := NewSlog(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	logger.With("processor", "orders").Debug("claimed", "segment", 3)

	out := buf.String()
	require.Contains(t, out, "level=DEBUG")
	require.Contains(t, out, "msg=claimed")
	require.Contains(t, out, "processor=orders")
	require.Contains(t, out, "segment=3")
}

func TestSlogLogger_NilUsesDefault(t *testing.T) {
	t.Parallel()

	require.NotNil(t, NewSlog(nil).logger)
}

func TestZerologLogger(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	logger := NewZerolog(zerolog.New(buf))

	logger.Warn("store retry", "op", "store_token", "attempt", 2, "error", errors.New("timeout"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "warn", record["level"])
	require.Equal(t, "store retry", record["message"])
	require.Equal(t, "store_token", record["op"])
	require.InDelta(t, 2, record["attempt"], 0)
	require.Equal(t, "timeout", record["error"])
}

func TestZerologLogger_LevelFiltered(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	logger := NewZerolog(zerolog.New(buf).Level(zerolog.InfoLevel))

	logger.Debug("hidden")
	require.Empty(t, buf.String())
}

func TestLogrusLogger(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	l := logrus.New()
	l.SetOutput(buf)
	l.SetFormatter(&logrus.JSONFormatter{})

	NewLogrus(l).Error("handler failed", "segment", 1, "dangling")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "error", record["level"])
	require.Equal(t, "handler failed", record["msg"])
	require.InDelta(t, 1, record["segment"], 0)
	require.Equal(t, "dangling", record[badKey])
}

func TestFormatPairs(t *testing.T) {
	t.Parallel()

	require.Empty(t, formatPairs(nil))
	require.Equal(t, "a=1 b=two", formatPairs([]any{"a", 1, "b", "two"}))
	require.Equal(t, "7=x !BADKEY=y", formatPairs([]any{7, "x", "y"}))
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "default", opts: Options{}},
		{name: "json", opts: Options{Backend: BackendJSON, Level: "debug"}},
		{name: "zerolog", opts: Options{Backend: BackendZerolog, Level: "warn"}},
		{name: "console", opts: Options{Backend: BackendConsole}},
		{name: "logrus", opts: Options{Backend: BackendLogrus, Level: "error"}},
		{name: "none", opts: Options{Backend: BackendNone}},
		{name: "unknown backend", opts: Options{Backend: "syslog"}, wantErr: true},
		{name: "bad level", opts: Options{Backend: BackendZerolog, Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := tt.opts
			opts.Output = &bytes.Buffer{}

			logger, err := New(opts)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestNew_WritesToOutput(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	logger, err := New(Options{Backend: BackendJSON, Output: buf})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("visible", "k", "v")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"k":"v"`)
}

func TestNopLogger(t *testing.T) {
	t.Parallel()

	logger := NewNop()
	require.NotPanics(t, func() {
		logger.Debug("m", "k", "v")
		logger.Info("m")
		logger.Warn("m", nil)
		logger.Error("m", "k")
		logger.Fatal("m")
	})
}

func TestTestLogger(t *testing.T) {
	t.Parallel()

	logger := NewTest(t)
	logger.Info("hello", "k", "v")
	logger.Debug("odd", "k")
}
