package types

// Logger is the structured logger used by coordinators, work packages, and
// token stores.
//
// Every method takes a message followed by alternating keys and values, the
// calling convention of slog and zap's SugaredLogger. Adapters for slog,
// zerolog, and logrus live in internal/logging.
type Logger interface {
	// Debug logs per-batch and per-claim detail.
	Debug(msg string, keysAndValues ...any)

	// Info logs lifecycle changes such as claims, releases, splits, and merges.
	Info(msg string, keysAndValues ...any)

	// Warn logs recoverable failures: lost claims, store retries, skipped events.
	Warn(msg string, keysAndValues ...any)

	// Error logs failures that halt a segment or the coordinator.
	Error(msg string, keysAndValues ...any)

	// Fatal logs and terminates the process with os.Exit(1).
	Fatal(msg string, keysAndValues ...any)
}
