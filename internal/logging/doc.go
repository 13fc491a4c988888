// Package logging provides types.Logger adapters for log/slog, zerolog, and
// logrus, plus no-op and test loggers.
//
// New builds a logger from the textual backend and level names accepted by the
// segpool command line.
package logging
