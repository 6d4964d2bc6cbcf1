// Package logging wraps go.uber.org/zap for flock's diagnostic output.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger for one channel's Flock/Member pair. debug
// selects DebugLevel; otherwise only warnings and errors are emitted.
func New(channel string, debug bool) *zap.Logger {
	level := zapcore.WarnLevel
	if debug {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// Building the production config only fails on a bad output
		// path, which we never set; fall back to a no-op logger rather
		// than letting a logging misconfiguration become fatal.
		return zap.NewNop()
	}
	return logger.With(zap.String("channel", channel))
}

// Nop returns a logger that discards everything, used by components
// constructed without an explicit Debug option (e.g. in unit tests that
// don't care about log output).
func Nop() *zap.Logger { return zap.NewNop() }
