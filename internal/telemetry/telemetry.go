// Package telemetry provides the structured logger shared by the coordinator
// and node binaries and by the coordinator's health monitor.
//
// It wraps a single *zap.Logger the same way internal/cluster wraps a single
// shared *http.Client: a package-level constructor returns an owned value,
// never a global mutable logger reached for implicitly.
package telemetry

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-profile logger: JSON encoding, ISO8601 timestamps,
// level from the ATLAS_LOG_LEVEL env var (default "info"). component is
// attached to every log line so coordinator/node output can be told apart
// once aggregated.
func New(component string) *zap.Logger {
	level := zapcore.InfoLevel
	if lv := os.Getenv("ATLAS_LOG_LEVEL"); lv != "" {
		_ = level.Set(lv)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// Config is static and Build only fails on bad sink/encoder
		// registration, which never happens with the defaults above.
		logger = zap.NewNop()
	}
	return logger.With(zap.String("component", component))
}

// NewNop returns a logger that discards everything, for tests that construct
// a server without wanting log output.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
