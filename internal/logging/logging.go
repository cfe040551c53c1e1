// Package logging builds the single *zap.Logger every other package
// receives by field injection, per the config's logging.level and
// logging.format keys.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-shaped zap logger: console encoding when
// format is "text", "console" or empty, JSON encoding for any other
// value; level parsed from level (info when empty, an error when
// unrecognized).
func New(level, format string) (*zap.Logger, error) {
	var zlevel zapcore.Level
	if level == "" {
		zlevel = zapcore.InfoLevel
	} else if err := zlevel.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("logging: invalid level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zlevel)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch strings.ToLower(format) {
	case "console", "text", "":
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		cfg.Encoding = "json"
	}

	return cfg.Build()
}
