package apikit

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
	// Encoding is "json" or "console".
	Encoding string `yaml:"encoding" json:"encoding"`
}

// NewLogger builds a zap logger from cfg.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if cfg.Development {
		config = zap.NewDevelopmentConfig()
	}

	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", cfg.Level)
		}
		config.Level = zap.NewAtomicLevelAt(level)
	}
	if cfg.Encoding != "" {
		config.Encoding = cfg.Encoding
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
