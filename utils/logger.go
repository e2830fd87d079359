package utils

import (
	"log"

	"astroconnect/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Global logger instance
var Logger *zap.Logger

// InitializeLogger sets up the logging configuration. The level comes from
// the LOG_LEVEL knob; an unset or unparsable value falls back to info in
// production and debug in development.
func InitializeLogger() {
	var cfg zap.Config
	level := zap.InfoLevel

	if config.IsProduction() {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		level = zap.DebugLevel
	}
	if config.AppConfig.LogLevel != "" {
		if parsed, err := zapcore.ParseLevel(config.AppConfig.LogLevel); err == nil {
			level = parsed
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	// Create logger
	var err error
	Logger, err = cfg.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
}

// GetLogger retrieves the global logger
func GetLogger() *zap.Logger {
	if Logger == nil {
		InitializeLogger()
	}
	return Logger
}
