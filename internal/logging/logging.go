// Package logging builds the zap logger shared by every shelfsearch component.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dshills/shelfsearch/internal/config"
)

// New creates a logger writing to stderr. Stdout is reserved for the MCP
// stdio transport. When cfg.File is set, JSON entries are also written to a
// rotating log file.
func New(debug bool, cfg config.LoggingConfig) *zap.Logger {
	level := zap.InfoLevel
	consoleConfig := zap.NewProductionEncoderConfig()
	if debug {
		level = zap.DebugLevel
		consoleConfig = zap.NewDevelopmentEncoderConfig()
	}

	var consoleEncoder zapcore.Encoder
	if debug {
		consoleEncoder = zapcore.NewConsoleEncoder(consoleConfig)
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(consoleConfig)
	}
	consoleCore := zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level)

	if cfg.File == "" {
		return zap.New(consoleCore, zap.AddCaller())
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB, // Megabytes
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays, // Days
		Compress:   cfg.Compress,
	}

	fileConfig := zap.NewProductionEncoderConfig()
	fileConfig.TimeKey = "timestamp"
	fileConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	fileConfig.MessageKey = "message"
	fileConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(fileConfig), zapcore.AddSync(rotator), level)

	return zap.New(zapcore.NewTee(fileCore, consoleCore), zap.AddCaller())
}

// OrNop returns logger, or a no-op logger when it is nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
