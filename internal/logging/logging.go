// Package logging provides structured logging with zap.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu          sync.Mutex
	global      *zap.Logger
	globalLevel = zap.NewAtomicLevelAt(zapcore.WarnLevel)
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stderr, stdout, or file path
}

// Init builds the global logger. Unknown levels fall back to warn so that
// command output on stdout is not drowned in diagnostics.
func Init(cfg Config) error {
	level := zapcore.WarnLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level = zapcore.WarnLevel
		}
	}

	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	globalLevel.SetLevel(level)
	zc.Level = globalLevel
	zc.OutputPaths = []string{"stderr"}
	if cfg.OutputPath != "" {
		zc.OutputPaths = []string{cfg.OutputPath}
	}

	logger, err := zc.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}

	mu.Lock()
	global = logger
	mu.Unlock()
	return nil
}

// L returns the global logger, creating a warn-level console logger if
// Init has not been called.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		zc := zap.NewDevelopmentConfig()
		zc.Level = globalLevel
		logger, err := zc.Build()
		if err != nil {
			logger = zap.NewNop()
		}
		global = logger
	}
	return global
}

// Sync flushes any buffered log entries.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if global != nil {
		return global.Sync()
	}
	return nil
}

// Named returns a child of the global logger for a component.
func Named(component string) *zap.Logger {
	return L().Named(component)
}
