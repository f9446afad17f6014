package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a zap logger. format "json" uses the production config,
// "console" the development config. level (if non-empty) overrides the
// default level: debug, info, warn, error.
func New(format, level string, outputPaths ...string) (*zap.Logger, error) {
	var cfg zap.Config
	switch format {
	case "", "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	if level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	if len(outputPaths) > 0 {
		cfg.OutputPaths = outputPaths
	} else {
		cfg.OutputPaths = []string{"stderr"}
	}

	l, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l, nil
}

// Process-wide logger. Init installs it once; L reads it.
var (
	mu     sync.Mutex
	global *zap.Logger
)

// Init builds and installs the process-wide logger. Only the first call
// builds; later calls return the installed logger unchanged.
func Init(format, level string, outputPaths ...string) (*zap.Logger, error) {
	mu.Lock()
	defer mu.Unlock()
	if global != nil {
		return global, nil
	}
	l, err := New(format, level, outputPaths...)
	if err != nil {
		return nil, err
	}
	global = l
	zap.ReplaceGlobals(l)
	return l, nil
}

// L returns the process-wide logger, or a no-op logger before Init.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		return zap.NewNop()
	}
	return global
}

// Sync flushes and uninstalls the process-wide logger. Safe to call
// without Init.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		return nil
	}
	err := global.Sync()
	global = nil
	return err
}
