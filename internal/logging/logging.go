// Package logging provides named, category-scoped loggers for the control
// tower. All components log through zap; the CLI decides the level once at
// startup and every package obtains a child logger via For.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names used across the engine. Keeping them in one place makes log
// filtering predictable for operators.
const (
	CategoryRouter    = "router"
	CategoryResolver  = "resolver"
	CategoryCatalog   = "catalog"
	CategoryEngine    = "engine"
	CategoryStore     = "store"
	CategoryOracle    = "oracle"
	CategoryEvaluator = "evaluator"
	CategorySynthesis = "synthesis"
	CategoryWatchdog  = "watchdog"
)

var (
	mu   sync.RWMutex
	root = zap.NewNop()
)

// Init installs the process-wide root logger. verbose lowers the level to
// Debug. Safe to call more than once; the last call wins.
func Init(verbose bool) error {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	mu.Lock()
	root = logger
	mu.Unlock()
	return nil
}

// SetLogger replaces the root logger. Used by tests to capture output.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	root = l
}

// For returns a named sugared logger for the given category.
func For(category string) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(category).Sugar()
}

// Sync flushes buffered log entries. Called from the CLI on exit.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
