// Package logging provides config-driven categorized logging for the alia core.
// Logs are written to <root>/log/ with a separate file per category.
// Logging is controlled by debug_mode in the logging config - when false, no logs are written.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem
type Category string

const (
	CategoryBoot      Category = "boot"      // Reset, KB loading
	CategoryCore      Category = "core"      // Exchange cycle, think clock
	CategoryWMem      Category = "wmem"      // Node pool, main/halo partitions
	CategoryMatch     Category = "match"     // Subgraph matcher
	CategoryRules     Category = "rules"     // Halo refresh, consolidation
	CategoryOps       Category = "ops"       // Operator selection
	CategoryEngine    Category = "engine"    // Directive/chain/play execution
	CategoryKernel    Category = "kernel"    // Grounding kernel dispatch
	CategoryGraphize  Category = "graphize"  // Association list lowering
	CategoryLang      Category = "lang"      // Reference parser
	CategoryKB        Category = "kb"        // On-disk knowledge base
	CategoryStore     Category = "store"     // SQLite persistence
	CategoryHost      Category = "host"      // Background runner
	CategoryTransport Category = "transport" // Remote body connection
)

// Settings mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports
type Settings struct {
	DebugMode  bool
	Level      string
	JSONFormat bool
	Categories map[string]bool
}

// Logger wraps a sugared zap logger bound to one category
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	file     *os.File
}

var (
	loggers  = make(map[Category]*Logger)
	mu       sync.RWMutex
	logsDir  string
	settings Settings
	level    = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	nop      = zap.NewNop().Sugar()
)

// Initialize sets up the log directory and stores the settings.
// Should be called once at reset with the root directory of the robot's files.
func Initialize(root string, s Settings) error {
	if root == "" {
		return fmt.Errorf("root path required")
	}
	CloseAll()

	mu.Lock()
	settings = s
	logsDir = filepath.Join(root, "log")
	level.SetLevel(parseLevel(s.Level))
	mu.Unlock()

	if !s.DebugMode {
		return nil
	}
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== alia logging initialized ===")
	boot.Info("Log directory: %s", logsDir)
	boot.Info("Log level: %s", level.Level())
	return nil
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// IsDebugMode returns whether logging is enabled at all
func IsDebugMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return settings.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()

	if !settings.DebugMode {
		return false
	}
	if settings.Categories == nil {
		return true
	}
	enabled, exists := settings.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category, sugar: nop}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	dir := logsDir
	jsonFormat := settings.JSONFormat
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", path, err)
		return &Logger{category: category, sugar: nop}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if jsonFormat {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(file), level)
	l := &Logger{
		category: category,
		sugar:    zap.New(core).Named(string(category)).Sugar(),
		file:     file,
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// With returns a logger carrying structured key-value context
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// CloseAll flushes and closes all open log files (call at shutdown)
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()

	for _, l := range loggers {
		_ = l.sugar.Sync()
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{})  { Get(CategoryBoot).Warn(format, args...) }
func BootError(format string, args ...interface{}) { Get(CategoryBoot).Error(format, args...) }

func Core(format string, args ...interface{})      { Get(CategoryCore).Info(format, args...) }
func CoreDebug(format string, args ...interface{}) { Get(CategoryCore).Debug(format, args...) }
func CoreError(format string, args ...interface{}) { Get(CategoryCore).Error(format, args...) }

func WMemDebug(format string, args ...interface{}) { Get(CategoryWMem).Debug(format, args...) }
func WMemWarn(format string, args ...interface{})  { Get(CategoryWMem).Warn(format, args...) }

func MatchDebug(format string, args ...interface{}) { Get(CategoryMatch).Debug(format, args...) }

func Rules(format string, args ...interface{})      { Get(CategoryRules).Info(format, args...) }
func RulesDebug(format string, args ...interface{}) { Get(CategoryRules).Debug(format, args...) }

func Ops(format string, args ...interface{})      { Get(CategoryOps).Info(format, args...) }
func OpsDebug(format string, args ...interface{}) { Get(CategoryOps).Debug(format, args...) }
func OpsWarn(format string, args ...interface{})  { Get(CategoryOps).Warn(format, args...) }

func Engine(format string, args ...interface{})      { Get(CategoryEngine).Info(format, args...) }
func EngineDebug(format string, args ...interface{}) { Get(CategoryEngine).Debug(format, args...) }
func EngineWarn(format string, args ...interface{})  { Get(CategoryEngine).Warn(format, args...) }

func Kernel(format string, args ...interface{})      { Get(CategoryKernel).Info(format, args...) }
func KernelDebug(format string, args ...interface{}) { Get(CategoryKernel).Debug(format, args...) }
func KernelWarn(format string, args ...interface{})  { Get(CategoryKernel).Warn(format, args...) }
func KernelError(format string, args ...interface{}) { Get(CategoryKernel).Error(format, args...) }

func Graphize(format string, args ...interface{})      { Get(CategoryGraphize).Info(format, args...) }
func GraphizeDebug(format string, args ...interface{}) { Get(CategoryGraphize).Debug(format, args...) }

func Lang(format string, args ...interface{})      { Get(CategoryLang).Info(format, args...) }
func LangDebug(format string, args ...interface{}) { Get(CategoryLang).Debug(format, args...) }

func KB(format string, args ...interface{})      { Get(CategoryKB).Info(format, args...) }
func KBDebug(format string, args ...interface{}) { Get(CategoryKB).Debug(format, args...) }
func KBWarn(format string, args ...interface{})  { Get(CategoryKB).Warn(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

func Host(format string, args ...interface{})      { Get(CategoryHost).Info(format, args...) }
func HostDebug(format string, args ...interface{}) { Get(CategoryHost).Debug(format, args...) }
func HostError(format string, args ...interface{}) { Get(CategoryHost).Error(format, args...) }

func Transport(format string, args ...interface{})      { Get(CategoryTransport).Info(format, args...) }
func TransportDebug(format string, args ...interface{}) { Get(CategoryTransport).Debug(format, args...) }

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
