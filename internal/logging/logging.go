// Package logging provides the renderer's structured logging: a dual
// JSON/text global logger pair plus per-component loggers obtained
// through ForService, all backed by log/slog with lumberjack-rotated
// file output for any component that wants its own log file (protocol
// sessions, the codec controller, the driver).
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/waveforge/netrender/internal/conf"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	structuredLogger    *slog.Logger // JSON, file-backed
	humanReadableLogger *slog.Logger // text, stderr-backed
	loggerMu            sync.RWMutex
)

var (
	structuredCloser    io.Closer
	humanReadableCloser io.Closer
)

var (
	currentLevel = new(slog.LevelVar)
	initOnce     sync.Once
	initialized  bool
)

// Custom levels bracketing slog's own Debug..Error range: Trace for the
// per-packet/per-chunk hot-path logging the pipeline stages and RAOP/
// Songcast protocols emit, Fatal for assertion failures (spec §7) that
// precede a process exit.
const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

// defaultReplaceAttr renders timestamps to second precision, names the
// custom levels above, and truncates float attrs (ramp gains, jiffies-
// per-second ratios) to 2 decimal places so logs stay terse.
func defaultReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch {
	case a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime:
		a.Value = slog.StringValue(a.Value.Time().Format("2006-01-02T15:04:05Z07:00"))
	case a.Key == slog.LevelKey:
		if level, ok := a.Value.Any().(slog.Level); ok {
			if name, known := levelNames[level]; known {
				a.Value = slog.StringValue(name)
			} else {
				a.Value = slog.StringValue(level.String())
			}
		} else {
			a.Value = slog.StringValue(fmt.Sprintf("%v", a.Value.Any()))
		}
	case a.Value.Kind() == slog.KindFloat64:
		a.Value = slog.Float64Value(math.Trunc(a.Value.Float64()*100) / 100.0)
	}
	return a
}

// Init sets up the global loggers: JSON to logs/render.log, text to
// stderr. Idempotent; later calls are no-ops. The level defaults to
// Info; cmd/render raises it with SetLevel when --debug is set.
func Init() {
	initOnce.Do(func() {
		currentLevel.Set(slog.LevelInfo)

		if err := os.MkdirAll("logs", 0o755); err != nil { //nolint:gosec
			fmt.Printf("logging: failed to create logs directory: %v\n", err)
			os.Exit(1)
		}

		structuredFile, err := os.OpenFile("logs/render.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666) //nolint:gosec
		if err != nil {
			fmt.Printf("logging: failed to open logs/render.log: %v\n", err)
			structuredFile = os.Stderr
		}
		if structuredFile != os.Stderr {
			structuredCloser = structuredFile
		}

		structuredHandler := slog.NewJSONHandler(structuredFile, &slog.HandlerOptions{
			Level:       currentLevel,
			ReplaceAttr: defaultReplaceAttr,
		})
		humanReadableHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level:       currentLevel,
			ReplaceAttr: defaultReplaceAttr,
		})

		loggerMu.Lock()
		structuredLogger = slog.New(structuredHandler)
		humanReadableLogger = slog.New(humanReadableHandler)
		loggerMu.Unlock()

		slog.SetDefault(structuredLogger)
		initialized = true
	})
}

// IsInitialized reports whether Init has run.
func IsInitialized() bool {
	return initialized
}

// SetLevel adjusts the level shared by every logger returned from this
// package, including loggers already handed out via ForService.
func SetLevel(level slog.Level) {
	currentLevel.Set(level)
}

// SetOutput redirects the global loggers, closing any previously opened
// file writers first.
func SetOutput(structuredOutput, humanReadableOutput io.Writer) error {
	if structuredOutput == nil {
		return errors.New("logging: structured output writer cannot be nil")
	}
	if humanReadableOutput == nil {
		return errors.New("logging: human-readable output writer cannot be nil")
	}

	var closeErrs []error
	if structuredCloser != nil {
		if err := structuredCloser.Close(); err != nil {
			closeErrs = append(closeErrs, fmt.Errorf("closing previous structured output: %w", err))
		}
		structuredCloser = nil
	}
	if humanReadableCloser != nil {
		if err := humanReadableCloser.Close(); err != nil {
			closeErrs = append(closeErrs, fmt.Errorf("closing previous human-readable output: %w", err))
		}
		humanReadableCloser = nil
	}

	structuredHandler := slog.NewJSONHandler(structuredOutput, &slog.HandlerOptions{
		Level:       currentLevel,
		ReplaceAttr: defaultReplaceAttr,
	})
	humanReadableHandler := slog.NewTextHandler(humanReadableOutput, &slog.HandlerOptions{
		Level:       currentLevel,
		ReplaceAttr: defaultReplaceAttr,
	})

	loggerMu.Lock()
	structuredLogger = slog.New(structuredHandler)
	humanReadableLogger = slog.New(humanReadableHandler)
	loggerMu.Unlock()

	if c, ok := structuredOutput.(io.Closer); ok {
		structuredCloser = c
	}
	if c, ok := humanReadableOutput.(io.Closer); ok {
		humanReadableCloser = c
	}

	slog.SetDefault(structuredLogger)

	if len(closeErrs) > 0 {
		return errors.Join(closeErrs...)
	}
	return nil
}

// Structured returns the global JSON logger, or nil before Init.
func Structured() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return structuredLogger
}

// HumanReadable returns the global text logger, or nil before Init.
func HumanReadable() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return humanReadableLogger
}

// ForService returns the global structured logger tagged with a
// "service" attribute, e.g. logging.ForService("raop"),
// logging.ForService("pipeline"). Returns nil before Init.
func ForService(serviceName string) *slog.Logger {
	loggerMu.RLock()
	logger := structuredLogger
	loggerMu.RUnlock()

	if logger == nil {
		return nil
	}
	return logger.With("service", serviceName)
}

// --- package-level convenience wrappers over the default slog logger ---

func Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func Info(msg string, args ...any)  { slog.Info(msg, args...) }
func Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func Error(msg string, args ...any) { slog.Error(msg, args...) }

// Fatal logs at LevelFatal and exits the process. Reserved for the
// CategoryAssertion errors in internal/errors (spec §7 "Assertion ...
// fatal"); recoverable errors are never logged through this path.
func Fatal(msg string, args ...any) {
	slog.Log(context.TODO(), LevelFatal, msg, args...)
	os.Exit(1)
}

// Trace logs at LevelTrace, for per-packet/per-chunk detail too noisy
// for Debug (RAOP/Songcast packet arrival, reservoir push/pop).
func Trace(msg string, args ...any) {
	slog.Log(context.TODO(), LevelTrace, msg, args...)
}

// NewFileLogger builds a JSON logger writing to its own rotated file
// under filePath, tagged with a "service" attribute, sized from
// conf.Setting().Main.Log. Used by components that want a dedicated log
// file rather than sharing the global one — e.g. a RAOP or Songcast
// session's per-connection diagnostics.
func NewFileLogger(filePath, serviceName string, levelVar *slog.LevelVar) (*slog.Logger, func() error, error) {
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil { //nolint:gosec
			return nil, nil, fmt.Errorf("logging: creating log directory %s: %w", logDir, err)
		}
	}

	mainLogConf := conf.Setting().Main.Log

	lj := &lumberjack.Logger{
		Filename: filePath,
		Compress: false,
	}

	maxSizeMB := 100
	maxBackups := 3
	maxAge := 28 // days

	if configMaxSizeMB := int(mainLogConf.MaxSize / (1024 * 1024)); configMaxSizeMB > 0 {
		maxSizeMB = configMaxSizeMB
	}

	switch mainLogConf.Rotation {
	case conf.RotationDaily:
		maxAge = 1
		maxBackups = 30
	case conf.RotationWeekly:
		maxAge = 7
		maxBackups = 4
	case conf.RotationSize:
		// maxSizeMB from config (or the default above) already applies.
	default:
		slog.Warn("logging: unknown rotation policy, using size-based defaults", "configured", mainLogConf.Rotation)
	}

	lj.MaxSize = maxSizeMB
	lj.MaxBackups = maxBackups
	lj.MaxAge = maxAge

	handler := slog.NewJSONHandler(lj, &slog.HandlerOptions{
		Level:       levelVar,
		ReplaceAttr: defaultReplaceAttr,
	})
	logger := slog.New(handler).With("service", serviceName)

	closeFunc := func() error {
		return lj.Close()
	}
	return logger, closeFunc, nil
}
