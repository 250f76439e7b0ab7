// Package logging provides structured logging for wbq, wrapping
// go.uber.org/zap behind the small level-filtered surface the rest of
// the module (Queue Core, Completion Driver, Table Cache) depends on.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Config holds logging configuration.
type Config struct {
	Level LogLevel
	// Format is "text" (default) or "json".
	Format string
	Output io.Writer
	// Sync forces a sink flush after every log call; tests rely on this
	// to assert against a bytes.Buffer immediately after logging.
	Sync bool
	// NoColor disables ANSI level coloring in the "text" encoder.
	NoColor bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// Logger wraps a zap.SugaredLogger with level filtering and the
// With*-style child-logger helpers used throughout wbq.
type Logger struct {
	sugar *zap.SugaredLogger
	level LogLevel
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// NewLogger creates a new logger.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	format := config.Format
	if format == "" {
		format = "text"
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if config.NoColor {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	var encoder zapcore.Encoder
	if format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	ws := zapcore.AddSync(output)
	core := zapcore.NewCore(encoder, ws, config.Level.zapLevel())
	zl := zap.New(core)
	if config.Sync {
		zl = zl.WithOptions(zap.Hooks(func(zapcore.Entry) error {
			_ = ws.Sync()
			return nil
		}))
	}

	return &Logger{sugar: zl.Sugar(), level: config.Level}
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// formatArgs converts key-value pairs to a string.
func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var result string
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			if result != "" {
				result += " "
			}
			result += fmt.Sprintf("%v=%v", args[i], args[i+1])
		}
	}
	if result != "" {
		return " " + result
	}
	return ""
}

func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debug(msg + formatArgs(args)) }
func (l *Logger) Info(msg string, args ...any)  { l.sugar.Info(msg + formatArgs(args)) }
func (l *Logger) Warn(msg string, args ...any)  { l.sugar.Warn(msg + formatArgs(args)) }
func (l *Logger) Error(msg string, args ...any) { l.sugar.Error(msg + formatArgs(args)) }

// Printf-style logging, used where wbq packages take an interfaces.Logger.
func (l *Logger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...) }

// Printf for compatibility.
func (l *Logger) Printf(format string, args ...any) { l.Infof(format, args...) }

// WithQueue returns a child logger tagged with the owning Queue's id.
func (l *Logger) WithQueue(id int) *Logger {
	return &Logger{sugar: l.sugar.With("queue_id", id), level: l.level}
}

// WithSection returns a child logger tagged with a producer's section id.
func (l *Logger) WithSection(id int) *Logger {
	return &Logger{sugar: l.sugar.With("section_id", id), level: l.level}
}

// WithRequest returns a child logger tagged with a request's tag and kind
// ("READ", "WRITE", "BARRIER").
func (l *Logger) WithRequest(tag int, op string) *Logger {
	return &Logger{sugar: l.sugar.With("tag", tag, "op", op), level: l.level}
}

// WithError returns a child logger with the error pre-attached.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{sugar: l.sugar.With("error", err), level: l.level}
}

// Global convenience functions.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
