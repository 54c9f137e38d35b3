package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel is the named logging level.
type LogLevel string

const (
	LevelTrace LogLevel = "trace"
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
	LevelPanic LogLevel = "panic"
)

// LogFormat selects the output encoding.
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// Config controls level, format, destination and rotation.
type Config struct {
	Level      LogLevel  `yaml:"level" json:"level"`
	Format     LogFormat `yaml:"format" json:"format"`
	Output     string    `yaml:"output" json:"output"` // stdout, stderr, file
	Filename   string    `yaml:"filename" json:"filename"`
	MaxSize    int       `yaml:"max_size" json:"max_size"` // MB per file
	MaxAge     int       `yaml:"max_age" json:"max_age"`   // days
	MaxBackups int       `yaml:"max_backups" json:"max_backups"`
	Compress   bool      `yaml:"compress" json:"compress"`
	Caller     bool      `yaml:"caller" json:"caller"`
	Timestamp  bool      `yaml:"timestamp" json:"timestamp"`
}

// DefaultConfig is used until Init is called.
var DefaultConfig = Config{
	Level:      LevelInfo,
	Format:     FormatJSON,
	Output:     "stdout",
	MaxSize:    100,
	MaxAge:     30,
	MaxBackups: 10,
	Compress:   true,
	Caller:     false,
	Timestamp:  true,
}

// Logger is the structured logging interface used across the service.
// Fields are passed as alternating key/value pairs.
type Logger interface {
	Trace(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	Panic(msg string, fields ...interface{})

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithContext(ctx context.Context) Logger

	SetLevel(level LogLevel)
	GetLevel() LogLevel
}

// StructuredLogger implements Logger on top of logrus.
type StructuredLogger struct {
	logger *logrus.Logger
	entry  *logrus.Entry
	config Config
	mu     sync.RWMutex
}

// NewLogger builds a logger from config. Invalid levels fall back to info,
// unknown outputs to stdout.
func NewLogger(config Config) Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(string(config.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	callerPrettyfier := func(f *runtime.Frame) (string, string) {
		filename := filepath.Base(f.File)
		return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filename, f.Line)
	}

	if config.Format == FormatText {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    config.Timestamp,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerPrettyfier,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerPrettyfier,
		})
	}

	var output io.Writer
	switch config.Output {
	case "stderr":
		output = os.Stderr
	case "file":
		if config.Filename == "" {
			config.Filename = "logs/fundarb.log"
		}
		if err := os.MkdirAll(filepath.Dir(config.Filename), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
			output = os.Stdout
		} else {
			output = &lumberjack.Logger{
				Filename:   config.Filename,
				MaxSize:    config.MaxSize,
				MaxAge:     config.MaxAge,
				MaxBackups: config.MaxBackups,
				Compress:   config.Compress,
			}
		}
	default:
		output = os.Stdout
	}
	logger.SetOutput(output)
	logger.SetReportCaller(config.Caller)

	return &StructuredLogger{
		logger: logger,
		entry:  logrus.NewEntry(logger),
		config: config,
	}
}

func (l *StructuredLogger) Trace(msg string, fields ...interface{}) {
	l.logWithFields(logrus.TraceLevel, msg, fields...)
}

func (l *StructuredLogger) Debug(msg string, fields ...interface{}) {
	l.logWithFields(logrus.DebugLevel, msg, fields...)
}

func (l *StructuredLogger) Info(msg string, fields ...interface{}) {
	l.logWithFields(logrus.InfoLevel, msg, fields...)
}

func (l *StructuredLogger) Warn(msg string, fields ...interface{}) {
	l.logWithFields(logrus.WarnLevel, msg, fields...)
}

func (l *StructuredLogger) Error(msg string, fields ...interface{}) {
	l.logWithFields(logrus.ErrorLevel, msg, fields...)
}

func (l *StructuredLogger) Fatal(msg string, fields ...interface{}) {
	l.logWithFields(logrus.FatalLevel, msg, fields...)
}

func (l *StructuredLogger) Panic(msg string, fields ...interface{}) {
	l.logWithFields(logrus.PanicLevel, msg, fields...)
}

// WithField returns a child logger carrying one extra field.
func (l *StructuredLogger) WithField(key string, value interface{}) Logger {
	return &StructuredLogger{
		logger: l.logger,
		entry:  l.entry.WithField(key, value),
		config: l.config,
	}
}

// WithFields returns a child logger carrying extra fields.
func (l *StructuredLogger) WithFields(fields map[string]interface{}) Logger {
	return &StructuredLogger{
		logger: l.logger,
		entry:  l.entry.WithFields(fields),
		config: l.config,
	}
}

// WithContext attaches the context and lifts well-known request values
// into fields.
func (l *StructuredLogger) WithContext(ctx context.Context) Logger {
	entry := l.entry.WithContext(ctx)

	if requestID := ctx.Value("request_id"); requestID != nil {
		entry = entry.WithField("request_id", requestID)
	}

	return &StructuredLogger{
		logger: l.logger,
		entry:  entry,
		config: l.config,
	}
}

// SetLevel changes the level at runtime.
func (l *StructuredLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()

	logrusLevel, err := logrus.ParseLevel(string(level))
	if err != nil {
		return
	}

	l.logger.SetLevel(logrusLevel)
	l.config.Level = level
}

// GetLevel returns the current level.
func (l *StructuredLogger) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.config.Level
}

// logWithFields interprets the variadic arguments as key/value pairs.
// Odd trailing values and non-string keys are dropped.
func (l *StructuredLogger) logWithFields(level logrus.Level, msg string, fields ...interface{}) {
	entry := l.entry

	if len(fields) > 0 {
		fieldMap := make(map[string]interface{})
		for i := 0; i < len(fields)-1; i += 2 {
			if key, ok := fields[i].(string); ok {
				fieldMap[key] = fields[i+1]
			}
		}
		if len(fieldMap) > 0 {
			entry = entry.WithFields(fieldMap)
		}
	}

	entry.Log(level, msg)
}

var globalLogger Logger

func init() {
	globalLogger = NewLogger(DefaultConfig)
}

// Init replaces the global logger with one built from config.
func Init(config Config) {
	globalLogger = NewLogger(config)
}

// SetGlobalLogger swaps the global logger, mainly for tests.
func SetGlobalLogger(logger Logger) {
	globalLogger = logger
}

// GetGlobalLogger returns the global logger.
func GetGlobalLogger() Logger {
	return globalLogger
}

func Trace(msg string, fields ...interface{}) {
	globalLogger.Trace(msg, fields...)
}

func Debug(msg string, fields ...interface{}) {
	globalLogger.Debug(msg, fields...)
}

func Info(msg string, fields ...interface{}) {
	globalLogger.Info(msg, fields...)
}

func Warn(msg string, fields ...interface{}) {
	globalLogger.Warn(msg, fields...)
}

func Error(msg string, fields ...interface{}) {
	globalLogger.Error(msg, fields...)
}

func Fatal(msg string, fields ...interface{}) {
	globalLogger.Fatal(msg, fields...)
}

func Panic(msg string, fields ...interface{}) {
	globalLogger.Panic(msg, fields...)
}

func WithField(key string, value interface{}) Logger {
	return globalLogger.WithField(key, value)
}

func WithFields(fields map[string]interface{}) Logger {
	return globalLogger.WithFields(fields)
}

func WithContext(ctx context.Context) Logger {
	return globalLogger.WithContext(ctx)
}
