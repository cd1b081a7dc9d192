package logger

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger levels
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
	FatalLevel = "fatal"
	PanicLevel = "panic"
)

// Logger is our application logger
type Logger struct {
	*logrus.Logger
	serviceName string
}

// Fields represents structured logging fields
type Fields map[string]interface{}

var (
	defaultLogger *Logger
)

// Config holds logger configuration
type Config struct {
	Level       string
	Format      string // json or text
	ServiceName string
	Environment string

	// File logging
	EnableFile bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days

	// Console logging
	EnableConsole bool

	// Structured logging fields
	DefaultFields Fields
}

// Init initializes the global logger
func Init(config Config) error {
	logger := logrus.New()

	// Set log level
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	// Set formatter
	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
				logrus.FieldKeyFunc:  "caller",
			},
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	// Configure output
	if config.EnableFile && config.FilePath != "" {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		// Setup file rotation
		fileWriter := &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   true,
		}

		if config.EnableConsole {
			// Log to both file and console
			logger.SetOutput(os.Stdout)
			logger.AddHook(&FileHook{writer: fileWriter})
		} else {
			// Log to file only
			logger.SetOutput(fileWriter)
		}
	} else if config.EnableConsole {
		logger.SetOutput(os.Stdout)
	}

	// Set default fields
	defaultFields := logrus.Fields{
		"service":     config.ServiceName,
		"environment": config.Environment,
		"version":     os.Getenv("APP_VERSION"),
	}

	// Add custom default fields
	for k, v := range config.DefaultFields {
		defaultFields[k] = v
	}

	defaultLogger = &Logger{
		Logger:      logger,
		serviceName: config.ServiceName,
	}

	// Add default fields to all logs
	defaultLogger.Logger = defaultLogger.Logger.WithFields(defaultFields).Logger

	return nil
}

// GetLogger returns the default logger instance
func GetLogger() *Logger {
	if defaultLogger == nil {
		// Fallback logger
		if err := Init(Config{
			Level:         InfoLevel,
			Format:        "text",
			ServiceName:   "altruist",
			Environment:   "development",
			EnableConsole: true,
		}); err != nil {
			log.Printf("failed to initialize fallback logger: %v", err)
		}
	}
	return defaultLogger
}

// WithFields creates a logger with additional fields
func (l *Logger) WithFields(fields Fields) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields(fields))
}

// WithContext creates a logger with context
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithContext(ctx)

	// Extract common context values
	if requestID := ctx.Value("request_id"); requestID != nil {
		entry = entry.WithField("request_id", requestID)
	}
	if userID := ctx.Value("user_id"); userID != nil {
		entry = entry.WithField("user_id", userID)
	}
	if traceID := ctx.Value("trace_id"); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}

	return entry
}

// LogHandlerEvent logs the outcome of a gate-bound handler dispatch.
func (l *Logger) LogHandlerEvent(packetType, connectionID string, duration time.Duration, err error) {
	fields := Fields{
		"packet_type":   packetType,
		"connection_id": connectionID,
		"duration_ms":   duration.Milliseconds(),
		"type":          "handler_event",
	}

	entry := l.WithFields(fields)

	if err != nil {
		entry.WithError(err).Error(fmt.Sprintf("handler for %s failed", packetType))
	} else {
		entry.Debug(fmt.Sprintf("handler for %s completed", packetType))
	}
}

// LogDeliveryEvent logs a router send outcome.
func (l *Logger) LogDeliveryEvent(kind, target string, err error) {
	fields := Fields{
		"send_kind": kind,
		"target":    target,
		"type":      "delivery_event",
	}

	entry := l.WithFields(fields)

	if err != nil {
		entry.WithError(err).Warn(fmt.Sprintf("%s delivery to %s failed", kind, target))
	} else {
		entry.Debug(fmt.Sprintf("%s delivery to %s completed", kind, target))
	}
}

// LogBridgeEvent logs an inter-process bridge push/pop.
func (l *Logger) LogBridgeEvent(direction, processID string, err error) {
	fields := Fields{
		"direction":  direction,
		"process_id": processID,
		"type":       "bridge_event",
	}

	entry := l.WithFields(fields)

	if err != nil {
		entry.WithError(err).Error(fmt.Sprintf("bridge %s failed", direction))
	} else {
		entry.Debug(fmt.Sprintf("bridge %s ok", direction))
	}
}

// LogTickEvent logs engine-loop anomalies: slow ticks, dropped dynamic tasks, static task panics.
func (l *Logger) LogTickEvent(event string, currentTick int64, details Fields) {
	fields := Fields{
		"event": event,
		"tick":  currentTick,
		"type":  "tick_event",
	}

	for k, v := range details {
		fields[k] = v
	}

	l.WithFields(fields).Warn(fmt.Sprintf("tick event: %s", event))
}

// LogReadinessEvent logs a readiness-state transition.
func (l *Logger) LogReadinessEvent(from, to, reason string) {
	fields := Fields{
		"from":   from,
		"to":     to,
		"reason": reason,
		"type":   "readiness_event",
	}

	l.WithFields(fields).Info(fmt.Sprintf("readiness %s -> %s", from, to))
}

// FileHook sends logs to file
type FileHook struct {
	writer *lumberjack.Logger
}

func (hook *FileHook) Fire(entry *logrus.Entry) error {
	line, err := entry.Bytes()
	if err != nil {
		return err
	}
	_, err = hook.writer.Write(line)
	return err
}

func (hook *FileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Structured logging helpers
func Debug(msg string, fields ...Fields) {
	entry := GetLogger().Logger.WithFields(mergeFields(fields...))
	entry.Debug(msg)
}

func Info(msg string, fields ...Fields) {
	entry := GetLogger().Logger.WithFields(mergeFields(fields...))
	entry.Info(msg)
}

func Warn(msg string, fields ...Fields) {
	entry := GetLogger().Logger.WithFields(mergeFields(fields...))
	entry.Warn(msg)
}

func Error(msg string, err error, fields ...Fields) {
	entry := GetLogger().Logger.WithFields(mergeFields(fields...))
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}

func Fatal(msg string, err error, fields ...Fields) {
	entry := GetLogger().Logger.WithFields(mergeFields(fields...))
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Fatal(msg)
}

func mergeFields(fieldSlices ...Fields) logrus.Fields {
	result := make(logrus.Fields)
	for _, fields := range fieldSlices {
		for k, v := range fields {
			result[k] = v
		}
	}
	return result
}
