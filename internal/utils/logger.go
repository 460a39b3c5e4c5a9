package utils

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/subarg/internal/config"
)

// ContextKey type for context keys
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	ScanIDKey    ContextKey = "scan_id"
)

// ConfigureLogging applies level, formatter and output to the global logrus logger
func ConfigureLogging(cfg config.AppConfig) error {
	return configure(logrus.StandardLogger(), cfg)
}

// NewLogger creates a standalone logger with the same settings as the global one
func NewLogger(cfg config.AppConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	if err := configure(logger, cfg); err != nil {
		return nil, err
	}
	return logger, nil
}

func configure(logger *logrus.Logger, cfg config.AppConfig) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger.SetLevel(level)

	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	logger.SetOutput(logOutput(cfg))
	return nil
}

// logOutput returns stdout, or a rotating file that also tees to stdout at debug level
func logOutput(cfg config.AppConfig) io.Writer {
	if cfg.LogFile == "" {
		return os.Stdout
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     28,
		Compress:   true,
	}

	if cfg.LogLevel == "debug" {
		return io.MultiWriter(os.Stdout, rotator)
	}
	return rotator
}

// ScanLogger returns an entry tagged with the scan id and target
func ScanLogger(scanID, target string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"scan_id": scanID,
		"target":  target,
	})
}

// FromContext builds a log entry from the ids carried by ctx
func FromContext(ctx context.Context) *logrus.Entry {
	entry := logrus.NewEntry(logrus.StandardLogger())

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		entry = entry.WithField("request_id", requestID)
	}
	if scanID, ok := ctx.Value(ScanIDKey).(string); ok {
		entry = entry.WithField("scan_id", scanID)
	}

	return entry
}

// NewRequestID generates a new request id
func NewRequestID() string {
	return uuid.New().String()
}

// WithRequestID adds a request id to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithScanID adds a scan id to context
func WithScanID(ctx context.Context, scanID string) context.Context {
	return context.WithValue(ctx, ScanIDKey, scanID)
}

// LogToolRun logs the outcome of a single tool invocation
func LogToolRun(entry *logrus.Entry, tool string, found int, duration time.Duration, err error) {
	fields := logrus.Fields{
		"tool":        tool,
		"found":       found,
		"duration_ms": duration.Milliseconds(),
	}

	if err != nil {
		entry.WithFields(fields).WithError(err).Warn("tool run failed")
		return
	}
	entry.WithFields(fields).Info("tool run completed")
}
