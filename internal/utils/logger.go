package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// ExtendedLogger is the logging contract used throughout the core. Every
// component receives one at construction; tests inject a quiet logger.
type ExtendedLogger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// LogrusLogger adapts a logrus.Logger to ExtendedLogger.
type LogrusLogger struct {
	logger *logrus.Logger
}

// LoggerConfig controls logger initialization.
type LoggerConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
	File   string // optional log file path; console when empty
}

// NewLogger creates a logrus-backed ExtendedLogger.
func NewLogger(cfg LoggerConfig) (ExtendedLogger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var out io.Writer = os.Stderr
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
	}
	logger.SetOutput(out)

	return &LogrusLogger{logger: logger}, nil
}

// NewTestLogger returns a logger that discards all output.
func NewTestLogger() ExtendedLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &LogrusLogger{logger: logger}
}

func (l *LogrusLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

func (l *LogrusLogger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

func (l *LogrusLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l *LogrusLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}
