package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config defines the configuration for the logger.
type Config struct {
	Level      string // debug, info, warn, error
	JSON       bool   // JSON formatter instead of text
	FilePath   string // optional rotating log file
	MaxSize    int    // megabytes before rotation
	MaxBackups int
	MaxAge     int // days
	Compress   bool
	Output     io.Writer // console writer, defaults to stderr
}

// DefaultConfig returns the default Config.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		JSON:       true,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	}
}

// New returns a logrus.Logger configured according to cfg.
func New(cfg Config) (*logrus.Logger, error) {
	log := logrus.New()
	if err := Configure(log, cfg); err != nil {
		return nil, err
	}
	return log, nil
}

// Configure applies cfg to an existing logger, typically
// logrus.StandardLogger() so package-level calls pick it up.
func Configure(log *logrus.Logger, cfg Config) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	if cfg.JSON {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	console := cfg.Output
	if console == nil {
		console = os.Stderr
	}
	if cfg.FilePath == "" {
		log.SetOutput(console)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		return err
	}
	log.SetOutput(io.MultiWriter(console, &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}))
	return nil
}

// WithRequest returns an entry tagged with a request ID.
func WithRequest(log logrus.FieldLogger, requestID string) *logrus.Entry {
	return log.WithField("request_id", requestID)
}

// WithFile returns an entry tagged with a file path.
func WithFile(log logrus.FieldLogger, path string) *logrus.Entry {
	return log.WithField("file", path)
}
