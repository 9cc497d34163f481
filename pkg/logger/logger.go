package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger is the shared instance configured by Init.
	Logger *logrus.Logger
	logMu  sync.Mutex
)

// Config controls log level, format and file rotation.
type Config struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	OutputFile string `yaml:"output_file"` // empty logs to stdout only
	MaxSize    int    `yaml:"max_size"`    // MB per file before rotation
	MaxBackups int    `yaml:"max_backups"` // rotated files kept
	MaxAge     int    `yaml:"max_age"`     // days rotated files are kept
	Compress   bool   `yaml:"compress"`
}

// Init configures the shared logger and the global logrus instance so
// package-level entries created with logrus.WithField share the output.
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	formatter := &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
	}
	logger.SetFormatter(formatter)

	writers := []io.Writer{os.Stdout}
	if config.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.OutputFile), 0o755); err != nil {
			return err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.OutputFile,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
	}
	multi := io.MultiWriter(writers...)
	logger.SetOutput(multi)

	logrus.SetOutput(multi)
	logrus.SetLevel(level)
	logrus.SetFormatter(formatter)

	Logger = logger
	return nil
}
