// Package logger builds the process logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls level and optional file output.
type Config struct {
	Level      string // debug, info, warn, error
	File       string // empty logs to stderr only
	MaxSize    int    // megabytes before rotation
	MaxBackups int
	MaxAge     int // days
}

// ParseLevel maps a level name to a zap level. An empty name is info.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unsupported log level %q", level)
	}
}

// New creates a console logger writing to stderr, and also to a rotated
// file when cfg.File is set. The returned closer flushes and closes the file.
func New(cfg Config) (*zap.Logger, func() error, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	var output io.Writer = os.Stderr
	var file *lumberjack.Logger
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSize, 64),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAge, 7),
			Compress:   true,
		}
		output = io.MultiWriter(os.Stderr, file)
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(output),
		level,
	)
	log := zap.New(core)

	closer := func() error {
		_ = log.Sync()
		if file != nil {
			return file.Close()
		}
		return nil
	}
	return log, closer, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
