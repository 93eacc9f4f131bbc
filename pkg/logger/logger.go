// Package logger builds the structured zap logger used by the memory engine and CLI.
//
// Console output goes to stderr so command output on stdout stays machine readable.
// When OutputPath is set, a lumberjack writer rotates a JSON log file alongside it.
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

// Level represents the log level.
type Level string

const (
	// LevelDebug for debug messages.
	LevelDebug Level = "debug"
	// LevelInfo for informational messages.
	LevelInfo Level = "info"
	// LevelWarn for warning messages.
	LevelWarn Level = "warn"
	// LevelError for error messages.
	LevelError Level = "error"
)

// Config represents logger configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error). Empty means warn.
	Level Level `json:"level,omitempty"`

	// OutputPath is the log file path. Empty means console only.
	OutputPath string `json:"output_path,omitempty"`

	// MaxSize is the maximum size in megabytes before rotation (default: 10).
	MaxSize int `json:"max_size,omitempty"`

	// MaxBackups is the maximum number of old log files to retain (default: 3).
	MaxBackups int `json:"max_backups,omitempty"`

	// MaxAge is the maximum number of days to retain old log files (default: 7).
	MaxAge int `json:"max_age,omitempty"`

	// Compress determines if rotated log files should be gzipped.
	Compress bool `json:"compress,omitempty"`

	// Development enables human-readable console output.
	Development bool `json:"development,omitempty"`

	// Quiet disables console output entirely.
	Quiet bool `json:"quiet,omitempty"`
}

// DefaultConfig returns a console-only logger configuration at warn level.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelWarn,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     7,
	}
}

// New creates a zap logger from cfg.
func New(cfg *Config) (*zap.Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return build(cfg, os.Stderr)
}

func build(cfg *Config, console io.Writer) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var cores []zapcore.Core

	if !cfg.Quiet && console != nil {
		consoleConfig := encoderConfig
		var encoder zapcore.Encoder
		if cfg.Development {
			consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
			encoder = zapcore.NewConsoleEncoder(consoleConfig)
		} else {
			encoder = zapcore.NewJSONEncoder(consoleConfig)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(console), level))
	}

	if cfg.OutputPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0o700); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}

		fileWriter := &lumberjack.Logger{
			Filename:   cfg.OutputPath,
			MaxSize:    orDefault(cfg.MaxSize, 10),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAge, 7),
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(fileWriter),
			level,
		))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	options := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		options = append(options, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), options...), nil
}

// ParseLevel converts a level name to a zapcore.Level. Empty means warn.
func ParseLevel(level Level) (zapcore.Level, error) {
	switch Level(strings.ToLower(string(level))) {
	case "":
		return zapcore.WarnLevel, nil
	case LevelDebug:
		return zapcore.DebugLevel, nil
	case LevelInfo:
		return zapcore.InfoLevel, nil
	case LevelWarn, "warning":
		return zapcore.WarnLevel, nil
	case LevelError:
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
