// Package logging builds the application zap logger: a rotating JSON file
// core teed with a console core.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the application logger.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string

	// Format selects the console encoder: "text" or "json"
	Format string

	// AppLogPath is the rotated JSON log file; empty disables the file core
	AppLogPath string

	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool

	// Quiet drops the console core (used by the interactive CLI)
	Quiet bool
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "text",
		AppLogPath: "logs/app.log",
		MaxSize:    100,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
	}
}

// New creates the application logger.
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var cores []zapcore.Core

	if cfg.AppLogPath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.AppLogPath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(rotator),
			level,
		))
	}

	if !cfg.Quiet {
		var consoleEncoder zapcore.Encoder
		switch cfg.Format {
		case "json":
			consoleEncoder = zapcore.NewJSONEncoder(encoderConfig)
		case "text", "":
			dev := zap.NewDevelopmentEncoderConfig()
			dev.EncodeTime = zapcore.ISO8601TimeEncoder
			consoleEncoder = zapcore.NewConsoleEncoder(dev)
		default:
			return nil, fmt.Errorf("invalid log format %s", cfg.Format)
		}
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}
