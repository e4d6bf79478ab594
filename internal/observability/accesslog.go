package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// AccessLogConfig controls where proxy access lines go.
type AccessLogConfig struct {
	// Path of the rotating JSON file. Empty disables the file sink.
	Path string
	// Console mirrors access lines to stdout.
	Console bool

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewAccessLogger builds a zap logger tee'd to a lumberjack-rotated file and,
// optionally, stdout. With neither sink configured it returns zap.NewNop().
func NewAccessLogger(cfg AccessLogConfig) (*zap.Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core

	if path := strings.TrimSpace(cfg.Path); path != "" {
		if dir := filepath.Dir(filepath.Clean(path)); dir != "." {
			// #nosec G301 -- log directories use 0755 like the data directory
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create access log directory: %w", err)
			}
		}

		writer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    positiveOr(cfg.MaxSizeMB, 50),
			MaxBackups: positiveOr(cfg.MaxBackups, 3),
			MaxAge:     positiveOr(cfg.MaxAgeDays, 7),
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), writer, zap.InfoLevel))
	}

	if cfg.Console {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.Lock(os.Stdout), zap.InfoLevel))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
