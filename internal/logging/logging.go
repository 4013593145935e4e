// Package logging builds the zap logger shared by every component.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger construction.
type Config struct {
	Debug bool
	// File, when set, receives a JSON copy of every entry, rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

const bannerRule = "*******************************************************************"

// New returns a sugared logger writing to stderr and, optionally, to a
// rotated log file. The returned func flushes buffered entries.
func New(cfg Config) (*zap.SugaredLogger, func(), error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	consoleEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	if cfg.Debug {
		level.SetLevel(zapcore.DebugLevel)
		consoleEnc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), level),
	}

	var rotator *lumberjack.Logger
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("can't create log directory: %w", err)
		}
		rotator = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 10),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
		}
		if _, err := rotator.Write([]byte(Banner(time.Now()))); err != nil {
			return nil, nil, fmt.Errorf("can't write log banner: %w", err)
		}
		fileEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.AddSync(rotator), level))
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Debug {
		opts = append(opts, zap.Development())
	}
	logger := zap.New(zapcore.NewTee(cores...), opts...)

	sync := func() {
		_ = logger.Sync()
		if rotator != nil {
			_ = rotator.Close()
		}
	}
	return logger.Sugar(), sync, nil
}

// Banner is the header written at the top of each log file session.
func Banner(now time.Time) string {
	lines := []string{
		bannerRule,
		bannerRule,
		"                POW TRACKER LOG",
		"Date: " + now.Format("2006-01-02 15:04:05.000000"),
		bannerRule,
		bannerRule,
	}
	return strings.Join(lines, "\n") + "\n"
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
