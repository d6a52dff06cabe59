// Package logging builds the process-wide zap.Logger, adapted from the
// teacher's internal/infrastructure/logger.NewLogger, extended with an
// optional append-only debug-log-file core (§6, SPEC_FULL.md Ambient
// Stack "Logging").
package logging

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the process logger.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or file path

	// Debug opens an additional append-only debug log file at
	// <Cwd>/.review-debug-<timestamp>.log and tees every log record to
	// it regardless of Level, per §6.
	Debug bool
	Cwd   string
}

// New builds a *zap.Logger from cfg. When Debug is set, the returned
// cleanup func must be called to close the debug log file; it is a
// no-op otherwise.
func New(cfg Config) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPath := cfg.OutputPath
	if outputPath == "" {
		outputPath = "stderr"
	}

	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{outputPath},
		ErrorOutputPaths: []string{"stderr"},
	}
	if zcfg.Encoding == "" {
		zcfg.Encoding = "json"
	}

	base, err := zcfg.Build()
	if err != nil {
		return nil, func() {}, err
	}

	if !cfg.Debug {
		return base, func() {}, nil
	}

	debugPath, debugFile, err := openDebugLogFile(cfg.Cwd)
	if err != nil {
		base.Warn("could not open debug log file; continuing without it", zap.Error(err))
		return base, func() {}, nil
	}

	debugCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(debugFile),
		zapcore.DebugLevel,
	)

	tee := zap.New(zapcore.NewTee(base.Core(), debugCore))
	tee.Info("debug log enabled", zap.String("path", debugPath))
	cleanup := func() { _ = debugFile.Close() }
	return tee, cleanup, nil
}

func openDebugLogFile(cwd string) (string, *os.File, error) {
	name := fmt.Sprintf(".review-debug-%d.log", time.Now().UnixNano())
	path := name
	if cwd != "" {
		path = cwd + string(os.PathSeparator) + name
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", nil, err
	}
	return path, f, nil
}
