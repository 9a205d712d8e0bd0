// Package logging builds the zap loggers used across the engine.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects log destinations.
type Options struct {
	// Verbose lowers the stderr level to Debug.
	Verbose bool
	// FilePath, when non-empty, adds a rotating debug log file.
	FilePath string
}

// New builds a logger writing terse output to stderr and, optionally,
// debug output to a rotating file.
func New(opts Options) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	stderrLevel := zapcore.WarnLevel
	if opts.Verbose {
		stderrLevel = zapcore.DebugLevel
	}
	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderCfg),
			zapcore.Lock(os.Stderr),
			stderrLevel,
		),
	}
	if opts.FilePath != "" {
		rotating := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.AddSync(rotating),
			zapcore.DebugLevel,
		))
	}
	return zap.New(zapcore.NewTee(cores...))
}
