package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process logger.
type Options struct {
	Level      string // debug, info, warn, error
	File       string // optional rotating log file in addition to stderr
	MaxSizeMB  int
	MaxBackups int
}

// New builds a JSON zap logger with ISO8601 "timestamp" keys, optionally teeing into a
// lumberjack-rotated file.
func New(opts Options) *zap.Logger {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			level = zapcore.InfoLevel
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level),
	}
	if opts.File != "" {
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(encoder, sink, level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}
