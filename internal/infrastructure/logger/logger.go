package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the global logger instance
var Log *zap.Logger

// Init initializes the Zap logger with JSON output. An empty or unknown level
// falls back to info.
func Init(env, level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(lvl),
		Development: env == "development",
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields:    map[string]interface{}{"env": env},
	}

	Log, err = config.Build()
	if err != nil {
		return err
	}

	zap.ReplaceGlobals(Log)
	return nil
}

// Sync flushes any buffered log entries
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}

// global returns the logger with the helper frame skipped, or nil before
// Init.
func global() *zap.Logger {
	if Log == nil {
		return nil
	}
	return Log.WithOptions(zap.AddCallerSkip(1))
}

func Info(msg string, fields ...zap.Field) {
	if l := global(); l != nil {
		l.Info(msg, fields...)
	}
}

func Error(msg string, fields ...zap.Field) {
	if l := global(); l != nil {
		l.Error(msg, fields...)
	}
}

func Warn(msg string, fields ...zap.Field) {
	if l := global(); l != nil {
		l.Warn(msg, fields...)
	}
}

func Debug(msg string, fields ...zap.Field) {
	if l := global(); l != nil {
		l.Debug(msg, fields...)
	}
}

// Fatal logs and exits the process. Before Init it only exits.
func Fatal(msg string, fields ...zap.Field) {
	if l := global(); l != nil {
		l.Fatal(msg, fields...)
	}
	os.Exit(1)
}
