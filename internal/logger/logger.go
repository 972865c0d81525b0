package logger

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

var Log *slog.Logger

// Init initializes the global logger. When logFile is set, output also goes
// to a size-rotated file.
func Init(level string, logFile string) {
	InitWriter(os.Stdout, level, logFile)
}

// InitWriter is Init with an explicit primary writer. The wrapper uses
// io.Discard plus a log file so log lines never land on the terminal it is
// mirroring.
func InitWriter(w io.Writer, level string, logFile string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var writers []io.Writer
	writers = append(writers, w)
	if logFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // MiB
			MaxBackups: 3,
		})
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Shorten time format
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05"))
			}
			return a
		},
	})

	Log = slog.New(handler)
	slog.SetDefault(Log)
}

// Debug logs at debug level
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

// Info logs at info level
func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

// Warn logs at warn level
func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// Error logs at error level
func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}
