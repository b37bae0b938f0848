package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

var current atomic.Pointer[slog.Logger]

func init() {
	Setup(os.Getenv("ENVIRONMENT"), os.Stdout)
}

// Setup installs the process logger. Production writes JSON, everything else
// writes text with debug enabled in development.
func Setup(environment string, w io.Writer) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if environment == "development" {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if environment == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	l := slog.New(handler)
	current.Store(l)
	slog.SetDefault(l)
}

// L returns the structured logger for call sites that want attributes.
func L() *slog.Logger {
	return current.Load()
}

func Info(format string, v ...interface{}) {
	L().Info(fmt.Sprintf(format, v...))
}

func Error(format string, v ...interface{}) {
	L().Error(fmt.Sprintf(format, v...))
}

func Debug(format string, v ...interface{}) {
	L().Debug(fmt.Sprintf(format, v...))
}

func Warn(format string, v ...interface{}) {
	L().Warn(fmt.Sprintf(format, v...))
}
