package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	config "github.com/maheshrc27/gramflow/configs"
)

// New builds the process logger. Console output follows cfg.Format; when
// cfg.File is set a rotating JSON file is written as well. The returned
// closer releases the file and is safe to call when no file is configured.
func New(cfg config.Log) (*slog.Logger, io.Closer) {
	level := ParseLevel(cfg.Level, slog.LevelInfo)
	opts := &slog.HandlerOptions{Level: level}

	var console slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		console = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		console = slog.NewTextHandler(os.Stdout, opts)
	}

	if strings.TrimSpace(cfg.File) == "" {
		return slog.New(console), nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	return slog.New(fanout{console, slog.NewJSONHandler(rotator, opts)}), rotator
}

func ParseLevel(s string, def slog.Level) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return def
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
