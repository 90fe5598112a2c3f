package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger     *slog.Logger
	loggerOnce sync.Once
	loggerMu   sync.RWMutex
)

// InitLogger installs the default text logger at info level.
func InitLogger() {
	InitLoggerWith(os.Stderr, "info", "text")
}

// InitLoggerWith installs a logger writing to w. level is one of
// debug, info, warn, error; format is json or text.
func InitLoggerWith(w io.Writer, level, format string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	l := slog.New(h)
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
	slog.SetDefault(l)
}

// GetLogger returns the process logger, creating a default one on first use.
func GetLogger() *slog.Logger {
	loggerOnce.Do(func() {
		loggerMu.RLock()
		ready := logger != nil
		loggerMu.RUnlock()
		if !ready {
			InitLogger()
		}
	})
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MaskSensitiveString keeps the first and last four characters of s and
// replaces the rest with asterisks. Short values are fully masked.
func MaskSensitiveString(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	if len(r) <= 8 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:4]) + strings.Repeat("*", len(r)-8) + string(r[len(r)-4:])
}
