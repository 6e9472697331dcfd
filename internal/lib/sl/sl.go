// Package sl настраивает slog для бинарников и содержит атрибуты для
// единообразного логирования ошибок.
package sl

import (
	"log/slog"
	"os"
	"strings"
)

const envLocal = "local"

// Err возвращает атрибут "error" с текстом ошибки.
//
//	log.Error("failed to sync license", sl.Err(err))
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// ParseLevel переводит уровень из конфигурации в slog.Level.
// Неизвестное значение даёт info.
func ParseLevel(level string) slog.Level {
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

// SetupLogger текстовый логгер для локального окружения, JSON для остальных.
func SetupLogger(env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if env == envLocal {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
