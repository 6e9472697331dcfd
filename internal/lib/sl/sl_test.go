package sl_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
)

func TestErr_ReturnsCorrectAttr(t *testing.T) {
	err := errors.New("something went wrong")
	attr := sl.Err(err)

	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, slog.StringValue("something went wrong"), attr.Value)
}

func TestErr_NilError(t *testing.T) {
	assert.Panics(t, func() {
		_ = sl.Err(nil)
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: " WARN ", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "info", want: slog.LevelInfo},
		{in: "verbose", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sl.ParseLevel(tt.in))
		})
	}
}

func TestSetupLogger(t *testing.T) {
	ctx := context.Background()

	local := sl.SetupLogger("local", "debug")
	assert.IsType(t, &slog.TextHandler{}, local.Handler())
	assert.True(t, local.Enabled(ctx, slog.LevelDebug))

	prod := sl.SetupLogger("prod", "warn")
	assert.IsType(t, &slog.JSONHandler{}, prod.Handler())
	assert.False(t, prod.Enabled(ctx, slog.LevelInfo))
}
