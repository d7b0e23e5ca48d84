package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, ParseLevel(tc.name), "level name %q", tc.name)
	}
}

func TestSetup(t *testing.T) {
	t.Run("emits JSON at the configured level", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := Setup(LoggerConfig{Level: "warn", Output: &buf})
		require.NoError(t, err)
		require.NotNil(t, logger)

		logger.Info("should be filtered")
		logger.Warn("should appear", "key", "value")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "should appear", entry["msg"])
		assert.Equal(t, "value", entry["key"])
		assert.Equal(t, "WARN", entry["level"])
	})

	t.Run("sets the process default logger", func(t *testing.T) {
		prev := slog.Default()
		defer slog.SetDefault(prev)

		var buf bytes.Buffer
		_, err := Setup(LoggerConfig{Level: "info", Output: &buf})
		require.NoError(t, err)

		slog.Info("via default")
		assert.Contains(t, buf.String(), "via default")
	})
}

func TestContextPropagation(t *testing.T) {
	silent := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("round-trips through the context", func(t *testing.T) {
		ctx := WithLogger(context.Background(), silent)
		assert.Same(t, silent, FromContext(ctx))
		assert.Same(t, silent, FromContextOrDefault(ctx, nil))
	})

	t.Run("falls back to the default logger", func(t *testing.T) {
		assert.Same(t, slog.Default(), FromContext(context.Background()))
		assert.NotNil(t, FromContext(nil)) //nolint:staticcheck // nil context is the degenerate case under test
	})

	t.Run("prefers the provided fallback over the default", func(t *testing.T) {
		got := FromContextOrDefault(context.Background(), silent)
		assert.Same(t, silent, got)
	})
}
