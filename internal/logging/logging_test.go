package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
	}
	for _, tt := range tests {
		require.Equal(t, tt.expected, ParseLevel(tt.input), tt.input)
	}
}

func TestSetupWriter(t *testing.T) {
	require.Equal(t, os.Stdout, SetupWriter(Config{Output: "stdout"}))
	require.Equal(t, os.Stderr, SetupWriter(Config{Output: "stderr"}))
	require.Equal(t, os.Stdout, SetupWriter(Config{Output: ""}))
	require.Equal(t, os.Stdout, SetupWriter(Config{Output: "file"}), "file output without a filename falls back to stdout")
}

func TestSetupWriterFileRotatesThroughLumberjack(t *testing.T) {
	w := SetupWriter(Config{Output: "file", Filename: "/tmp/contentd-test.log", MaxSize: 10})
	_, ok := w.(*lumberjack.Logger)
	require.True(t, ok)
}

func TestNew(t *testing.T) {
	logger := New(Config{Level: "info", Format: "json", Output: "stdout"})
	require.NotNil(t, logger)
	logger.Info("test message", "key", "value")
}

func TestNewCorrelationIDIsUniqueAndPrefixed(t *testing.T) {
	id1 := NewCorrelationID()
	id2 := NewCorrelationID()
	require.NotEqual(t, id1, id2)
	require.Contains(t, id1, "corr_")
}

func TestCorrelationIDRoundTripsThroughContext(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "req-123")
	require.Equal(t, "req-123", CorrelationID(ctx))
}

func TestCorrelationIDEmptyWhenAbsent(t *testing.T) {
	require.Equal(t, "", CorrelationID(context.Background()))
}

func TestFromContextAttachesCorrelationIDAndActor(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := WithCorrelationID(context.Background(), "req-123")

	scoped := FromContext(ctx, base, "actor-1")
	require.NotNil(t, scoped)
	scoped.Info("msg")
	require.Contains(t, buf.String(), "correlation_id=req-123")
	require.Contains(t, buf.String(), "actor=actor-1")
}
