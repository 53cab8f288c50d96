package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLoggerEmitsCloudLoggingSeverity(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Component: "owner-api", Level: "warn", Output: &buf})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", zap.String("tenant_id", "t-1"))
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	require.Equal(t, "WARNING", entry["severity"])
	require.Equal(t, "kept", entry["message"])
	require.Equal(t, "owner-api", entry["component"])
	require.Equal(t, "t-1", entry["tenant_id"])
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(Config{Level: "loud"})
	require.Error(t, err)
}

func TestFromContextOr(t *testing.T) {
	fallback := zap.NewNop()
	require.Same(t, fallback, FromContextOr(context.Background(), fallback))

	scoped := zap.NewExample()
	require.Same(t, scoped, FromContextOr(WithLogger(context.Background(), scoped), fallback))
}
