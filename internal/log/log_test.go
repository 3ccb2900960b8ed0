package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/nerv-tools/magi/internal/log"

	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(log.NewContextHandler(base))

	ctx := log.ContextAttrs(context.Background(),
		slog.String("trace_id", "abc"),
	)
	ctx = log.ContextAttrs(ctx, slog.Int("pid", 42))

	logger.InfoContext(ctx, "hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "hello", record["msg"])
	require.Equal(t, "abc", record["trace_id"])
	require.EqualValues(t, 42, record["pid"])
}

func TestContextAttrsMissing(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(log.NewContextHandler(base))

	logger.InfoContext(context.Background(), "plain")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "plain", record["msg"])
	require.NotContains(t, record, "trace_id")
}
