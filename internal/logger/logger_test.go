package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/johnayoung/go-trade-backfill/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerManager_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "backfill.log")
	lm, err := NewLoggerManager(config.LoggingConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: path,
		MaxSize:  1,
	})
	require.NoError(t, err)

	lm.GetComponentLogger("collector").Info("download finished", "pair", "XBTUSD", "trades", 42)
	lm.GetLogger().Debug("suppressed")
	require.NoError(t, lm.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "collector", entry["component"])
	assert.Equal(t, "XBTUSD", entry["pair"])
	assert.Equal(t, float64(42), entry["trades"])
}

func TestNewLoggerManager_FileWithoutPath(t *testing.T) {
	_, err := NewLoggerManager(config.LoggingConfig{Output: "file"})
	assert.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("nonsense"))
}

func TestComponentLoggerCache(t *testing.T) {
	lm, err := NewLoggerManager(config.LoggingConfig{Level: "info", Format: "text", Output: "stderr"})
	require.NoError(t, err)

	a := lm.GetComponentLogger("exchange")
	b := lm.GetComponentLogger("exchange")
	assert.Same(t, a.Logger, b.Logger)
	assert.Equal(t, "exchange", a.Component())
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	runID := NewRunID()
	_, err := uuid.Parse(runID)
	require.NoError(t, err)

	ctx := WithPair(WithRunID(context.Background(), runID), "ETHUSD")
	FromContext(ctx, base).Info("page stored")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, runID, entry["run_id"])
	assert.Equal(t, "ETHUSD", entry["pair"])
	assert.Equal(t, runID, GetRunID(ctx))
	assert.Equal(t, "ETHUSD", GetPair(ctx))

	assert.Same(t, base, FromContext(context.Background(), base))
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	require.NoError(t, TimedOperation(logger, "aggregate", func() error { return nil }))
	assert.Contains(t, buf.String(), "timed operation completed")

	boom := errors.New("boom")
	assert.ErrorIs(t, TimedOperation(logger, "aggregate", func() error { return boom }), boom)
	assert.Contains(t, buf.String(), "timed operation failed")
}
