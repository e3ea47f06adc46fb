package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWriterJSONCarriesRunID(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupWriter(&buf, "info", "json")
	ctx := WithRunID(context.Background(), "run-7")
	FromContext(ctx).Info("handled", "kept", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "handled", rec["msg"])
	assert.Equal(t, "run-7", rec["run_id"])
	assert.EqualValues(t, 3, rec["kept"])
}

func TestFromContextWithoutRunID(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupWriter(&buf, "info", "text")
	FromContext(context.Background()).Info("plain")
	assert.NotContains(t, buf.String(), "run_id")
	assert.Contains(t, buf.String(), "msg=plain")
}

func TestLevelFiltering(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupWriter(&buf, "warn", "text")
	WithComponent("cache").Info("hidden")
	assert.Empty(t, buf.String())
	WithComponent("cache").Warn("shown")
	assert.Contains(t, buf.String(), "component=cache")

	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
