package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHandler captures log records for testing.
type testHandler struct {
	buf   *bytes.Buffer
	level slog.Level
	attrs []slog.Attr
}

func newTestHandler() *testHandler {
	return &testHandler{
		buf:   &bytes.Buffer{},
		level: slog.LevelDebug,
	}
}

func (h *testHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *testHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	for _, attr := range h.attrs {
		data[attr.Key] = attr.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})
	return json.NewEncoder(h.buf).Encode(data)
}

func (h *testHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newH := &testHandler{
		buf:   h.buf,
		level: h.level,
		attrs: make([]slog.Attr, len(h.attrs)+len(attrs)),
	}
	copy(newH.attrs, h.attrs)
	copy(newH.attrs[len(h.attrs):], attrs)
	return newH
}

func (h *testHandler) WithGroup(string) slog.Handler {
	return h
}

func (h *testHandler) getLastRecord() map[string]any {
	lines := bytes.Split(h.buf.Bytes(), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if len(lines[i]) > 0 {
			var m map[string]any
			if err := json.Unmarshal(lines[i], &m); err == nil {
				return m
			}
		}
	}
	return nil
}

func TestEnrichLogger(t *testing.T) {
	t.Run("adds cell and attempt_id", func(t *testing.T) {
		h := newTestHandler()
		logger := slog.New(h)

		enriched := EnrichLogger(logger, "db-client", "attempt-1")
		enriched.Info("test message")

		record := h.getLastRecord()
		require.NotNil(t, record)
		assert.Equal(t, "db-client", record["cell"])
		assert.Equal(t, "attempt-1", record["attempt_id"])
		assert.Equal(t, "test message", record["msg"])
	})

	t.Run("nil logger returns nil", func(t *testing.T) {
		assert.Nil(t, EnrichLogger(nil, "db-client", "attempt-1"))
	})
}

func TestLogInitLifecycle(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)

	LogInitStart(logger, "cfg", "a1")
	record := h.getLastRecord()
	require.NotNil(t, record)
	assert.Equal(t, "DEBUG", record["level"])
	assert.Equal(t, "initialization starting", record["msg"])
	assert.Equal(t, "a1", record["attempt_id"])

	LogInitComplete(logger, "cfg", "a1", 12.5)
	record = h.getLastRecord()
	assert.Equal(t, "INFO", record["level"])
	assert.Equal(t, "initialization completed", record["msg"])
	assert.Equal(t, 12.5, record["duration_ms"])

	LogInitError(logger, "cfg", "a2", errors.New("dial refused"), 3)
	record = h.getLastRecord()
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "dial refused", record["error"])
	assert.Equal(t, "a2", record["attempt_id"])

	LogWait(logger, "cfg", "a2", 1)
	record = h.getLastRecord()
	assert.Equal(t, "waited for initialization", record["msg"])
}

func TestLogRegistryEvents(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)

	LogRemove(logger, "pools", "users", true)
	record := h.getLastRecord()
	require.NotNil(t, record)
	assert.Equal(t, "pools", record["registry"])
	assert.Equal(t, "users", record["key"])
	assert.Equal(t, true, record["initialized"])

	LogCloseError(logger, "pools", "users", errors.New("already closed"))
	record = h.getLastRecord()
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "already closed", record["error"])
}

func TestLogHelpers_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LogInitStart(nil, "c", "a")
		LogInitComplete(nil, "c", "a", 1)
		LogInitError(nil, "c", "a", errors.New("x"), 1)
		LogWait(nil, "c", "a", 1)
		LogRemove(nil, "r", "k", false)
		LogCloseError(nil, "r", "k", errors.New("x"))
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), 4.0)
}
