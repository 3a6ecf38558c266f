package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(l *Logger) {
	l.sink.now = func() time.Time { return time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC) }
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": DEBUG, "INFO": INFO, "": INFO, "warning": WARN, "error": ERROR}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	_, err := New(&bytes.Buffer{}, Config{Format: "xml"})
	assert.Error(t, err)
}

func TestLogger_TextOutputIsSorted(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, Config{Service: "triage-ml"})
	require.NoError(t, err)
	fixedClock(l)

	l.Info("sync finished", Int("inserted", 3), String("run_id", "abc"), Bool("ok", true), Component("ingest"))

	assert.Equal(t,
		"2026-03-01T02:00:00Z [INFO] sync finished service=triage-ml component=ingest inserted=3 ok=true run_id=abc\n",
		buf.String())
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, Config{Level: "warn"})
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	l.Error("also shown", errors.New("boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[WARN] shown")
	assert.Contains(t, lines[1], `error="boom"`)
}

func TestLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, Config{Format: "json", Service: "triage-ml"})
	require.NoError(t, err)

	l.With(Component("mlmodel")).Error("training failed", errors.New("no data"), Float("duration_ms", 1.5))

	var entry Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry.Level)
	assert.Equal(t, "training failed", entry.Message)
	assert.Equal(t, "mlmodel", entry.Component)
	assert.Equal(t, "no data", entry.Error)
	assert.Equal(t, 1.5, entry.Fields["duration_ms"])
}

func TestLogger_WithDoesNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, Config{})
	require.NoError(t, err)
	fixedClock(l)

	child := l.With(String("kind", "risk_classifier"))
	child.Info("child")
	l.Info("parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "kind=risk_classifier")
	assert.NotContains(t, lines[1], "kind=")
}

func TestNop(t *testing.T) {
	l := Nop()
	assert.NotPanics(t, func() {
		l.Error("ignored", errors.New("x"))
		l.With(String("a", "b")).Info("ignored")
	})
}
