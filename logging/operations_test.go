package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationHelpers_UseMeshLogger(t *testing.T) {
	l, buf := newBufferLogger(LogLevelDebug)

	Invocation(l, "planner", 12, time.Second, nil)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "Invocation completed", lines[0]["msg"])
	assert.Equal(t, float64(12), lines[0]["token_count"])
	assert.Equal(t, true, lines[0]["success"])
}

func TestOperationHelpers_FallBackToPlainLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewSlogAdapter(slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	ModelLoad(l, "m", time.Millisecond, errors.New("boom"))
	ModelAccess(l, "m", 0, time.Millisecond, context.Canceled)
	Download(l, "m", time.Millisecond, nil)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "ERROR", lines[0]["level"])
	assert.Equal(t, "boom", lines[0]["error"])
	assert.Equal(t, "DEBUG", lines[1]["level"])
	assert.Equal(t, "Model access completed (cancelled)", lines[1]["msg"])
	assert.Equal(t, "Download completed", lines[2]["msg"])
}

func TestOperationHelpers_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() { Invocation(nil, "a", 0, 0, nil) })
}

func TestScopingHelpers(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)

	ForInvocation(Component(l, "runner"), "inv-7").Info("started")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "runner", lines[0]["component"])
	assert.Equal(t, "inv-7", lines[0]["invocation_id"])

	assert.Equal(t, NoOpLogger{}, ForInvocation(nil, "x"))
	plain := NewDefaultSlogLogger()
	assert.Same(t, plain, Component(plain, "store"))
}
