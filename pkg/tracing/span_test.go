package tracing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "pipeline.run", "")
	require.NotEmpty(t, root.TraceID)
	root.SetAttr("job", "discord_channels")

	_, fetch := StartChildSpan(ctx, "fetch")
	fetch.Fail(errors.New("429 too many requests"))
	fetch.End()
	_, load := StartChildSpan(ctx, "load")
	load.End()
	root.End()
	d := root.Duration
	root.End()
	assert.Equal(t, d, root.Duration)

	children := root.Children()
	require.Len(t, children, 2)
	assert.Equal(t, root.TraceID, children[0].TraceID)
	assert.Equal(t, "429 too many requests", children[0].Err)
	v, ok := root.Attr("job")
	assert.True(t, ok)
	assert.Equal(t, "discord_channels", v)

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "level=WARN")
	assert.Contains(t, lines[2], "depth=1")
}

func TestChildWithoutParentStartsTrace(t *testing.T) {
	ctx, span := StartChildSpan(context.Background(), "orphan")
	assert.NotEmpty(t, span.TraceID)
	assert.Same(t, span, FromContext(ctx))
}
