package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContext_Default(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithLogger(context.Background(), base)
	ctx = With(ctx, "request_id", "r-1")
	ctx = With(ctx, "user_id", "student-1")

	FromContext(ctx).Info("submitted")

	out := buf.String()
	assert.Contains(t, out, "request_id=r-1")
	assert.Contains(t, out, "user_id=student-1")
	assert.Contains(t, out, "msg=submitted")
}
