package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestNoopMetrics(t *testing.T) {
	m := NoopMetrics{}

	assert.NotPanics(t, func() {
		m.RecordInit(context.Background(), "cell", 100*time.Millisecond, nil)
		m.RecordInit(context.Background(), "cell", 0, errors.New("test"))
		m.RecordWait(context.Background(), "", 0)
		m.RecordRemoval(context.Background(), "")
	})
}

func TestNoopSpanManager(t *testing.T) {
	m := NoopSpanManager{}
	ctx := context.Background()

	newCtx, span := m.StartInitSpan(ctx, "cell", "attempt")
	assert.Equal(t, ctx, newCtx)
	assert.NotNil(t, span)
	assert.False(t, span.IsRecording())

	assert.NotPanics(t, func() {
		m.AddSpanEvent(ctx, "event", attribute.String("k", "v"))
		m.EndSpanWithError(span, errors.New("x"))
		m.EndSpanWithError(nil, nil)
	})
}
