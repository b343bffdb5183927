package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(ctx context.Context, topic string, event any) error {
	return f.err
}

func TestLogPublisher_WritesTopic(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	require.NoError(t, p.Publish(context.Background(), "ledger.entry_posted", map[string]string{"entry_id": "e1"}))

	entries := logs.FilterField(zap.String("topic", "ledger.entry_posted")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "event", entries[0].Message)
}

func TestRecorder_FiltersByTopic(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()
	_ = r.Publish(ctx, "a", 1)
	_ = r.Publish(ctx, "b", 2)
	_ = r.Publish(ctx, "a", 3)

	assert.Len(t, r.Messages(""), 3)
	a := r.Messages("a")
	require.Len(t, a, 2)
	assert.Equal(t, 3, a[1].Event)
}

func TestFanout_DeliversToAllAndReportsFirstError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRecorder()
	f := Fanout{failingPublisher{err: boom}, r}

	err := f.Publish(context.Background(), "t", "x")

	assert.ErrorIs(t, err, boom)
	assert.Len(t, r.Messages("t"), 1)
}
