package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/backoffice-ledger/internal/models/events"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublisher_PrefixesTopicAndKeysByEntity(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, "backoffice.", nil)

	err := p.Publish(context.Background(), events.TopicItemTransitioned, events.ItemTransitioned{
		ItemID: "item-1", FromState: "PENDING", ToState: "APPROVED", ActorID: "checker-1",
	})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "backoffice.workflow.item_transitioned", msg.Topic)
	assert.Equal(t, "item-1", string(msg.Key))

	var decoded events.ItemTransitioned
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "APPROVED", decoded.ToState)
}

func TestPublisher_UnkeyedEvent(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, "", nil)

	require.NoError(t, p.Publish(context.Background(), "misc", map[string]int{"n": 1}))
	assert.Equal(t, "misc", w.msgs[0].Topic)
	assert.Nil(t, w.msgs[0].Key)
}

func TestPublisher_WriteError(t *testing.T) {
	boom := errors.New("broker down")
	w := &fakeWriter{err: boom}
	p := newPublisher(w, "", nil)

	err := p.Publish(context.Background(), events.TopicEntryPosted, events.EntryPosted{AccountID: "a"})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
