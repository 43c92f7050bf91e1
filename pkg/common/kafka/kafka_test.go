package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/trainwatch/pkg/common/models"
)

func TestEncodeEventKeysBySession(t *testing.T) {
	event := models.Event{
		ID:        "evt-1",
		Type:      models.EventSessionProgress,
		Source:    "trainwatch",
		Data:      map[string]interface{}{"sessionId": "S1", "currentEpoch": 3},
		Timestamp: time.Now().UTC(),
	}

	message, err := encodeEvent(event)
	require.NoError(t, err)
	assert.Equal(t, "S1", string(message.Key))
	assert.Equal(t, []kafka.Header{
		{Key: "event-type", Value: []byte(models.EventSessionProgress)},
		{Key: "source", Value: []byte("trainwatch")},
	}, message.Headers)

	decoded, err := decodeEvent(message)
	require.NoError(t, err)
	assert.Equal(t, "S1", decoded.String("sessionId"))
	assert.Equal(t, 3, decoded.Int("currentEpoch"))
}

func TestEncodeEventFallsBackToEventID(t *testing.T) {
	message, err := encodeEvent(models.Event{ID: "evt-2", Type: "other"})
	require.NoError(t, err)
	assert.Equal(t, "evt-2", string(message.Key))
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	_, err := decodeEvent(kafka.Message{Value: []byte("{")})
	assert.Error(t, err)
}

// fakeReader serves queued messages and then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func eventMessage(t *testing.T, offset int64, id string) kafka.Message {
	t.Helper()
	value, err := json.Marshal(models.Event{ID: id, Type: models.EventSessionProgress})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: value}
}

func TestConsumeSkipsFailedMessages(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		eventMessage(t, 1, "evt-1"),
		{Offset: 2, Value: []byte("{")},
		eventMessage(t, 3, "evt-3"),
	}}
	consumer := &Consumer{reader: reader}

	var mu sync.Mutex
	var handled []string
	handler := func(ctx context.Context, event models.Event) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, event.ID)
		if event.ID == "evt-1" {
			return errors.New("store down")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Consume(ctx, handler) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 3 }, 2*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []int64{1, 2, 3}, reader.commits())
	mu.Lock()
	assert.Equal(t, []string{"evt-1", "evt-3"}, handled)
	mu.Unlock()
}
