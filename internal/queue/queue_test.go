package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryDelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: TypeImport, Body: json.RawMessage(`{"id":"1"}`)}))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		assert.Equal(t, TypeImport, msg.Type)
		assert.JSONEq(t, `{"id":"1"}`, string(msg.Body))
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestInMemoryConsumeClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := NewInMemory(1).Consume(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: TypeImport}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: TypeImport}), context.DeadlineExceeded)
}

func TestNewMessageEncodesBody(t *testing.T) {
	msg, err := NewMessage(TypeImport, map[string]int{"rows": 3})
	require.NoError(t, err)
	assert.Equal(t, TypeImport, msg.Type)
	assert.JSONEq(t, `{"rows":3}`, string(msg.Body))
	assert.False(t, msg.EnqueuedAt.IsZero())

	_, err = NewMessage(TypeImport, make(chan int))
	assert.Error(t, err)
}

func TestInMemoryLen(t *testing.T) {
	q := NewInMemory(2)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, Message{Type: TypeImport}))
	require.NoError(t, q.Publish(ctx, Message{Type: TypeImport}))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
