package notifier

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type capturingClient struct {
	mu     sync.Mutex
	sent   []Notification
	closed bool
}

func (c *capturingClient) SendMessage(ctx context.Context, body interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, body.(Notification))
	return nil
}

func (c *capturingClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestAsyncNotifierDeliversBeforeClose(t *testing.T) {
	client := &capturingClient{}
	n := NewAsyncNotifier(client, 16)

	first := Notification{Type: TypeRSVPCreated, EventID: uuid.New(), UserID: uuid.New()}
	second := Notification{Type: TypeRSVPCancelled, EventID: first.EventID, UserID: first.UserID}

	n.Notify(first)
	n.Notify(second)
	n.Close()

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.sent, 2)
	require.Equal(t, TypeRSVPCreated, client.sent[0].Type)
	require.Equal(t, TypeRSVPCancelled, client.sent[1].Type)
	require.False(t, client.sent[0].OccurredAt.IsZero())
	require.True(t, client.closed)
}

func TestAsyncNotifierCloseIsIdempotent(t *testing.T) {
	client := &capturingClient{}
	n := NewAsyncNotifier(client, 4)

	n.Close()
	n.Close()

	client.mu.Lock()
	defer client.mu.Unlock()
	require.True(t, client.closed)
}
