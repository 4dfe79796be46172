package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"qms/clinic-queue/internal/models"
	"qms/clinic-queue/internal/queue"
	"qms/clinic-queue/pkg/logging"

	"github.com/stretchr/testify/require"
)

func TestPublishBroadcastsEnvelope(t *testing.T) {
	h := New(logging.Discard())
	h.now = func() time.Time { return time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC) }
	client := &Client{ID: "c1", Send: make(chan []byte, 4)}
	h.Register(client)

	h.Publish(context.Background(), queue.Snapshot{Waiting: 3, Treatment: 1, Status: models.StatusOpen})

	var env struct {
		Type      string         `json:"type"`
		Payload   queue.Snapshot `json:"payload"`
		CreatedAt time.Time      `json:"created_at"`
	}
	require.NoError(t, json.Unmarshal(<-client.Send, &env))
	require.Equal(t, EventQueueSnapshot, env.Type)
	require.Equal(t, queue.Snapshot{Waiting: 3, Treatment: 1}, env.Payload)
	require.True(t, env.CreatedAt.Equal(h.now()))
}

func TestRegisterReplaysLatestSnapshot(t *testing.T) {
	h := New(logging.Discard())
	h.Publish(context.Background(), queue.Snapshot{Waiting: 1})
	h.Publish(context.Background(), queue.Snapshot{Waiting: 2})

	client := &Client{ID: "late", Send: make(chan []byte, 4)}
	h.Register(client)

	require.Len(t, client.Send, 1)
	require.Contains(t, string(<-client.Send), `"waiting":2`)
}

func TestBroadcastHonoursSubscription(t *testing.T) {
	h := New(logging.Discard())
	all := &Client{ID: "all", Send: make(chan []byte, 4)}
	other := &Client{ID: "other", Send: make(chan []byte, 4), Subscription: Subscription{Types: []string{"board.message"}}}
	h.Register(all)
	h.Register(other)

	h.Broadcast(EventQueueSnapshot, []byte("x"))
	require.Len(t, all.Send, 1)
	require.Len(t, other.Send, 0)

	h.Unregister(other)
	h.Unregister(other)
	require.Equal(t, 1, h.Clients())
}

func TestBroadcastDropsForSlowClient(t *testing.T) {
	h := New(logging.Discard())
	slow := &Client{ID: "slow", Send: make(chan []byte, 1)}
	h.Register(slow)

	h.Broadcast(EventQueueSnapshot, []byte("1"))
	h.Broadcast(EventQueueSnapshot, []byte("2"))
	require.Equal(t, "1", string(<-slow.Send))
}

func TestParseSubscribe(t *testing.T) {
	msg, ok := ParseSubscribe([]byte(`{"action":"subscribe","types":["queue.snapshot"]}`))
	require.True(t, ok)
	require.Equal(t, []string{EventQueueSnapshot}, msg.Types)

	_, ok = ParseSubscribe([]byte(`{"action":"dance"}`))
	require.False(t, ok)
	_, ok = ParseSubscribe([]byte(`not json`))
	require.False(t, ok)
}

type fakeSession struct {
	req    *http.Request
	inbox  chan string
	mu     sync.Mutex
	sent   []string
	closed uint32
}

func (s *fakeSession) Recv() (string, error) {
	msg, ok := <-s.inbox
	if !ok {
		return "", errors.New("session closed")
	}
	return msg, nil
}

func (s *fakeSession) Send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSession) Close(status uint32, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = status
	return nil
}

func (s *fakeSession) Request() *http.Request { return s.req }

func (s *fakeSession) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestServeRejectsUnauthorized(t *testing.T) {
	h := New(logging.Discard())
	s := &fakeSession{req: httptest.NewRequest(http.MethodGet, "/realtime", nil), inbox: make(chan string)}

	h.serve(s, func(*http.Request) bool { return false })

	require.EqualValues(t, closeUnauthorized, s.closed)
	require.Zero(t, h.Clients())
}

func TestServeDeliversSnapshots(t *testing.T) {
	h := New(logging.Discard())
	s := &fakeSession{req: httptest.NewRequest(http.MethodGet, "/realtime", nil), inbox: make(chan string)}

	done := make(chan struct{})
	go func() {
		h.serve(s, func(*http.Request) bool { return true })
		close(done)
	}()

	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 10*time.Millisecond)
	s.inbox <- `{"action":"subscribe","types":["queue.snapshot"]}`
	h.Publish(context.Background(), queue.Snapshot{Waiting: 5})
	require.Eventually(t, func() bool { return s.sentCount() == 1 }, time.Second, 10*time.Millisecond)

	close(s.inbox)
	<-done
	require.Zero(t, h.Clients())
}
