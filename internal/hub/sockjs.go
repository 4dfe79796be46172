package hub

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

const (
	closeUnauthorized = 4001
	sendBuffer        = 16
)

// Authorizer decides whether an upgrade request may join the hub.
type Authorizer func(r *http.Request) bool

type session interface {
	Recv() (string, error)
	Send(msg string) error
	Close(status uint32, reason string) error
	Request() *http.Request
}

// Handler serves the SockJS endpoint mounted at prefix.
func (h *Hub) Handler(prefix string, authorize Authorizer) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, func(s sockjs.Session) {
		h.serve(s, authorize)
	})
}

func (h *Hub) serve(s session, authorize Authorizer) {
	if authorize != nil && !authorize(s.Request()) {
		_ = s.Close(closeUnauthorized, "unauthorized")
		return
	}

	client := &Client{ID: uuid.NewString(), Send: make(chan []byte, sendBuffer)}
	h.Register(client)
	defer h.Unregister(client)

	go func() {
		for msg := range client.Send {
			if err := s.Send(string(msg)); err != nil {
				return
			}
		}
	}()

	for {
		msg, err := s.Recv()
		if err != nil {
			return
		}
		parsed, ok := ParseSubscribe([]byte(msg))
		if !ok {
			continue
		}
		if parsed.Action == "unsubscribe" {
			h.UpdateSubscription(client, Subscription{})
			continue
		}
		h.UpdateSubscription(client, Subscription{Types: parsed.Types})
	}
}
