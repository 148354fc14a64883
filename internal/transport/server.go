package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dbac/electorate/internal/elog"
)

const notifyPath = "/rpc/notify"

// Server is the receiving half of the HTTP wire transport. Every message,
// request or reply alike, arrives the same way: a fire-and-forget POST that
// is pushed to the inbox and acknowledged immediately. Correlating a reply
// with the request that prompted it is a concern of the cluster package,
// not of the transport.
type Server struct {
	inbox chan Envelope
}

// NewServer creates a server with a bounded inbox of the given capacity.
// When the inbox is full, inbound messages are dropped with a warning
// rather than blocking the sender (the driver is expected to drain it
// promptly; this bound only protects against a wedged driver).
func NewServer(inboxSize int) *Server {
	if inboxSize <= 0 {
		inboxSize = 64
	}
	return &Server{inbox: make(chan Envelope, inboxSize)}
}

// Inbox is the stream of inbound messages.
func (s *Server) Inbox() <-chan Envelope { return s.inbox }

// Handler returns the HTTP handler to serve on this node's listen address.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(notifyPath, s.handleNotify).Methods(http.MethodPost)
	return r
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var env Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.deliver(env)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) deliver(env Envelope) {
	select {
	case s.inbox <- env:
	default:
		elog.With(elog.Fields{"qualifier": env.Qualifier, "sender": env.Sender}).
			Warn("transport: inbox full, dropping inbound message")
	}
}

// Client is the sending half of the HTTP wire transport.
type Client struct {
	http *http.Client
}

// NewClient builds a client sharing one underlying http.Client across calls.
func NewClient() *Client {
	return &Client{http: &http.Client{}}
}

// Notify performs a one-way send against addr's notify endpoint.
func (c *Client) Notify(ctx context.Context, addr string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("transport: encode envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+notifyPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("transport: %s replied %s", addr, resp.Status)
	}
	return nil
}
