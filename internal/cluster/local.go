package cluster

import (
	"context"
	"fmt"
	"sync"

	"github.com/dbac/electorate/internal/transport"
)

// Local is a Cluster backed directly by this process's own transport.Server
// and a Registry shared with the other members of a test or single-process
// deployment. Metadata reads are always live, never cached, matching §4.5.
//
// requestResponse is built on top of the one-way send primitive, per the
// spec's suspension-point model: the reply is just another message, routed
// back to the requester's own address and matched against the request's
// correlation id. A background loop demultiplexes the server's inbox into
// pending RequestResponse waiters and the driver-facing Listen stream.
type Local struct {
	self   Member
	reg    *Registry
	server *transport.Server
	client *transport.Client

	out chan transport.Envelope

	mu      sync.Mutex
	pending map[string]chan transport.Envelope
}

// NewLocal joins self into reg and starts demultiplexing server's inbox.
// ctx bounds the demux loop's lifetime.
func NewLocal(ctx context.Context, self Member, reg *Registry, server *transport.Server, client *transport.Client) *Local {
	reg.Join(self)
	l := &Local{
		self:    self,
		reg:     reg,
		server:  server,
		client:  client,
		out:     make(chan transport.Envelope, 64),
		pending: make(map[string]chan transport.Envelope),
	}
	go l.demux(ctx)
	return l
}

func (l *Local) demux(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-l.server.Inbox():
			l.mu.Lock()
			wait, ok := l.pending[env.CorrelationID]
			if ok {
				delete(l.pending, env.CorrelationID)
			}
			l.mu.Unlock()

			if ok {
				wait <- env
				continue
			}

			select {
			case l.out <- env:
			default:
			}
		}
	}
}

func (l *Local) LocalMemberID() string { return l.self.ID }
func (l *Local) LocalAddress() string  { return l.self.Address }

func (l *Local) OtherMembers() []Member { return l.reg.Others(l.self.ID) }

func (l *Local) Metadata(m Member) map[string]string { return l.reg.PropertiesOf(m.ID) }

func (l *Local) Listen() <-chan transport.Envelope { return l.out }

func (l *Local) Send(ctx context.Context, addr string, env transport.Envelope) error {
	return l.client.Notify(ctx, addr, env)
}

// RequestResponse registers a waiter for env's correlation id, sends env,
// and blocks until a matching reply arrives on the inbox or ctx expires.
func (l *Local) RequestResponse(ctx context.Context, addr string, env transport.Envelope) (transport.Envelope, error) {
	wait := make(chan transport.Envelope, 1)
	l.mu.Lock()
	l.pending[env.CorrelationID] = wait
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.pending, env.CorrelationID)
		l.mu.Unlock()
	}()

	if err := l.client.Notify(ctx, addr, env); err != nil {
		return transport.Envelope{}, err
	}

	select {
	case reply := <-wait:
		return reply, nil
	case <-ctx.Done():
		return transport.Envelope{}, fmt.Errorf("cluster: request to %s timed out: %w", addr, ctx.Err())
	}
}

func (l *Local) UpdateMetadataProperty(ctx context.Context, key, value string) error {
	l.reg.SetProperty(l.self.ID, key, value)
	return nil
}
