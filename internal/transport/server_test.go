package transport

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_NotifyDeliversToInbox(t *testing.T) {
	srv := NewServer(4)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	client := NewClient()
	env, err := New("q", "sender-a", pingPayload{Value: 7})
	require.NoError(t, err)

	require.NoError(t, client.Notify(context.Background(), httpSrv.URL, env))

	select {
	case got := <-srv.Inbox():
		assert.Equal(t, env.CorrelationID, got.CorrelationID)
	case <-time.After(time.Second):
		t.Fatal("message never reached the inbox")
	}
}

func TestServer_InboxOverflowDropsRatherThanBlocks(t *testing.T) {
	srv := NewServer(1)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	client := NewClient()
	for i := 0; i < 5; i++ {
		env, err := New("q", "sender-a", pingPayload{Value: i})
		require.NoError(t, err)
		require.NoError(t, client.Notify(context.Background(), httpSrv.URL, env))
	}
	// None of the above should have blocked; draining the inbox is best
	// effort from here on.
	<-srv.Inbox()
}
