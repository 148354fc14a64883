package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingPayload struct {
	Value int `json:"value"`
}

func TestNewAssignsFreshCorrelationID(t *testing.T) {
	a, err := New("q", "sender-a", pingPayload{Value: 1})
	require.NoError(t, err)
	b, err := New("q", "sender-a", pingPayload{Value: 1})
	require.NoError(t, err)

	assert.NotEmpty(t, a.CorrelationID)
	assert.NotEqual(t, a.CorrelationID, b.CorrelationID)
}

func TestReplyEchoesCorrelationID(t *testing.T) {
	req, err := New("q", "sender-a", pingPayload{Value: 1})
	require.NoError(t, err)

	res, err := Reply(req, "q", "sender-b", pingPayload{Value: 2})
	require.NoError(t, err)

	assert.Equal(t, req.CorrelationID, res.CorrelationID)
	assert.Equal(t, "sender-b", res.Sender)
}

func TestDecodeRoundTrips(t *testing.T) {
	env, err := New("q", "sender-a", pingPayload{Value: 42})
	require.NoError(t, err)

	var got pingPayload
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, 42, got.Value)
}
