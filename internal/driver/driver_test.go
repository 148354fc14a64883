package driver

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbac/electorate/internal/cluster"
	"github.com/dbac/electorate/internal/election"
	"github.com/dbac/electorate/internal/transport"
)

const testTopic = "unit-test-group"

func fastConfig() election.Config {
	return election.Config{
		ElectionTimeout:   30 * time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
		VoteTimeout:       30 * time.Millisecond,
	}
}

// node bundles everything a test needs to stand up one cluster member
// backed by a real httptest server, so requests actually cross loopback
// HTTP rather than being short-circuited in memory.
type node struct {
	driver *Driver
	srv    *httptest.Server
}

func newCluster(t *testing.T, ctx context.Context, ids []string) ([]*node, *cluster.Registry) {
	t.Helper()
	reg := cluster.NewRegistry()
	client := transport.NewClient()

	nodes := make([]*node, 0, len(ids))
	for _, id := range ids {
		transportSrv := transport.NewServer(64)
		httpSrv := httptest.NewServer(transportSrv.Handler())
		t.Cleanup(httpSrv.Close)

		local := cluster.NewLocal(ctx, cluster.Member{ID: id, Address: httpSrv.URL}, reg, transportSrv, client)
		d := New(testTopic, local, fastConfig())

		nodes = append(nodes, &node{driver: d, srv: httpSrv})
	}
	return nodes, reg
}

func waitForRole(t *testing.T, d *Driver, want election.Role, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d.CurrentRole() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("role never reached %s, stuck at %s", want, d.CurrentRole())
}

func TestDriver_SingleNodeBecomesLeader(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodes, _ := newCluster(t, ctx, []string{"solo"})
	d := nodes[0].driver

	events := d.Listen()
	require.NoError(t, d.Start(ctx))
	defer d.Shutdown()

	var kinds []election.EventKind
	deadline := time.After(time.Second)
	for len(kinds) < 3 {
		select {
		case ev := <-events:
			kinds = append(kinds, ev.Kind)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %v", kinds)
		}
	}

	assert.Equal(t, []election.EventKind{election.BecameFollower, election.BecameCandidate, election.BecameLeader}, kinds)

	view := d.LeaderView()
	assert.True(t, view.Known)
	assert.Equal(t, "solo", view.LeaderID)
}

func TestDriver_ThreeNodeClusterElectsExactlyOneLeader(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodes, _ := newCluster(t, ctx, []string{"a", "b", "c"})
	for _, n := range nodes {
		require.NoError(t, n.driver.Start(ctx))
		defer n.driver.Shutdown()
	}

	var leader *Driver
	require.Eventually(t, func() bool {
		leaders := 0
		for _, n := range nodes {
			if n.driver.CurrentRole() == election.Leader {
				leaders++
				leader = n.driver
			}
		}
		return leaders == 1
	}, 2*time.Second, 5*time.Millisecond, "expected exactly one leader to emerge")

	require.NotNil(t, leader)
	leaderID := leader.LeaderView().Self

	require.Eventually(t, func() bool {
		for _, n := range nodes {
			view := n.driver.LeaderView()
			if !view.Known || view.LeaderID != leaderID {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond, "expected every node to converge on the same leader")
}

func TestDriver_LeaderCrashTriggersReElection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodes, _ := newCluster(t, ctx, []string{"a", "b", "c"})
	for _, n := range nodes {
		require.NoError(t, n.driver.Start(ctx))
	}

	var leaderIdx = -1
	require.Eventually(t, func() bool {
		for i, n := range nodes {
			if n.driver.CurrentRole() == election.Leader {
				leaderIdx = i
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	firstTerm := nodes[leaderIdx].driver.sm.CurrentTerm()
	nodes[leaderIdx].driver.Shutdown()
	nodes[leaderIdx].srv.Close()

	remaining := append([]*node{}, nodes[:leaderIdx]...)
	remaining = append(remaining, nodes[leaderIdx+1:]...)
	defer func() {
		for _, n := range remaining {
			n.driver.Shutdown()
		}
	}()

	require.Eventually(t, func() bool {
		for _, n := range remaining {
			if n.driver.CurrentRole() == election.Leader && n.driver.sm.CurrentTerm() > firstTerm {
				return true
			}
		}
		return false
	}, 3*time.Second, 5*time.Millisecond, "expected a remaining node to become leader at a higher term")
}

// TestDriver_TwoPeerSplitVoteStillElectsCandidate pins the spec's own §8
// worked example: with 2 peers, one always granting and one always denying,
// the candidate still wins. This is the exact boundary that would catch an
// off-by-one in runElectionRound's needed := (len(peers)+1)/2, which for 2
// peers evaluates to 1 rather than 2.
func TestDriver_TwoPeerSplitVoteStillElectsCandidate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := cluster.NewRegistry()
	client := transport.NewClient()

	newFixedVoteResponder(t, ctx, "granter", reg, client, true)
	newFixedVoteResponder(t, ctx, "denier", reg, client, false)

	candidateSrv := transport.NewServer(64)
	candidateHTTP := httptest.NewServer(candidateSrv.Handler())
	t.Cleanup(candidateHTTP.Close)
	candidateLocal := cluster.NewLocal(ctx, cluster.Member{ID: "candidate", Address: candidateHTTP.URL}, reg, candidateSrv, client)
	d := New(testTopic, candidateLocal, fastConfig())

	require.NoError(t, d.Start(ctx))
	defer d.Shutdown()

	require.Eventually(t, func() bool {
		return d.CurrentRole() == election.Leader
	}, 2*time.Second, 5*time.Millisecond, "candidate should win with needed=1 of 2 peers despite one denial")
}

// newFixedVoteResponder joins a peer into reg that answers every vote
// request with a fixed Granted value, without running a real election
// state machine — used to deterministically exercise the majority-rule
// boundary (§8's "one always grants and one always denies" case).
func newFixedVoteResponder(t *testing.T, ctx context.Context, id string, reg *cluster.Registry, client *transport.Client, granted bool) *cluster.Local {
	t.Helper()
	srv := transport.NewServer(16)
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	local := cluster.NewLocal(ctx, cluster.Member{ID: id, Address: httpSrv.URL}, reg, srv, client)
	require.NoError(t, cluster.AdvertiseTopic(ctx, local, testTopic))

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-local.Listen():
				if !ok {
					return
				}
				if !election.IsVote(testTopic, env.Qualifier) {
					continue
				}
				reply, err := election.ReplyVote(env, testTopic, local.LocalAddress(), election.VoteResponse{
					Granted:  granted,
					MemberID: id,
				})
				if err != nil {
					continue
				}
				_ = local.Send(ctx, env.Sender, reply)
			}
		}
	}()

	return local
}
