package driver

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/dbac/electorate/internal/cluster"
	"github.com/dbac/electorate/internal/elog"
	"github.com/dbac/electorate/internal/election"
	"github.com/dbac/electorate/internal/metrics"
	"github.com/dbac/electorate/internal/transport"
)

// Driver glues one topic's election.StateMachine to a cluster.Cluster: it
// dispatches inbound vote/heartbeat traffic, runs candidate vote-collection
// rounds and leader heartbeat rounds, and republishes role transitions as
// ElectionEvents on its own broadcast channel. One Driver exists per
// (node, topic) pair, matching §3's ownership rule.
type Driver struct {
	topic   string
	cluster cluster.Cluster
	cfg     election.Config
	sm      *election.StateMachine
	bus     *broadcaster

	cancel  context.CancelFunc
	started atomic.Bool

	metrics *metrics.Metrics
}

// Option configures optional Driver behavior beyond the required topic,
// cluster and timing config.
type Option func(*Driver)

// WithMetrics registers m to receive role, term and vote/heartbeat
// observations as this driver runs.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// New constructs a Driver for topic against c, wiring the state machine's
// role-entry callbacks to election rounds and the event broadcaster.
func New(topic string, c cluster.Cluster, cfg election.Config, opts ...Option) *Driver {
	d := &Driver{
		topic:   topic,
		cluster: c,
		cfg:     cfg,
		bus:     newBroadcaster(),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.sm = election.New(c.LocalMemberID(), cfg, election.Callbacks{
		OnFollower: func(t uint64) {
			d.observeRole(election.Follower, t)
			d.bus.publish(election.Event{Kind: election.BecameFollower, Term: t, At: now()})
		},
		OnCandidate: func(ctx context.Context, t uint64) {
			d.observeRole(election.Candidate, t)
			d.bus.publish(election.Event{Kind: election.BecameCandidate, Term: t, At: now()})
			go d.runElectionRound(ctx, t)
		},
		OnLeader: func(t uint64) {
			d.observeRole(election.Leader, t)
			d.bus.publish(election.Event{Kind: election.BecameLeader, Term: t, At: now()})
		},
		OnHeartbeatTick: func(t uint64) {
			go d.runHeartbeatRound(t)
		},
	})
	return d
}

func (d *Driver) observeRole(role election.Role, term uint64) {
	if d.metrics == nil {
		return
	}
	labels := prometheus.Labels{"topic": d.topic, "member": d.cluster.LocalMemberID()}
	d.metrics.Role.With(labels).Set(float64(role))
	d.metrics.Term.With(labels).Set(float64(term))
}

func now() time.Time { return time.Now() }

// Start subscribes to inbound cluster messages, advertises this node as a
// participant on topic, and enters Follower. It returns once the state
// machine has completed its initial transition.
func (d *Driver) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := cluster.AdvertiseTopic(runCtx, d.cluster, d.topic); err != nil {
		cancel()
		return err
	}

	go d.dispatchLoop(runCtx)
	d.sm.Start(runCtx, 0)
	d.started.Store(true)
	return nil
}

// Shutdown stops timers, cancels the vote round in progress (if any) and
// the replies to inbound requests, and unsubscribes from the cluster.
// Heartbeat requests already sent are not cancelled; they run until their
// own per-RPC deadline. In-flight operations are abandoned rather than
// awaited, per §7's ShutdownDuringOperation handling.
func (d *Driver) Shutdown() {
	if !d.started.Load() {
		return
	}
	d.cancel()
	<-d.sm.Stopped()
}

// CurrentRole reports the state machine's role as of its last transition.
func (d *Driver) CurrentRole() election.Role { return d.sm.Role() }

// LeaderView reports this node's current belief about the topic's leader.
func (d *Driver) LeaderView() election.LeaderView { return d.sm.LeaderView() }

// Listen returns a new subscription to this driver's ElectionEvent stream.
func (d *Driver) Listen() <-chan election.Event { return d.bus.subscribe(8) }

func (d *Driver) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-d.cluster.Listen():
			if !ok {
				return
			}
			go d.dispatch(ctx, env)
		}
	}
}

// dispatch classifies one inbound envelope by its topic-scoped qualifier
// and replies asynchronously, per §4.3's "fire-and-forget" dispatch model.
func (d *Driver) dispatch(ctx context.Context, env transport.Envelope) {
	switch {
	case election.IsVote(d.topic, env.Qualifier):
		d.dispatchVote(ctx, env)
	case election.IsHeartbeat(d.topic, env.Qualifier):
		d.dispatchHeartbeat(ctx, env)
	default:
		// Not this topic's traffic; ignore per §4.3.
	}
}

func (d *Driver) dispatchVote(ctx context.Context, env transport.Envelope) {
	var req election.VoteRequest
	if err := env.Decode(&req); err != nil {
		elog.With(elog.Fields{"topic": d.topic}).Debug("driver: malformed vote request")
		return
	}

	granted := d.sm.Vote(req.Term)
	if d.metrics != nil {
		if granted {
			d.metrics.VotesGranted.With(prometheus.Labels{"topic": d.topic}).Inc()
		} else {
			d.metrics.VotesDenied.With(prometheus.Labels{"topic": d.topic}).Inc()
		}
	}

	reply, err := election.ReplyVote(env, d.topic, d.cluster.LocalAddress(), election.VoteResponse{
		Granted:  granted,
		MemberID: d.cluster.LocalMemberID(),
	})
	if err != nil {
		return
	}
	if err := d.cluster.Send(ctx, env.Sender, reply); err != nil {
		elog.With(elog.Fields{"to": env.Sender}).Debug("driver: failed to send vote reply")
	}
}

func (d *Driver) dispatchHeartbeat(ctx context.Context, env transport.Envelope) {
	var req election.HeartbeatRequest
	if err := env.Decode(&req); err != nil {
		elog.With(elog.Fields{"topic": d.topic}).Debug("driver: malformed heartbeat request")
		return
	}

	d.sm.Heartbeat(req.MemberID, req.Term)

	reply, err := election.ReplyHeartbeat(env, d.topic, d.cluster.LocalAddress(), election.HeartbeatResponse{
		MemberID: d.cluster.LocalMemberID(),
		Term:     d.sm.CurrentTerm(),
	})
	if err != nil {
		return
	}
	if err := d.cluster.Send(ctx, env.Sender, reply); err != nil {
		elog.With(elog.Fields{"to": env.Sender}).Debug("driver: failed to send heartbeat reply")
	}
}

// runElectionRound implements §4.3's candidate election round. It is
// launched from OnCandidate and is cancelled by ctx whenever the state
// machine leaves Candidate for any other reason, per §5's cancellation
// rule: still-pending vote RPCs become irrelevant but are allowed to run
// to completion or abandonment without effect.
func (d *Driver) runElectionRound(ctx context.Context, term uint64) {
	peers := cluster.FindPeers(d.cluster, d.topic)
	if len(peers) == 0 {
		// Trivial majority of one; §8 boundary behavior.
		d.sm.BecomeLeader(term)
		return
	}

	// Open question 3: the majority rule adopted here requires this many
	// peer YES votes, not counting the candidate's own implicit vote.
	needed := (len(peers) + 1) / 2

	roundCtx, cancel := context.WithTimeout(ctx, d.cfg.VoteTimeout)
	defer cancel()

	votes := make(chan bool, len(peers))
	var g errgroup.Group
	for _, p := range peers {
		p := p
		g.Go(func() error {
			votes <- d.requestVote(roundCtx, p, term)
			return nil
		})
	}
	go func() {
		g.Wait()
		close(votes)
	}()

	yes := 0
	for {
		select {
		case granted, ok := <-votes:
			if !ok {
				d.finishElectionRound(ctx, term)
				return
			}
			if granted {
				yes++
			}
			if yes >= needed {
				d.sm.BecomeLeader(term)
				return
			}
		case <-roundCtx.Done():
			d.finishElectionRound(ctx, term)
			return
		}
	}
}

// finishElectionRound runs once a round ends without reaching majority. If
// the outer context (the one handed to OnCandidate) is already done, the
// state machine has moved on for its own reasons and there is nothing to
// do; otherwise the round genuinely failed or timed out.
func (d *Driver) finishElectionRound(ctx context.Context, term uint64) {
	if ctx.Err() != nil {
		return
	}
	d.sm.BecomeFollower(term)
}

func (d *Driver) requestVote(ctx context.Context, peer cluster.Member, term uint64) bool {
	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.VoteTimeout)
	defer cancel()

	env, err := election.NewVoteRequest(d.topic, d.cluster.LocalAddress(), election.VoteRequest{Term: term})
	if err != nil {
		return false
	}

	reply, err := d.cluster.RequestResponse(reqCtx, peer.Address, env)
	if err != nil {
		// TransientRpcFailure: never propagates, treated as a non-vote.
		return false
	}

	var res election.VoteResponse
	if err := reply.Decode(&res); err != nil {
		return false
	}
	return res.Granted
}

// runHeartbeatRound implements §4.2's leader heartbeat round: best-effort,
// per-peer, with non-responding peers silently tolerated.
func (d *Driver) runHeartbeatRound(term uint64) {
	peers := cluster.FindPeers(d.cluster, d.topic)
	for _, p := range peers {
		p := p
		go func() {
			if d.metrics != nil {
				d.metrics.HeartbeatsSent.With(prometheus.Labels{"topic": d.topic}).Inc()
			}

			ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ElectionTimeout)
			defer cancel()

			env, err := election.NewHeartbeatRequest(d.topic, d.cluster.LocalAddress(), election.HeartbeatRequest{
				Term:     term,
				MemberID: d.cluster.LocalMemberID(),
			})
			if err != nil {
				return
			}

			reply, err := d.cluster.RequestResponse(ctx, p.Address, env)
			if err != nil {
				if d.metrics != nil {
					d.metrics.HeartbeatsMissed.With(prometheus.Labels{"topic": d.topic}).Inc()
				}
				return
			}

			var res election.HeartbeatResponse
			if err := reply.Decode(&res); err != nil {
				return
			}
			d.sm.ObserveTerm(res.Term)
		}()
	}
}
