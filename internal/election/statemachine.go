package election

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/dbac/electorate/internal/elog"
	"github.com/dbac/electorate/internal/term"
)

// Callbacks are the state machine's three role-entry hooks plus the
// heartbeat-send tick, registered once at construction. Every hook is
// invoked synchronously, in transition order, from the state machine's own
// single-writer actor: a hook must return promptly without blocking on
// network I/O or calling back into the state machine itself (that would
// deadlock the actor against its own call) — it exists only so the driver
// can schedule that work on a separate goroutine.
type Callbacks struct {
	OnFollower      func(term uint64)
	OnCandidate     func(ctx context.Context, term uint64)
	OnLeader        func(term uint64)
	OnHeartbeatTick func(term uint64)
}

type snapshot struct {
	role        Role
	term        uint64
	leaderID    string
	leaderKnown bool
}

type cmdKind int8

const (
	cmdHeartbeat cmdKind = iota
	cmdVote
	cmdBecomeFollower
	cmdBecomeLeader
)

type command struct {
	kind    cmdKind
	peerID  string
	term    uint64
	done    chan struct{}
	granted *bool
}

// StateMachine is the single authority for a topic's role, term and known
// leader. All mutation is serialized through a single-writer actor loop;
// every exported method that mutates state hands a command to that actor
// and waits for it to be processed, keeping the critical section O(1) and
// exposing a synchronous-looking API to callers. The one exception is
// ObserveTerm, which advances the (independently locked) term register
// directly.
type StateMachine struct {
	id  string
	cfg Config
	cb  Callbacks
	rnd *rand.Rand

	term *term.Register

	electionTimer  *time.Timer
	heartbeatTimer *time.Timer

	cmds    chan command
	stopped chan struct{}

	candidateCancel context.CancelFunc

	// actor-owned, read only from within run()/handle()
	role        Role
	leaderID    string
	leaderKnown bool

	snap atomic.Value // snapshot
}

// New creates a state machine for the given node id. Call Start to enter
// Follower and begin the timer loop.
func New(id string, cfg Config, cb Callbacks) *StateMachine {
	sm := &StateMachine{
		id:             id,
		cfg:            cfg,
		cb:             cb,
		rnd:            rand.New(rand.NewSource(time.Now().UnixNano())),
		term:           term.New(0),
		electionTimer:  time.NewTimer(time.Hour),
		heartbeatTimer: time.NewTimer(time.Hour),
		cmds:           make(chan command),
		stopped:        make(chan struct{}),
		role:           Follower,
	}
	sm.electionTimer.Stop()
	sm.heartbeatTimer.Stop()
	sm.snap.Store(snapshot{role: Follower})
	return sm
}

// Start seeds the term register, arms the election timer, enters Follower
// and launches the actor loop. It returns once the initial transition has
// happened, so callers can immediately query Role/CurrentTerm.
func (sm *StateMachine) Start(ctx context.Context, initialTerm uint64) {
	sm.term.UpdateTo(initialTerm)
	ready := make(chan struct{})
	go sm.run(ctx, ready)
	<-ready
}

// Stopped is closed once the actor loop has exited after ctx passed to
// Start is canceled.
func (sm *StateMachine) Stopped() <-chan struct{} { return sm.stopped }

func (sm *StateMachine) run(ctx context.Context, ready chan struct{}) {
	defer close(sm.stopped)
	defer sm.electionTimer.Stop()
	defer sm.heartbeatTimer.Stop()
	// Cancel a vote round still in progress so it stops once the actor is gone.
	defer sm.cancelCandidacy()

	// The initial Follower transition happens here, on the actor goroutine,
	// before cmds is read at all: Start blocks on ready until it completes,
	// so no concurrent sm.send() can interleave an unguarded field write
	// with it, preserving the single-writer guarantee.
	sm.transitionFollower(sm.term.Current())
	// role starts out as Follower, so transitionFollower does not count this
	// as a role change; the initial entry still fires OnFollower once.
	if sm.cb.OnFollower != nil {
		sm.cb.OnFollower(sm.term.Current())
	}
	close(ready)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sm.electionTimer.C:
			sm.onElectionTimeout()
		case <-sm.heartbeatTimer.C:
			sm.onHeartbeatTimeout()
		case cmd := <-sm.cmds:
			sm.handle(cmd)
		}
	}
}

func (sm *StateMachine) send(cmd command) {
	cmd.done = make(chan struct{})
	sm.cmds <- cmd
	<-cmd.done
}

func (sm *StateMachine) handle(cmd command) {
	switch cmd.kind {
	case cmdHeartbeat:
		sm.handleHeartbeat(cmd.peerID, cmd.term)
	case cmdVote:
		*cmd.granted = sm.handleVote(cmd.term)
	case cmdBecomeFollower:
		if cmd.term >= sm.term.Current() {
			sm.transitionFollower(cmd.term)
		}
	case cmdBecomeLeader:
		sm.handleBecomeLeader(cmd.term)
	}
	close(cmd.done)
}

func (sm *StateMachine) onElectionTimeout() {
	if sm.role == Leader {
		elog.With(elog.Fields{"id": sm.id}).Warn("election timer fired while leader, ignoring")
		return
	}

	resetTimer(sm.electionTimer, sm.randomElectionTimeout())
	sm.cancelCandidacy()

	newTerm := sm.term.Next()
	sm.role = Candidate
	sm.leaderID = ""
	sm.leaderKnown = false
	sm.publishSnapshot()

	ctx, cancel := context.WithCancel(context.Background())
	sm.candidateCancel = cancel

	if sm.cb.OnCandidate != nil {
		sm.cb.OnCandidate(ctx, newTerm)
	}
}

func (sm *StateMachine) onHeartbeatTimeout() {
	if sm.role != Leader {
		return
	}
	t := sm.term.Current()
	resetTimer(sm.heartbeatTimer, sm.cfg.HeartbeatInterval)
	if sm.cb.OnHeartbeatTick != nil {
		sm.cb.OnHeartbeatTick(t)
	}
}

// handleHeartbeat implements spec §4.2 heartbeat reception.
func (sm *StateMachine) handleHeartbeat(peerID string, peerTerm uint64) {
	cur := sm.term.Current()

	switch {
	case peerTerm > cur:
		sm.leaderID = peerID
		sm.leaderKnown = true
		sm.transitionFollower(peerTerm)
	case peerTerm == cur:
		sm.leaderID = peerID
		sm.leaderKnown = true
		switch sm.role {
		case Candidate:
			sm.transitionFollower(cur)
		case Follower:
			resetTimer(sm.electionTimer, sm.randomElectionTimeout())
			sm.publishSnapshot()
		case Leader:
			// Two leaders at the same term would violate election
			// safety; nothing in this message resolves it, so the
			// leader simply notes it happened via the log.
			elog.With(elog.Fields{"id": sm.id, "term": cur, "from": peerID}).
				Warn("leader observed a same-term heartbeat from another member")
		}
	default:
		// Stale term, ignore per §7 StaleTerm handling.
	}
}

// handleVote implements spec §4.3's vote-granting predicate, preserved
// verbatim per §9 open question 1: granting never advances the voter's own
// term, and a Leader never grants regardless of the requested term. A Leader
// or Candidate observing a strictly greater term still steps down to
// Follower per §4.2's transition table, even though the vote itself is
// denied.
func (sm *StateMachine) handleVote(reqTerm uint64) bool {
	cur := sm.term.Current()

	switch sm.role {
	case Candidate:
		if reqTerm >= cur {
			sm.transitionFollower(reqTerm)
		}
		return false
	case Leader:
		if reqTerm > cur {
			sm.transitionFollower(reqTerm)
		}
		return false
	default: // Follower
		return reqTerm > cur
	}
}

func (sm *StateMachine) handleBecomeLeader(t uint64) {
	cur := sm.term.Current()
	if sm.role != Candidate || t != cur {
		return // stale promotion, round has since been superseded
	}

	sm.cancelCandidacy()
	sm.role = Leader
	sm.leaderID = sm.id
	sm.leaderKnown = true
	sm.electionTimer.Stop()
	resetTimer(sm.heartbeatTimer, 0)
	sm.publishSnapshot()

	if sm.cb.OnLeader != nil {
		sm.cb.OnLeader(cur)
	}
}

// transitionFollower applies t (already validated by the caller to be >=
// the pre-transition term) and rearms the election timer. It fires
// BecameFollower/OnFollower only when the role actually changes, satisfying
// the idempotence law that repeated calls at the same term produce at most
// one event but always rearm the timer.
func (sm *StateMachine) transitionFollower(t uint64) {
	sm.term.UpdateTo(t)
	wasFollower := sm.role == Follower

	sm.role = Follower
	sm.cancelCandidacy()
	sm.heartbeatTimer.Stop()
	resetTimer(sm.electionTimer, sm.randomElectionTimeout())
	sm.publishSnapshot()

	if !wasFollower && sm.cb.OnFollower != nil {
		sm.cb.OnFollower(sm.term.Current())
	}
}

func (sm *StateMachine) cancelCandidacy() {
	if sm.candidateCancel != nil {
		sm.candidateCancel()
		sm.candidateCancel = nil
	}
}

func (sm *StateMachine) randomElectionTimeout() time.Duration {
	base := sm.cfg.ElectionTimeout
	if base <= 0 {
		return 0
	}
	return base + time.Duration(sm.rnd.Int63n(int64(base)))
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (sm *StateMachine) publishSnapshot() {
	sm.snap.Store(snapshot{
		role:        sm.role,
		term:        sm.term.Current(),
		leaderID:    sm.leaderID,
		leaderKnown: sm.leaderKnown,
	})
}

// Role returns the role as of the most recently completed transition.
func (sm *StateMachine) Role() Role {
	return sm.snap.Load().(snapshot).role
}

// CurrentTerm returns the term register's current value.
func (sm *StateMachine) CurrentTerm() uint64 {
	return sm.term.Current()
}

// LeaderView returns the local node's id paired with the leader it
// currently believes in, if any.
func (sm *StateMachine) LeaderView() LeaderView {
	s := sm.snap.Load().(snapshot)
	return LeaderView{Self: sm.id, LeaderID: s.leaderID, Known: s.leaderKnown}
}

// Heartbeat feeds an inbound HeartbeatRequest to the state machine.
func (sm *StateMachine) Heartbeat(peerID string, peerTerm uint64) {
	sm.send(command{kind: cmdHeartbeat, peerID: peerID, term: peerTerm})
}

// Vote decides whether to grant a vote for reqTerm, applying the Candidate
// step-down side effect atomically with the decision.
func (sm *StateMachine) Vote(reqTerm uint64) bool {
	var granted bool
	sm.send(command{kind: cmdVote, term: reqTerm, granted: &granted})
	return granted
}

// BecomeFollower is the explicit Any->Follower transition. Calls with a
// term older than the current one are dropped silently (no decrease).
func (sm *StateMachine) BecomeFollower(t uint64) {
	sm.send(command{kind: cmdBecomeFollower, term: t})
}

// BecomeLeader promotes a Candidate that collected a majority at term t. A
// call for a stale round (role or term has since moved on) is a no-op.
func (sm *StateMachine) BecomeLeader(t uint64) {
	sm.send(command{kind: cmdBecomeLeader, term: t})
}

// ObserveTerm advances the term register directly, without going through
// the actor. Per spec §4.3/§9 open question 4, this is used by the leader
// heartbeat round to fold a peer's reported term into the register without
// itself stepping the leader down; step-down only ever happens through the
// heartbeat-reception path above.
func (sm *StateMachine) ObserveTerm(t uint64) {
	sm.term.UpdateTo(t)
}
