package election

import "time"

// Config holds the three timing knobs the state machine and the driver's
// RPC deadlines are built from. Defaults keep heartbeatInterval an order of
// magnitude below electionTimeout, as recommended in the spec.
type Config struct {
	// ElectionTimeout is the base window before a follower with no valid
	// heartbeat becomes a candidate. The timer's actual draw on each
	// (re)arm is uniform on [ElectionTimeout, 2*ElectionTimeout).
	ElectionTimeout time.Duration

	// HeartbeatInterval is the leader's heartbeat period.
	HeartbeatInterval time.Duration

	// VoteTimeout is a candidate's per-round deadline for collecting a
	// majority, and doubles as the per-RPC deadline for individual vote
	// requests.
	VoteTimeout time.Duration
}

// DefaultConfig mirrors the teacher's defaults in spirit (heartbeat well
// below election timeout) scaled to the ranges the spec's end-to-end
// scenarios exercise.
func DefaultConfig() Config {
	return Config{
		ElectionTimeout:   150 * time.Millisecond,
		HeartbeatInterval: 15 * time.Millisecond,
		VoteTimeout:       150 * time.Millisecond,
	}
}
