package election

import "github.com/dbac/electorate/internal/transport"

// Message qualifiers are topic-scoped and form part of this core's external
// interface: two nodes running the same topic string recognize each other's
// vote/heartbeat traffic regardless of what else shares the wire.
const (
	voteSuffix      = "/vote"
	heartbeatSuffix = "/heartbeat"
)

// VoteQualifier returns the qualifier used for vote requests/responses on topic.
func VoteQualifier(topic string) string { return topic + voteSuffix }

// HeartbeatQualifier returns the qualifier used for heartbeat requests/responses on topic.
func HeartbeatQualifier(topic string) string { return topic + heartbeatSuffix }

// IsVote reports whether qualifier belongs to topic's vote traffic.
func IsVote(topic, qualifier string) bool { return qualifier == VoteQualifier(topic) }

// IsHeartbeat reports whether qualifier belongs to topic's heartbeat traffic.
func IsHeartbeat(topic, qualifier string) bool { return qualifier == HeartbeatQualifier(topic) }

// NewVoteRequest wraps a VoteRequest in a topic-scoped envelope.
func NewVoteRequest(topic, sender string, req VoteRequest) (transport.Envelope, error) {
	return transport.New(VoteQualifier(topic), sender, req)
}

// NewHeartbeatRequest wraps a HeartbeatRequest in a topic-scoped envelope.
func NewHeartbeatRequest(topic, sender string, req HeartbeatRequest) (transport.Envelope, error) {
	return transport.New(HeartbeatQualifier(topic), sender, req)
}

// ReplyVote wraps a VoteResponse, echoing the request's correlation id.
func ReplyVote(req transport.Envelope, topic, sender string, res VoteResponse) (transport.Envelope, error) {
	return transport.Reply(req, VoteQualifier(topic), sender, res)
}

// ReplyHeartbeat wraps a HeartbeatResponse, echoing the request's correlation id.
func ReplyHeartbeat(req transport.Envelope, topic, sender string, res HeartbeatResponse) (transport.Envelope, error) {
	return transport.Reply(req, HeartbeatQualifier(topic), sender, res)
}
