package cluster

import (
	"context"

	"github.com/dbac/electorate/internal/transport"
)

// Member identifies one remote participant by its gossiped node id and
// dial address.
type Member struct {
	ID      string
	Address string
}

// Cluster is the collaborator the driver depends on for everything that
// crosses the wire. It is the seam between this election core and whatever
// membership/gossip layer a deployment brings — §6 of the spec calls these
// capabilities out by name, and a Cluster implementation owes exactly
// these, nothing more.
type Cluster interface {
	LocalMemberID() string
	LocalAddress() string

	OtherMembers() []Member
	Metadata(Member) map[string]string

	Listen() <-chan transport.Envelope

	Send(ctx context.Context, addr string, env transport.Envelope) error
	RequestResponse(ctx context.Context, addr string, env transport.Envelope) (transport.Envelope, error)

	UpdateMetadataProperty(ctx context.Context, key, value string) error
}

// participantValue is the metadata value FindPeers scans for under the
// topic's own name as the property key, matching §4.3/§4.5's "publish
// metadata entry topic → \"leader-election\"".
const participantValue = "leader-election"

// FindPeers implements the §4.5 discovery adapter: every remote member
// whose gossiped metadata advertises topic as a key with participantValue
// is a peer for that topic's election. The set is recomputed on every
// call; it is never cached.
func FindPeers(c Cluster, topic string) []Member {
	var peers []Member
	for _, m := range c.OtherMembers() {
		md := c.Metadata(m)
		if md[topic] == participantValue {
			peers = append(peers, m)
		}
	}
	return peers
}

// AdvertiseTopic publishes this node's participation in topic's election
// so that peers' FindPeers calls pick it up on their next gossip round.
func AdvertiseTopic(ctx context.Context, c Cluster, topic string) error {
	return c.UpdateMetadataProperty(ctx, topic, participantValue)
}
