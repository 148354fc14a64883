// Package metrics exposes the election core's Prometheus instrumentation:
// current role, term, and vote/heartbeat counters per topic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the per-process collectors, registered against their own
// registry so embedding a Driver never collides with an application's own
// default registry.
type Metrics struct {
	reg *prometheus.Registry

	Role             *prometheus.GaugeVec
	Term             *prometheus.GaugeVec
	VotesGranted     *prometheus.CounterVec
	VotesDenied      *prometheus.CounterVec
	HeartbeatsSent   *prometheus.CounterVec
	HeartbeatsMissed *prometheus.CounterVec
}

// New creates and registers the election metrics.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Role: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "electorate",
			Name:      "role",
			Help:      "Current role (0=Follower, 1=Candidate, 2=Leader) per topic.",
		}, []string{"topic", "member"}),
		Term: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "electorate",
			Name:      "term",
			Help:      "Current term per topic.",
		}, []string{"topic", "member"}),
		VotesGranted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "electorate",
			Name:      "votes_granted_total",
			Help:      "Votes this node has granted, per topic.",
		}, []string{"topic"}),
		VotesDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "electorate",
			Name:      "votes_denied_total",
			Help:      "Votes this node has denied, per topic.",
		}, []string{"topic"}),
		HeartbeatsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "electorate",
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeats sent while leader, per topic.",
		}, []string{"topic"}),
		HeartbeatsMissed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "electorate",
			Name:      "heartbeats_missed_total",
			Help:      "Heartbeats that did not receive a reply within the deadline, per topic.",
		}, []string{"topic"}),
	}

	m.reg.MustRegister(m.Role, m.Term, m.VotesGranted, m.VotesDenied, m.HeartbeatsSent, m.HeartbeatsMissed)
	return m
}

// Handler serves this registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
