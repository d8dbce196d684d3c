// Package identity provides the agent identity provider spec.md §1 names
// as one of the core's narrow external collaborators: something that hands
// out the agent_id a worker claims entries under. Grounded on the generated-
// id idiom other_examples' operation.go uses (uuid.New().String() as a
// record identifier), adapted here to identify a long-lived worker process
// rather than a single request.
package identity

import (
	"os"

	"github.com/google/uuid"
)

// Provider hands out the agent_id a worker process claims entries under.
type Provider interface {
	AgentID() string
}

// Static returns a fixed agent_id, used when an operator pins a worker's
// identity across restarts (e.g. to keep its claim history attributable to
// one named agent).
type Static string

// AgentID returns the fixed id.
func (s Static) AgentID() string { return string(s) }

// Generated mints a fresh uuid once at construction and returns it for the
// lifetime of the process, the default when no identity is pinned.
type Generated struct {
	id string
}

// NewGenerated builds a Generated identity, prefixing the uuid with the
// process hostname when available so claim history stays legible across a
// fleet of otherwise-anonymous workers.
func NewGenerated() *Generated {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return &Generated{id: host + "-" + uuid.New().String()}
}

// AgentID returns the generated id.
func (g *Generated) AgentID() string { return g.id }

// NewCorrelationID mints a fresh uuid for tracing a single pipeline run
// across its rebase/test/merge events, independent of the owning agent_id.
func NewCorrelationID() string {
	return uuid.New().String()
}
