// Package gena implements the inbound half of the GENA event contract:
// an HTTP handler for speaker-originated NOTIFY requests. Establishing
// the subscriptions themselves (the SUBSCRIBE/RENEW round-trip against
// each speaker's event URL) is an external collaborator per spec.md §6
// and lives outside this package; Register below is how that
// collaborator tells this package which SID maps to which speaker and
// service, so inbound events can be routed.
package gena

import "sync"

// Kind identifies which UPnP service a subscription was made against,
// since the dispatch logic for a NOTIFY body differs by service.
type Kind string

const (
	KindAVTransport       Kind = "AVTransport"
	KindRenderingControl  Kind = "RenderingControl"
	KindZoneGroupTopology Kind = "ZoneGroupTopology"
)

// Subscription records what a SID refers to.
type Subscription struct {
	Kind      Kind
	SpeakerIP string
}

// Registry maps a subscription ID to its (kind, speaker) pair. Safe for
// concurrent use; the external subscription manager calls Register when
// it subscribes or renews, and the NOTIFY handler calls Lookup per
// request.
type Registry struct {
	mu    sync.RWMutex
	bySID map[string]Subscription
}

func NewRegistry() *Registry {
	return &Registry{bySID: make(map[string]Subscription)}
}

func (r *Registry) Register(sid string, sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySID[sid] = sub
}

func (r *Registry) Unregister(sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bySID, sid)
}

func (r *Registry) Lookup(sid string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.bySID[sid]
	return sub, ok
}
