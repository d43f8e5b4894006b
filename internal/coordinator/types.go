// Package coordinator owns playback lifecycle and multi-speaker
// orchestration: creating/removing streams, starting single, fan-out, and
// synchronized-group playback, promoting a slave when a coordinator is
// removed, and routing volume/mute. Grounded on
// original_source/.../services/stream_coordinator.rs and
// sync_group_manager.rs, re-expressed with the teacher's Manager method
// shape (narrow request/response methods over shared maps+mutexes) per
// the "flat ownership graph" design note: the Coordinator struct holds
// every shared collaborator, and the only back-reference is
// SyncGroupManager's pointer to its owning Coordinator.
package coordinator

import (
	"context"
	"time"
)

// TopologyProvider answers questions about the speakers' *current* Sonos
// group topology. It is a thin abstraction over the GENA-subscription-fed
// topology cache, an external collaborator per spec.md §1 (discovery and
// GENA subscription management are out of scope for this module) — only
// the read interface lives here.
type TopologyProvider interface {
	// UUIDFor returns a speaker's Sonos RINCON uuid, if known.
	UUIDFor(speakerIP string) (uuid string, ok bool)
	// GroupCoordinatorUUID returns the uuid of whichever speaker is
	// currently the Sonos group coordinator for speakerIP's group. For a
	// standalone speaker this equals UUIDFor(speakerIP).
	GroupCoordinatorUUID(speakerIP string) (uuid string, ok bool)
}

// TransportStateProvider exposes cached per-speaker AVTransport state,
// fed by the (external, out-of-scope) GENA event subscription manager.
type TransportStateProvider interface {
	// IsPlaying reports whether speakerIP's last observed transport state
	// was "PLAYING". ok is false if no state has been observed yet.
	IsPlaying(speakerIP string) (playing bool, ok bool)
}

// SyncArbiter is the external GENA subscription arbiter: while a speaker
// is part of our sync session, RenderingControl is subscribed per-speaker
// instead of GroupRenderingControl on the coordinator (see volume.go).
type SyncArbiter interface {
	EnterSyncSession(streamID string, speakerIPs []string)
	LeaveSyncSession(streamID, speakerIP string)
}

// Scheduler runs fn after d elapses. Abstracted so tests can run
// schedules synchronously instead of waiting on a real timer.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// realScheduler is the production Scheduler, a thin time.AfterFunc wrapper.
type realScheduler struct{}

func NewRealScheduler() Scheduler { return realScheduler{} }

func (realScheduler) After(d time.Duration, fn func()) { time.AfterFunc(d, fn) }

// StreamURLBuilder builds the HTTP URL a speaker fetches for a given
// stream and codec — an external concern (host/port/TLS) injected rather
// than hardcoded, since the desktop host and a headless server may bind
// differently.
type StreamURLBuilder func(streamID string, codec string, ext string) string

// ctxTimeout bounds a single SOAP round trip so a single unreachable
// speaker can never hang an entire multi-speaker operation.
func ctxTimeout(parent context.Context, ms int) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, time.Duration(ms)*time.Millisecond)
}
