package wsapi

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ivugurura/sonos-caster/internal/events"
	"github.com/ivugurura/sonos-caster/internal/latency"
)

// Hub tracks every live WebSocket connection and fans domain events and
// latency readings out to all of them. It implements both events.Emitter
// and latency.Sink so the coordinator and latency manager don't need to
// know the transport exists.
type Hub struct {
	mu    sync.Mutex
	conns map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[*Conn]struct{})}
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *Hub) broadcast(msgType string, payload any) {
	h.mu.Lock()
	targets := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()
	for _, c := range targets {
		if err := c.send(msgType, payload); err != nil {
			log.Debug().Err(err).Msg("wsapi: broadcast send failed, dropping")
		}
	}
}

// Emit implements events.Emitter: every domain event is broadcast to all
// connected browsers, which filter client-side for the stream they own.
func (h *Hub) Emit(e events.Event) {
	switch e.Kind {
	case events.KindPlaybackStopped:
		h.broadcast("PLAYBACK_STOPPED", playbackStoppedOut{StreamID: e.StreamID, SpeakerIP: e.SpeakerIP, Reason: string(e.Reason)})
	case events.KindPlaybackStopFailed:
		h.broadcast("PLAYBACK_STOP_FAILED", playbackStopFailedOut{StreamID: e.StreamID, SpeakerIP: e.SpeakerIP, Error: e.Err})
	case events.KindStreamCreated, events.KindStreamEnded:
		// Lifecycle-only events with no dedicated outbound message today;
		// connections learn of these via HANDSHAKE_ACK / PLAYBACK_RESULTS.
	}
}

// PublishLatency implements latency.Sink: readings are broadcast as
// network-health updates to every connection.
func (h *Hub) PublishLatency(r latency.Reading) {
	h.broadcast("NETWORK_HEALTH", networkHealthOut{
		StreamID: r.StreamID, SpeakerIP: r.SpeakerIP,
		LatencyMs: r.LatencyMs, Confidence: r.Confidence, SampleCount: r.SampleCount,
	})
}
