package stream

import (
	"sync"

	"github.com/google/uuid"
	"github.com/ivugurura/sonos-caster/internal/audio"
	"github.com/ivugurura/sonos-caster/internal/sonoserr"
)

// Registry maps stream IDs to their State, with a concurrency-safe keyed
// container and a hard cap on the number of concurrently active streams.
// Grounded on the teacher's Manager, generalized from "studios" (named,
// pre-registered) to ephemeral streams created per WebSocket handshake,
// and with the capacity limit the spec requires.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*State

	maxConcurrent int
	bufferFrames  int
	channelCap    int
}

func NewRegistry(maxConcurrent, bufferFrames, channelCap int) *Registry {
	return &Registry{
		streams:       make(map[string]*State),
		maxConcurrent: maxConcurrent,
		bufferFrames:  bufferFrames,
		channelCap:    channelCap,
	}
}

// CreateStream allocates a new stream and registers it, failing with a
// Capacity error if doing so would exceed max_concurrent_streams.
func (r *Registry) CreateStream(codec audio.Codec, format audio.Format, streamingBufferMs, frameDurationMs int) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.streams) >= r.maxConcurrent {
		return nil, sonoserr.New(sonoserr.KindCapacity, "max concurrent streams reached")
	}

	id := uuid.NewString()
	st := NewState(id, codec, format, r.bufferFrames, r.channelCap, streamingBufferMs, frameDurationMs)
	r.streams[id] = st
	return st, nil
}

func (r *Registry) GetStream(id string) (*State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[id]
	return s, ok
}

// RemoveStream unregisters and closes the stream's broadcast, which is
// the termination signal to all live HTTP consumers.
func (r *Registry) RemoveStream(id string) bool {
	r.mu.Lock()
	s, ok := r.streams[id]
	if ok {
		delete(r.streams, id)
	}
	r.mu.Unlock()
	if ok {
		s.Close()
	}
	return ok
}

func (r *Registry) StreamCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

func (r *Registry) ListStreamIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.streams))
	for id := range r.streams {
		out = append(out, id)
	}
	return out
}
