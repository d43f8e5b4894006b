package consumers

import (
	"context"
	"sync"
	"time"

	"github.com/ivugurura/sonos-caster/internal/events"
)

// LifecycleEmitter starts a consumer analytics flush loop for each stream
// as it's created and cancels it when the stream ends, so StartFlushLoop
// (inherently per-stream) doesn't need its caller to track stream
// lifetimes by hand. Implements events.Emitter so it can sit alongside
// the WebSocket hub and HTTP emitter in an events.MultiEmitter.
type LifecycleEmitter struct {
	Store      *Store
	IngestURL  string
	APIKey     string
	FlushEvery time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewLifecycleEmitter(store *Store, ingestURL, apiKey string, flushEvery time.Duration) *LifecycleEmitter {
	return &LifecycleEmitter{
		Store: store, IngestURL: ingestURL, APIKey: apiKey, FlushEvery: flushEvery,
		cancels: make(map[string]context.CancelFunc),
	}
}

func (l *LifecycleEmitter) Emit(e events.Event) {
	switch e.Kind {
	case events.KindStreamCreated:
		l.start(e.StreamID)
	case events.KindStreamEnded:
		l.stop(e.StreamID)
	}
}

func (l *LifecycleEmitter) start(streamID string) {
	if l.IngestURL == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.cancels[streamID]; exists {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancels[streamID] = cancel
	StartFlushLoop(ctx, l.Store, streamID, l.IngestURL, l.APIKey, l.FlushEvery)
}

func (l *LifecycleEmitter) stop(streamID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cancel, exists := l.cancels[streamID]; exists {
		cancel()
		delete(l.cancels, streamID)
	}
}
