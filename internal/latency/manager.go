package latency

import (
	"context"
	"sync"
	"time"

	"github.com/ivugurura/sonos-caster/internal/sonos"
)

// key identifies one monitor instance.
type key struct {
	streamID  string
	speakerIP string
}

// Manager starts and stops one Monitor goroutine per (stream, speaker),
// keyed so a speaker reconnecting to the same stream doesn't accumulate
// duplicate pollers. Only started when the extension opts into video
// sync on a WebSocket connection (spec.md §6: videoSyncEnabled is sticky
// for the connection's lifetime).
type Manager struct {
	Registry Registry
	Soap     sonos.Client
	Sink     Sink

	PollInterval      time.Duration
	EMAAlpha          float64
	MinSamplesForConf int
	EmitEvery         time.Duration

	mu       sync.Mutex
	cancels  map[key]context.CancelFunc
}

func NewManager(reg Registry, soap sonos.Client, sink Sink, pollInterval time.Duration, emaAlpha float64, minSamples int, emitEvery time.Duration) *Manager {
	return &Manager{
		Registry: reg, Soap: soap, Sink: sink,
		PollInterval: pollInterval, EMAAlpha: emaAlpha,
		MinSamplesForConf: minSamples, EmitEvery: emitEvery,
		cancels: make(map[key]context.CancelFunc),
	}
}

// Start launches a monitor for (streamID, speakerIP) if one isn't already
// running.
func (m *Manager) Start(streamID, speakerIP string) {
	k := key{streamID, speakerIP}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.cancels[k]; exists {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancels[k] = cancel
	mon := NewMonitor(m.Registry, m.Soap, m.Sink, streamID, speakerIP, m.PollInterval, m.EMAAlpha, m.MinSamplesForConf, m.EmitEvery)
	go mon.Run(ctx)
}

// Stop cancels the monitor for (streamID, speakerIP), if running.
func (m *Manager) Stop(streamID, speakerIP string) {
	k := key{streamID, speakerIP}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, exists := m.cancels[k]; exists {
		cancel()
		delete(m.cancels, k)
	}
}

// StopAllForStream cancels every monitor tracking streamID, e.g. when the
// stream itself is removed.
func (m *Manager) StopAllForStream(streamID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, cancel := range m.cancels {
		if k.streamID == streamID {
			cancel()
			delete(m.cancels, k)
		}
	}
}
