// Package latency implements the per-(stream, speaker) latency monitor:
// a background poll loop that anchors Sonos's reported RelTime against
// the stream's own elapsed-since-first-frame clock, producing an EMA +
// confidence estimate of the streaming pipeline's buffer depth. Grounded
// on original_source/.../services/latency_monitor.rs and the teacher's
// StartAnalytics ticker-driven background-goroutine pattern.
package latency

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ivugurura/sonos-caster/internal/sonos"
	"github.com/ivugurura/sonos-caster/internal/stream"
)

// Registry is the subset of *stream.Registry the monitor needs.
type Registry interface {
	GetStream(id string) (*stream.State, bool)
}

// Reading is one rate-limited, confidence-scored latency estimate,
// published at most once per second per (stream, speaker).
type Reading struct {
	StreamID    string
	SpeakerIP   string
	LatencyMs   float64
	Confidence  float64
	SampleCount int64
}

// Sink receives latency readings as they're emitted. Implemented by the
// WebSocket layer to forward readings as network-health broadcasts.
type Sink interface {
	PublishLatency(Reading)
}

// welford holds the online mean/variance accumulator (Welford's method)
// used for confidence scoring alongside the EMA.
type welford struct {
	count int64
	mean  float64
	m2    float64
}

func (w *welford) add(x float64) {
	w.count++
	delta := x - w.mean
	w.mean += delta / float64(w.count)
	delta2 := x - w.mean
	w.m2 += delta * delta2
}

func (w *welford) stddev() float64 {
	if w.count < 2 {
		return math.MaxFloat64
	}
	return math.Sqrt(w.m2 / float64(w.count-1))
}

// confidenceFromStddev maps sample stddev to the documented confidence
// bands.
func confidenceFromStddev(stddev float64) float64 {
	switch {
	case stddev < 50:
		return 0.95
	case stddev < 100:
		return 0.85
	case stddev < 200:
		return 0.70
	case stddev < 500:
		return 0.50
	default:
		return 0.30
	}
}

// Monitor runs one background poll loop per (streamID, speakerIP).
type Monitor struct {
	Registry Registry
	Soap     sonos.Client
	Sink     Sink

	StreamID  string
	SpeakerIP string

	PollInterval      time.Duration
	EMAAlpha          float64
	MinSamplesForConf int
	EmitEvery         time.Duration

	// state, mutated only from the poll goroutine
	haveBaseline   bool
	baselineStream time.Duration
	baselineSonos  time.Duration
	lastRelTimeMs  int64
	emaLatencyMs   float64
	haveEMA        bool
	wf             welford
	lastEmit       time.Time
}

func NewMonitor(reg Registry, soap sonos.Client, sink Sink, streamID, speakerIP string, pollInterval time.Duration, emaAlpha float64, minSamples int, emitEvery time.Duration) *Monitor {
	return &Monitor{
		Registry: reg, Soap: soap, Sink: sink,
		StreamID: streamID, SpeakerIP: speakerIP,
		PollInterval: pollInterval, EMAAlpha: emaAlpha,
		MinSamplesForConf: minSamples, EmitEvery: emitEvery,
	}
}

// Run drives the monitor until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cycle(ctx)
		}
	}
}

func (m *Monitor) cycle(ctx context.Context) {
	st, ok := m.Registry.GetStream(m.StreamID)
	if !ok {
		return
	}
	streamElapsed := st.Timing.ElapsedSinceFirstFrame(time.Now())

	start := time.Now()
	trackURI, relTimeMs, err := m.Soap.GetPositionInfo(ctx, m.SpeakerIP)
	rtt := time.Since(start)
	if err != nil {
		log.Warn().Err(err).Str("stream_id", m.StreamID).Str("speaker_ip", m.SpeakerIP).Msg("latency monitor: GetPositionInfo failed")
		return
	}

	if !strings.Contains(trackURI, m.StreamID) {
		m.resetBaseline()
		return
	}

	// Track-restart detection: a metadata update can cause Sonos to
	// restart the track, snapping RelTime back to (near) zero.
	if m.haveBaseline && relTimeMs+1000 < m.lastRelTimeMs {
		m.resetBaseline()
		return
	}
	m.lastRelTimeMs = relTimeMs

	if !m.haveBaseline {
		m.baselineStream = streamElapsed
		m.baselineSonos = time.Duration(relTimeMs) * time.Millisecond
		m.haveBaseline = true
		return
	}

	sonosElapsed := time.Duration(relTimeMs)*time.Millisecond - m.baselineSonos
	streamDelta := streamElapsed - m.baselineStream
	latencyMs := float64((streamDelta - (sonosElapsed + rtt/2)).Milliseconds())

	// Documented open question: a negative computed latency ("Sonos
	// ahead somehow") is clamped to zero rather than discarded, per
	// spec.md §9's explicit instruction to preserve this behavior.
	latencyMs = math.Max(latencyMs, 0)

	if !m.haveEMA {
		m.emaLatencyMs = latencyMs
		m.haveEMA = true
	} else {
		m.emaLatencyMs = m.EMAAlpha*latencyMs + (1-m.EMAAlpha)*m.emaLatencyMs
	}
	m.wf.add(latencyMs)

	now := time.Now()
	if m.lastEmit.IsZero() || now.Sub(m.lastEmit) >= m.EmitEvery {
		m.lastEmit = now
		if m.wf.count >= int64(m.MinSamplesForConf) && m.Sink != nil {
			m.Sink.PublishLatency(Reading{
				StreamID: m.StreamID, SpeakerIP: m.SpeakerIP,
				LatencyMs: m.emaLatencyMs, Confidence: confidenceFromStddev(m.wf.stddev()),
				SampleCount: m.wf.count,
			})
		}
	}
}

func (m *Monitor) resetBaseline() {
	m.haveBaseline = false
	m.lastRelTimeMs = 0
}
