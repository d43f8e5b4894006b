package httpstream

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ivugurura/sonos-caster/config"
	"github.com/ivugurura/sonos-caster/internal/stream"
)

// DeliveryGuard wraps one HTTP consumer's response stream to log
// lifecycle and timing without locking on the hot path. Grounded on
// cadence.rs's LoggingStreamGuard: every per-frame field is a lock-free
// atomic, and only the rarely-touched first-error slot uses a mutex.
type DeliveryGuard struct {
	streamID string
	clientIP net.IP
	refTime  time.Time

	framesSent        atomic.Uint64
	lastDeliveryNanos atomic.Uint64
	maxGapMs          atomic.Uint64
	gapsOverThreshold atomic.Uint64

	firstErrMu  sync.Mutex
	firstErr    string

	cadenceOnce  sync.Once
	cadenceStats stream.CadenceStats
	haveCadence  bool
}

func NewDeliveryGuard(streamID string, clientIP net.IP) *DeliveryGuard {
	log.Info().Str("stream_id", streamID).Str("client", clientIP.String()).Msg("HTTP stream started")
	return &DeliveryGuard{streamID: streamID, clientIP: clientIP, refTime: time.Now()}
}

// RecordFrame logs one delivered frame and tracks inter-frame gaps.
func (g *DeliveryGuard) RecordFrame() {
	g.framesSent.Add(1)

	nowNanos := uint64(time.Since(g.refTime))
	prevNanos := g.lastDeliveryNanos.Swap(nowNanos)

	if prevNanos == 0 {
		return
	}
	gapMs := (nowNanos - prevNanos) / uint64(time.Millisecond)

	for {
		cur := g.maxGapMs.Load()
		if gapMs <= cur || g.maxGapMs.CompareAndSwap(cur, gapMs) {
			break
		}
	}

	if gapMs > uint64(config.DeliveryGapThresholdMs) {
		g.gapsOverThreshold.Add(1)
		if gapMs > uint64(config.DeliveryGapLogThresholdMs) {
			log.Warn().Str("stream_id", g.streamID).Str("client", g.clientIP.String()).
				Uint64("gap_ms", gapMs).Msg("delivery gap detected")
		}
	}
}

// RecordError stores the first error this connection encountered.
func (g *DeliveryGuard) RecordError(err error) {
	if err == nil {
		return
	}
	g.firstErrMu.Lock()
	defer g.firstErrMu.Unlock()
	if g.firstErr == "" {
		g.firstErr = err.Error()
	}
}

// SetCadenceStats publishes the cadence pipeline's stats exactly once, at
// stream end.
func (g *DeliveryGuard) SetCadenceStats(stats stream.CadenceStats) {
	g.cadenceOnce.Do(func() {
		g.cadenceStats = stats
		g.haveCadence = true
	})
}

// Close logs a one-line end-of-stream summary, including whether the
// connection ended stalled (final gap exceeding the log threshold).
func (g *DeliveryGuard) Close() {
	frames := g.framesSent.Load()
	maxGap := g.maxGapMs.Load()
	gapsOver := g.gapsOverThreshold.Load()

	lastNanos := g.lastDeliveryNanos.Load()
	var finalGapMs uint64
	if lastNanos > 0 {
		finalGapMs = (uint64(time.Since(g.refTime)) - lastNanos) / uint64(time.Millisecond)
	}
	stalled := finalGapMs > uint64(config.DeliveryGapLogThresholdMs)

	g.firstErrMu.Lock()
	firstErr := g.firstErr
	g.firstErrMu.Unlock()

	evt := log.Info().
		Str("stream_id", g.streamID).
		Str("client", g.clientIP.String()).
		Uint64("frames", frames).
		Uint64("max_gap_ms", maxGap).
		Uint64("gaps_over_threshold", gapsOver).
		Bool("stalled", stalled)
	if firstErr != "" {
		evt = evt.Str("first_error", firstErr)
	}
	if g.haveCadence {
		evt = evt.Int64("silence_events", g.cadenceStats.SilenceEvents).
			Int64("silence_frames", g.cadenceStats.SilenceFrames).
			Int64("frames_dropped", g.cadenceStats.FramesDropped)
	}
	evt.Msg("HTTP stream ended")
}
