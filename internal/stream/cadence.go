package stream

import (
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ivugurura/sonos-caster/internal/audio"
)

// EpochHook fires once, on the first real, non-empty, successfully emitted
// audio frame a cadence pipeline produces. Silence, lag, and error frames
// never burn it.
type EpochHook struct {
	state         *State
	epochCandidate time.Time
	connectedAt   time.Time
	remoteIP      net.IP
	fired         bool
}

func NewEpochHook(state *State, epochCandidate, connectedAt time.Time, remoteIP net.IP) *EpochHook {
	return &EpochHook{state: state, epochCandidate: epochCandidate, connectedAt: connectedAt, remoteIP: remoteIP}
}

func (h *EpochHook) Fire() {
	if h == nil || h.fired {
		return
	}
	h.fired = true
	h.state.Timing.StartNewEpoch(h.epochCandidate, h.connectedAt, h.remoteIP)
}

// CadenceStats are the diagnostics a cadence pipeline accumulates over its
// lifetime and publishes exactly once, at stream end.
type CadenceStats struct {
	SilenceEvents int64
	SilenceFrames int64
	FramesDropped int64
}

// cadenceMode is the pipeline's two-state click-suppression machine.
type cadenceMode int

const (
	modeAudio cadenceMode = iota
	modeSilence
)

// Cadence converts a jittery input broadcast into a strictly periodic
// output sequence at frame_duration_ms intervals, one instance per HTTP
// consumer. Grounded directly on the streaming core's cadence loop: a
// priority-biased select where the metronome tick always wins over the
// broadcast receive, with a non-blocking drain of the receive arm after
// every tick to keep the internal queue from starving under that bias.
type Cadence struct {
	rx              *receiver
	format          audio.Format
	frameDurationMs int
	queueSize       int
	hook            *EpochHook

	queue         [][]byte
	lastLeft      int16
	lastRight     int16
	haveLastPair  bool
	mode          cadenceMode
	fadeSamples   int
	frameSamples  int
	silenceFrame  []byte

	stats        CadenceStats
	lastLagLogAt time.Time
	closed       bool
}

// NewCadence constructs a cadence pipeline. queueSize is
// streaming_buffer_ms / frame_duration_ms, at least 1.
func NewCadence(rx *receiver, format audio.Format, frameDurationMs, streamingBufferMs int, hook *EpochHook) *Cadence {
	queueSize := streamingBufferMs / frameDurationMs
	if queueSize < 1 {
		queueSize = 1
	}
	frameSamples := format.SampleRate * frameDurationMs / 1000
	frameBytes := frameSamples * format.Channels * 2

	c := &Cadence{
		rx:              rx,
		format:          format,
		frameDurationMs: frameDurationMs,
		queueSize:       queueSize,
		hook:            hook,
		frameSamples:    frameSamples,
		fadeSamples:     audio.FadeSamples(format.SampleRate),
		silenceFrame:    audio.SilenceFrame(frameBytes),
		mode:            modeAudio,
	}
	return c
}

// pushQueue enforces queue_size with drop-oldest-and-count eviction.
func (c *Cadence) pushQueue(frame []byte) {
	if len(c.queue) >= c.queueSize {
		c.queue = c.queue[1:]
		c.stats.FramesDropped++
	}
	c.queue = append(c.queue, frame)
}

// drainNonBlocking pulls any already-available input frames into the
// queue without blocking, run once after every tick so the biased
// metronome-always-wins ordering doesn't starve the receive arm.
func (c *Cadence) drainNonBlocking() {
	for {
		frame, result := c.rx.TryRecv()
		switch result {
		case TryRecvOK:
			c.pushQueue(frame)
		case TryRecvEmpty:
			return
		case TryRecvClosed:
			c.closed = true
			return
		}
	}
}

// crossfadeEligible reports whether click-suppression applies: 16-bit PCM
// with 1 or 2 channels, per the bit-depth invariant.
func (c *Cadence) crossfadeEligible() bool {
	return c.format.BitsPerSample == 16 && (c.format.Channels == 1 || c.format.Channels == 2)
}

// emitTick produces exactly one output frame for the current metronome
// tick, updating mode/stats as it goes. isRealAudio reports whether the
// frame came from the queue (real audio, as opposed to cached/faded
// silence) — the caller fires the epoch hook only for such a frame, and
// only once it has been successfully emitted.
func (c *Cadence) emitTick() (out []byte, isRealAudio bool) {
	if len(c.queue) > 0 {
		frame := c.queue[0]
		c.queue = c.queue[1:]

		wasSilence := c.mode == modeSilence
		c.mode = modeAudio

		if left, right, ok := audio.ExtractLastSamplePair(frame, c.format.Channels); ok {
			c.lastLeft, c.lastRight, c.haveLastPair = left, right, true
		}

		out = frame
		if wasSilence && c.crossfadeEligible() {
			out = append([]byte(nil), frame...)
			audio.ApplyFadeIn(out, c.format.Channels, c.fadeSamples)
		}

		return out, true
	}

	// No queued audio: emit silence, with a fade-out frame on the first
	// tick that transitions into silence mode.
	enteringSilence := c.mode == modeAudio
	c.mode = modeSilence
	c.stats.SilenceFrames++
	if enteringSilence {
		c.stats.SilenceEvents++
		if c.haveLastPair && c.crossfadeEligible() {
			return audio.CreateFadeOutFrame(c.lastLeft, c.lastRight, c.format.Channels, c.fadeSamples, c.frameSamples), false
		}
	}
	return c.silenceFrame, false
}

// Run drives the cadence pipeline to completion, invoking emit for every
// periodic output frame until the broadcast closes and the queue drains.
// It returns the final stats, meant to be published once by the caller.
func (c *Cadence) Run(emit func([]byte) error) (CadenceStats, error) {
	ticker := time.NewTicker(time.Duration(c.frameDurationMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.closed && len(c.queue) == 0 {
			return c.stats, nil
		}

		// Fast-path non-blocking probe: the metronome always wins over the
		// receive arm when both are ready. Go's select has no "biased"
		// keyword, so the priority is emulated with this explicit check
		// before falling into the blocking select below.
		select {
		case <-ticker.C:
			if err := c.tick(emit); err != nil {
				return c.stats, err
			}
			continue
		default:
		}

		if c.closed {
			// The broadcast is closed and won't deliver more input; drain
			// whatever remains in the queue at cadence.
			<-ticker.C
			if err := c.tick(emit); err != nil {
				return c.stats, err
			}
			continue
		}

		select {
		case <-ticker.C:
			if err := c.tick(emit); err != nil {
				return c.stats, err
			}
		case frame, ok := <-c.rx.ch:
			if !ok {
				c.closed = true
				continue
			}
			c.pushQueue(frame)
		}
	}
}

func (c *Cadence) tick(emit func([]byte) error) error {
	frame, isRealAudio := c.emitTick()
	c.drainNonBlocking()

	if lagged := c.rx.LaggedCount(); lagged > 0 {
		now := time.Now()
		if c.lastLagLogAt.IsZero() || now.Sub(c.lastLagLogAt) >= time.Second {
			log.Warn().Int64("lagged", lagged).Msg("cadence receiver fell behind broadcast")
			c.lastLagLogAt = now
		}
	}

	if err := emit(frame); err != nil {
		return err
	}
	// The hook fires only once the frame is confirmed real audio and
	// successfully emitted; errors and silence never burn it.
	if isRealAudio && len(frame) > 0 {
		c.hook.Fire()
	}
	return nil
}
