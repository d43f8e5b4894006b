// Package stream implements the per-stream ingress, buffering, broadcast
// fan-out, and fixed-cadence output pipeline described by the streaming
// core: absorbing jittery browser audio and re-emitting it on a strict
// metronome for Sonos.
package stream

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ivugurura/sonos-caster/internal/audio"
)

// Metadata is the mutable, display-facing description of a stream's
// content. Album is always a fixed branding string because ICY cannot
// reliably update album art/text mid-stream.
type Metadata struct {
	Title  string
	Artist string
	Source string
}

// Album returns the branded album string Sonos displays on its UI.
func (m Metadata) Album(appName string) string {
	return m.Source + " • " + appName
}

// TimestampedFrame pairs a captured audio frame with the monotonic instant
// it arrived from the browser — recorded before any processing, because
// it defines that frame's content time.
type TimestampedFrame struct {
	CapturedAt time.Time
	Data       []byte
}

// Epoch labels a content-time origin for one HTTP consumer connection:
// the capture time of the oldest frame that consumer was served at
// connection start. It is that consumer's RelTime=0 for the latency
// monitor.
type Epoch struct {
	ID         uint64
	AudioEpoch time.Time
}

// jitterStats tracks receive-side timing health over a rolling window,
// reset whenever a caller snapshots it.
type jitterStats struct {
	mu          sync.Mutex
	count       int64
	minGapMs    int64
	maxGapMs    int64
	overThresh  int64
	lastPushed  time.Time
	haveLast    bool
	thresholdMs int64
}

func newJitterStats(frameDurationMs int) *jitterStats {
	return &jitterStats{thresholdMs: int64(frameDurationMs) * 2}
}

func (j *jitterStats) record(now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.count++
	if j.haveLast {
		gapMs := now.Sub(j.lastPushed).Milliseconds()
		if j.minGapMs == 0 || gapMs < j.minGapMs {
			j.minGapMs = gapMs
		}
		if gapMs > j.maxGapMs {
			j.maxGapMs = gapMs
		}
		if gapMs > j.thresholdMs {
			j.overThresh++
		}
	}
	j.lastPushed = now
	j.haveLast = true
}

// Snapshot is a point-in-time copy of jitter stats, returned (and the
// window reset) by State.SnapshotAndResetReceiveStats.
type Snapshot struct {
	Count          int64
	MinGapMs       int64
	MaxGapMs       int64
	OverThreshold  int64
}

func (j *jitterStats) snapshotAndReset() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := Snapshot{Count: j.count, MinGapMs: j.minGapMs, MaxGapMs: j.maxGapMs, OverThreshold: j.overThresh}
	j.count, j.minGapMs, j.maxGapMs, j.overThresh = 0, 0, 0, 0
	return s
}

// timing holds the set-once first-frame instant and the bounded,
// per-consumer-IP epoch map used by the latency monitor to anchor Sonos's
// reported position against a known content-time origin.
type timing struct {
	mu              sync.Mutex
	firstFrameAt    time.Time
	haveFirstFrame  bool
	epochByIP       map[string]Epoch
	maxEpochEntries int
	nextEpochID     uint64
}

func newTiming(maxEntries int) *timing {
	return &timing{epochByIP: make(map[string]Epoch), maxEpochEntries: maxEntries}
}

// StartNewEpoch records a new playback epoch for remoteIP, evicting the
// epoch currently serving the oldest content if the map is at capacity.
// epochCandidate is the captured_at of the oldest buffered frame at
// subscribe time (or zero if the buffer was empty, in which case the
// connectedAt instant anchors the epoch instead).
func (t *timing) StartNewEpoch(epochCandidate time.Time, connectedAt time.Time, remoteIP net.IP) Epoch {
	t.mu.Lock()
	defer t.mu.Unlock()

	audioEpoch := epochCandidate
	if audioEpoch.IsZero() {
		audioEpoch = connectedAt
	}

	if len(t.epochByIP) >= t.maxEpochEntries {
		if _, exists := t.epochByIP[remoteIP.String()]; !exists {
			t.evictOldestLocked()
		}
	}

	t.nextEpochID++
	e := Epoch{ID: t.nextEpochID, AudioEpoch: audioEpoch}
	t.epochByIP[remoteIP.String()] = e
	return e
}

func (t *timing) evictOldestLocked() {
	var oldestIP string
	var oldest time.Time
	first := true
	for ip, e := range t.epochByIP {
		if first || e.AudioEpoch.Before(oldest) {
			oldest = e.AudioEpoch
			oldestIP = ip
			first = false
		}
	}
	if oldestIP != "" {
		delete(t.epochByIP, oldestIP)
	}
}

// EpochFor returns the current epoch recorded for remoteIP.
func (t *timing) EpochFor(remoteIP net.IP) (Epoch, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.epochByIP[remoteIP.String()]
	return e, ok
}

func (t *timing) markFirstFrame(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.haveFirstFrame {
		t.firstFrameAt = at
		t.haveFirstFrame = true
	}
}

// ElapsedSinceFirstFrame returns the duration since the stream's first
// real audio frame, or zero if none has arrived yet.
func (t *timing) ElapsedSinceFirstFrame(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.haveFirstFrame {
		return 0
	}
	return now.Sub(t.firstFrameAt)
}

// State is the per-stream core entity: ingress, ring buffer, broadcast
// fan-out, and the mutable metadata/timing state consumers read.
type State struct {
	ID     string
	Codec  audio.Codec
	Format audio.Format

	StreamingBufferMs int
	FrameDurationMs   int

	metaMu   sync.RWMutex
	metadata Metadata

	broadcast *broadcaster

	bufMu      sync.Mutex
	ring       []TimestampedFrame
	ringHead   int
	ringLen    int
	bufferCap  int

	hasFrames atomic.Bool

	Timing *timing
	jitter *jitterStats
}

const defaultMaxEpochEntries = 64

// NewState constructs a stream's core entity. bufferFrames bounds the ring
// buffer; channelCapacity bounds the broadcast fan-out per consumer.
func NewState(id string, codec audio.Codec, format audio.Format, bufferFrames, channelCapacity, streamingBufferMs, frameDurationMs int) *State {
	return &State{
		ID:                id,
		Codec:             codec,
		Format:            format,
		StreamingBufferMs: streamingBufferMs,
		FrameDurationMs:   frameDurationMs,
		broadcast:         newBroadcaster(channelCapacity),
		ring:              make([]TimestampedFrame, bufferFrames),
		bufferCap:         bufferFrames,
		Timing:            newTiming(defaultMaxEpochEntries),
		jitter:            newJitterStats(frameDurationMs),
	}
}

// PushFrame appends data as a new frame, updates jitter stats and the
// first-frame latch, then broadcasts it to live consumers. Returns true if
// this is the first frame the stream has ever received.
func (s *State) PushFrame(data []byte) bool {
	now := time.Now()
	s.jitter.record(now)

	frame := TimestampedFrame{CapturedAt: now, Data: data}

	s.bufMu.Lock()
	s.appendLocked(frame)
	s.broadcast.send(data)
	s.bufMu.Unlock()

	isFirst := s.hasFrames.CompareAndSwap(false, true)
	if isFirst {
		s.Timing.markFirstFrame(now)
	}

	return isFirst
}

func (s *State) appendLocked(frame TimestampedFrame) {
	idx := (s.ringHead + s.ringLen) % s.bufferCap
	s.ring[idx] = frame
	if s.ringLen < s.bufferCap {
		s.ringLen++
	} else {
		s.ringHead = (s.ringHead + 1) % s.bufferCap
	}
}

// Subscribe atomically snapshots the current buffer and registers a new
// live receiver. A frame either completed before Subscribe acquired the
// buffer lock (present in the prefill, absent from the receiver) or
// started after (absent from the prefill, present on the receiver) —
// never both, never neither. This is enforced by registering the
// broadcast receiver while still holding the buffer lock.
func (s *State) Subscribe() (epochCandidate time.Time, prefill [][]byte, rx *receiver) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()

	prefill = make([][]byte, s.ringLen)
	for i := 0; i < s.ringLen; i++ {
		idx := (s.ringHead + i) % s.bufferCap
		prefill[i] = s.ring[idx].Data
	}
	if s.ringLen > 0 {
		epochCandidate = s.ring[s.ringHead].CapturedAt
	}

	rx = s.broadcast.subscribe()
	return
}

func (s *State) UpdateMetadata(m Metadata) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	s.metadata = m
}

func (s *State) Metadata() Metadata {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	return s.metadata
}

func (s *State) BufferLen() int {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return s.ringLen
}

func (s *State) SnapshotAndResetReceiveStats() Snapshot {
	return s.jitter.snapshotAndReset()
}

// Close closes the broadcast channel, signaling termination to all live
// HTTP consumers.
func (s *State) Close() {
	s.broadcast.close()
}

// NewEpochID reserves a fresh globally-unique suffix for callers that need
// one outside the per-IP epoch map (e.g. logging correlation IDs).
func NewEpochID() string {
	return uuid.NewString()
}
