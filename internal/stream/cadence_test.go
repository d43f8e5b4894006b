package stream

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ivugurura/sonos-caster/internal/audio"
)

func cadenceTestFormat() audio.Format {
	return audio.Format{SampleRate: 1000, Channels: 1, BitsPerSample: 16}
}

func newTestCadence() (*Cadence, *State) {
	st := NewState("s1", audio.CodecPCM, cadenceTestFormat(), 4, 8, 100, 20)
	rx := newBroadcaster(8).subscribe()
	hook := NewEpochHook(st, st.Timing.firstFrameAt, st.Timing.firstFrameAt, net.ParseIP("10.0.0.1"))
	c := NewCadence(rx, cadenceTestFormat(), 20, 100, hook)
	return c, st
}

func TestCadence_PushQueue_DropsOldestAtCapacity(t *testing.T) {
	c, _ := newTestCadence()
	c.queueSize = 2
	c.pushQueue([]byte("a"))
	c.pushQueue([]byte("b"))
	c.pushQueue([]byte("c"))

	if c.stats.FramesDropped != 1 {
		t.Fatalf("expected 1 dropped frame, got %d", c.stats.FramesDropped)
	}
	if len(c.queue) != 2 || string(c.queue[0]) != "b" || string(c.queue[1]) != "c" {
		t.Fatalf("expected the oldest frame dropped, got %+v", stringsOf(c.queue))
	}
}

// TestCadence_OverflowKeepsNewestFrames covers spec.md §8 scenario S3: a
// stalled consumer whose producer pushes 10 frames into a 5-deep queue
// drops exactly the first 5, and the first frame emitted on resume is
// the 6th pushed.
func TestCadence_OverflowKeepsNewestFrames(t *testing.T) {
	c, _ := newTestCadence()
	c.queueSize = 5
	for i := byte(0); i < 10; i++ {
		c.pushQueue([]byte{i, i})
	}

	if c.stats.FramesDropped != 5 {
		t.Fatalf("expected exactly 5 dropped frames, got %d", c.stats.FramesDropped)
	}
	first, isRealAudio := c.emitTick()
	if !isRealAudio || first[0] != 5 {
		t.Fatalf("expected the first emitted frame after overflow to be the 6th pushed, got %v (real=%v)", first, isRealAudio)
	}
	for want := byte(6); want < 10; want++ {
		frame, _ := c.emitTick()
		if frame[0] != want {
			t.Fatalf("expected frame %d next, got %v", want, frame)
		}
	}
}

func TestCadence_CrossfadeEligible(t *testing.T) {
	c, _ := newTestCadence()
	if !c.crossfadeEligible() {
		t.Fatalf("expected 16-bit mono to be crossfade eligible")
	}
	c.format.BitsPerSample = 24
	if c.crossfadeEligible() {
		t.Fatalf("expected 24-bit to not be crossfade eligible")
	}
}

func TestCadence_EmitTick_QueuedFrameOutputsVerbatim(t *testing.T) {
	c, _ := newTestCadence()
	c.pushQueue([]byte{1, 0, 2, 0})

	out, isRealAudio := c.emitTick()
	if string(out) != string([]byte{1, 0, 2, 0}) {
		t.Fatalf("expected a queued frame to be emitted unmodified, got %v", out)
	}
	if !isRealAudio {
		t.Fatalf("expected a queued frame to report isRealAudio=true")
	}
	if c.mode != modeAudio {
		t.Fatalf("expected mode to be modeAudio after a queued frame")
	}
}

func TestCadence_EmitTick_EntersSilenceWithFadeOutThenHoldsSilence(t *testing.T) {
	c, _ := newTestCadence()
	c.pushQueue([]byte{100, 0})
	c.emitTick() // consume queued frame, latch lastLeft/lastRight

	first, firstIsRealAudio := c.emitTick()
	if c.stats.SilenceEvents != 1 || c.stats.SilenceFrames != 1 {
		t.Fatalf("expected one silence event/frame recorded, got %+v", c.stats)
	}
	if len(first) != len(c.silenceFrame) {
		t.Fatalf("expected the fade-out frame to match the configured frame length")
	}
	if firstIsRealAudio {
		t.Fatalf("expected a fade-out frame to report isRealAudio=false")
	}

	second, secondIsRealAudio := c.emitTick()
	if string(second) != string(c.silenceFrame) {
		t.Fatalf("expected subsequent silence ticks to emit the cached silence frame")
	}
	if secondIsRealAudio {
		t.Fatalf("expected a cached silence frame to report isRealAudio=false")
	}
	if c.stats.SilenceEvents != 1 {
		t.Fatalf("expected SilenceEvents to stay at 1 while remaining in silence mode, got %d", c.stats.SilenceEvents)
	}
	if c.stats.SilenceFrames != 2 {
		t.Fatalf("expected SilenceFrames to increment every silent tick, got %d", c.stats.SilenceFrames)
	}
}

func TestCadence_EmitTick_FadeInOnResumeFromSilence(t *testing.T) {
	c, _ := newTestCadence()
	c.pushQueue([]byte{100, 0})
	c.emitTick()
	c.emitTick() // now in silence mode

	c.pushQueue([]byte{100, 0})
	resumed, resumedIsRealAudio := c.emitTick()
	if c.mode != modeAudio {
		t.Fatalf("expected mode to return to modeAudio")
	}
	if !resumedIsRealAudio {
		t.Fatalf("expected the resume frame to report isRealAudio=true")
	}
	// A faded-in first sample must not equal the original full-amplitude
	// sample, since ApplyFadeIn ramps from zero.
	if string(resumed) == string([]byte{100, 0}) {
		t.Fatalf("expected the resume frame to be faded in, not emitted verbatim")
	}
}

// TestCadence_Tick_FailedEmitDoesNotBurnHook covers spec.md §4.3's "errors
// do not burn the hook" rule: a write failure on the first real audio
// frame must leave the epoch hook unfired.
func TestCadence_Tick_FailedEmitDoesNotBurnHook(t *testing.T) {
	c, st := newTestCadence()
	ip := net.ParseIP("10.0.0.1")
	c.hook = NewEpochHook(st, time.Time{}, time.Time{}, ip)
	c.pushQueue([]byte{1, 0})

	wantErr := errors.New("write failed")
	if err := c.tick(func([]byte) error { return wantErr }); err != wantErr {
		t.Fatalf("expected tick to propagate the emit error, got %v", err)
	}
	if _, ok := st.Timing.EpochFor(ip); ok {
		t.Fatalf("expected the epoch hook not to fire after a failed emit")
	}
}

// TestCadence_Tick_SuccessfulRealAudioEmitFiresHook is the mirror case: a
// successful emit of a real (non-silence) frame does fire the hook.
func TestCadence_Tick_SuccessfulRealAudioEmitFiresHook(t *testing.T) {
	c, st := newTestCadence()
	ip := net.ParseIP("10.0.0.1")
	c.hook = NewEpochHook(st, time.Time{}, time.Time{}, ip)
	c.pushQueue([]byte{1, 0})

	if err := c.tick(func([]byte) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := st.Timing.EpochFor(ip); !ok {
		t.Fatalf("expected the epoch hook to fire after a successful real-audio emit")
	}
}

func TestEpochHook_FiresOnlyOnce(t *testing.T) {
	st := NewState("s1", audio.CodecPCM, cadenceTestFormat(), 4, 8, 100, 20)
	ip := net.ParseIP("10.0.0.1")
	hook := NewEpochHook(st, st.Timing.firstFrameAt, st.Timing.firstFrameAt, ip)

	hook.Fire()
	first, ok := st.Timing.EpochFor(ip)
	if !ok {
		t.Fatalf("expected an epoch to be recorded after Fire")
	}

	hook.Fire()
	second, _ := st.Timing.EpochFor(ip)
	if second.ID != first.ID {
		t.Fatalf("expected a second Fire call to be a no-op")
	}
}

func TestEpochHook_NilHookFireIsNoop(t *testing.T) {
	var hook *EpochHook
	hook.Fire() // must not panic
}
