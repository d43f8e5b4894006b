package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/ivugurura/sonos-caster/internal/audio"
)

func pcmFrame16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(s))
	}
	return out
}

func TestFadeSamples(t *testing.T) {
	if got := audio.FadeSamples(44100); got != 88 {
		t.Fatalf("FadeSamples(44100) = %d, want 88", got)
	}
	if got := audio.FadeSamples(0); got != 1 {
		t.Fatalf("expected FadeSamples to floor at 1, got %d", got)
	}
}

func TestExtractLastSamplePair_Stereo(t *testing.T) {
	frame := pcmFrame16(100, 200, 300, 400)
	left, right, ok := audio.ExtractLastSamplePair(frame, 2)
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if left != 300 || right != 400 {
		t.Fatalf("expected trailing pair (300, 400), got (%d, %d)", left, right)
	}
}

func TestExtractLastSamplePair_Mono(t *testing.T) {
	frame := pcmFrame16(10, 20, 30)
	left, right, ok := audio.ExtractLastSamplePair(frame, 1)
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if left != 30 || right != 30 {
		t.Fatalf("expected mono sample duplicated into both channels, got (%d, %d)", left, right)
	}
}

func TestExtractLastSamplePair_TooShortOrBadChannels(t *testing.T) {
	if _, _, ok := audio.ExtractLastSamplePair(pcmFrame16(1), 2); ok {
		t.Fatalf("expected ok=false for a frame too short for stereo")
	}
	if _, _, ok := audio.ExtractLastSamplePair(pcmFrame16(1, 2), 3); ok {
		t.Fatalf("expected ok=false for an unsupported channel count")
	}
}

func TestCreateFadeOutFrame_RampsToZeroThenHoldsSilence(t *testing.T) {
	frame := audio.CreateFadeOutFrame(1000, 2000, 2, 4, 8)
	if len(frame) != 8*2*2 {
		t.Fatalf("expected frame length %d, got %d", 8*2*2, len(frame))
	}

	l0, r0, _ := audio.ExtractLastSamplePair(frame[:4], 2)
	if l0 != 1000 || r0 != 2000 {
		t.Fatalf("expected the first sample to equal the fade origin, got (%d, %d)", l0, r0)
	}

	lastRamp, rLastRamp, _ := audio.ExtractLastSamplePair(frame[:16], 2)
	if lastRamp != 0 || rLastRamp != 0 {
		t.Fatalf("expected the ramp's final sample to reach zero, got (%d, %d)", lastRamp, rLastRamp)
	}

	tail := frame[16:]
	for i, b := range tail {
		if b != 0 {
			t.Fatalf("expected silence beyond the ramp, got nonzero byte at offset %d", i)
		}
	}
}

func TestCreateFadeOutFrame_RampLongerThanFrameIsClamped(t *testing.T) {
	frame := audio.CreateFadeOutFrame(1000, 1000, 1, 100, 4)
	if len(frame) != 4*2 {
		t.Fatalf("expected frame length %d, got %d", 4*2, len(frame))
	}
	last, _, _ := audio.ExtractLastSamplePair(frame, 1)
	if last != 0 {
		t.Fatalf("expected the ramp clamped to the frame to reach zero by the last sample, got %d", last)
	}
}

func TestApplyFadeIn_RampsFromZeroToFullAmplitude(t *testing.T) {
	frame := pcmFrame16(1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000)
	audio.ApplyFadeIn(frame, 1, 4)

	first, _, _ := audio.ExtractLastSamplePair(frame[:2], 1)
	if first != 0 {
		t.Fatalf("expected the first sample of the fade-in to be zero, got %d", first)
	}

	unramped, _, _ := audio.ExtractLastSamplePair(frame[8:10], 1)
	if unramped != 1000 {
		t.Fatalf("expected samples beyond fadeSamples to be untouched, got %d", unramped)
	}
}

func TestApplyFadeIn_FadeSamplesLongerThanFrameIsClamped(t *testing.T) {
	frame := pcmFrame16(1000, 1000)
	audio.ApplyFadeIn(frame, 1, 100)
	first, _, _ := audio.ExtractLastSamplePair(frame[:2], 1)
	if first != 0 {
		t.Fatalf("expected the first sample to still ramp from zero, got %d", first)
	}
}

func TestParseCodec(t *testing.T) {
	cases := map[string]audio.Codec{
		"pcm":       audio.CodecPCM,
		"wav":       audio.CodecPCM,
		"aac":       audio.CodecAAC,
		"aac-lc":    audio.CodecAAC,
		"he-aac":    audio.CodecAAC,
		"he-aac-v2": audio.CodecAAC,
		"mp3":       audio.CodecMP3,
		"flac":      audio.CodecFLAC,
	}
	for name, want := range cases {
		got, err := audio.ParseCodec(name)
		if err != nil {
			t.Fatalf("ParseCodec(%q) returned error: %v", name, err)
		}
		if got != want {
			t.Errorf("ParseCodec(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := audio.ParseCodec("opus"); err == nil {
		t.Fatalf("expected an error for an unsupported codec name")
	}
}

func TestNormalizeBitsPerSample(t *testing.T) {
	if got := audio.NormalizeBitsPerSample(audio.CodecPCM, 24); got != 16 {
		t.Fatalf("expected PCM 24-bit to downgrade to 16, got %d", got)
	}
	if got := audio.NormalizeBitsPerSample(audio.CodecFLAC, 24); got != 24 {
		t.Fatalf("expected FLAC to keep 24-bit, got %d", got)
	}
	if got := audio.NormalizeBitsPerSample(audio.CodecPCM, 16); got != 16 {
		t.Fatalf("expected 16-bit to pass through unchanged, got %d", got)
	}
}

func TestFormat_FrameSamplesAndBytes(t *testing.T) {
	f := audio.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16}
	if got := f.FrameSamples(20); got != 882 {
		t.Fatalf("FrameSamples(20) = %d, want 882", got)
	}
	if got := f.FrameBytes(20); got != 882*2*2 {
		t.Fatalf("FrameBytes(20) = %d, want %d", got, 882*2*2)
	}
}

func TestFormat_CrossfadeCompatible(t *testing.T) {
	if !(audio.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 16}).CrossfadeCompatible() {
		t.Fatalf("expected 16-bit stereo to be crossfade compatible")
	}
	if (audio.Format{SampleRate: 44100, Channels: 2, BitsPerSample: 24}).CrossfadeCompatible() {
		t.Fatalf("expected 24-bit to not be crossfade compatible")
	}
	if (audio.Format{SampleRate: 44100, Channels: 3, BitsPerSample: 16}).CrossfadeCompatible() {
		t.Fatalf("expected 3-channel audio to not be crossfade compatible")
	}
}

func TestCodec_CleanupOrder(t *testing.T) {
	if audio.CodecPCM.CleanupOrder() != audio.HttpFirst {
		t.Fatalf("expected PCM to close HTTP before SOAP Stop")
	}
	if audio.CodecAAC.CleanupOrder() != audio.SoapFirst {
		t.Fatalf("expected AAC to stop via SOAP before closing HTTP")
	}
}

func TestCodec_RequiresFixedContentLengthAndRadioHint(t *testing.T) {
	if !audio.CodecPCM.RequiresFixedContentLength() {
		t.Fatalf("expected PCM to require a fixed Content-Length")
	}
	if audio.CodecMP3.RequiresFixedContentLength() {
		t.Fatalf("expected MP3 to not require a fixed Content-Length")
	}
	if !audio.CodecMP3.RequiresRadioHint() || !audio.CodecAAC.RequiresRadioHint() {
		t.Fatalf("expected MP3 and AAC to require the radio hint")
	}
	if audio.CodecPCM.RequiresRadioHint() || audio.CodecFLAC.RequiresRadioHint() {
		t.Fatalf("expected PCM and FLAC to not require the radio hint")
	}
}

func TestSilenceFrame_CachesByLength(t *testing.T) {
	f1 := audio.SilenceFrame(128)
	f2 := audio.SilenceFrame(128)
	if len(f1) != 128 {
		t.Fatalf("expected a 128-byte frame, got %d", len(f1))
	}
	for _, b := range f1 {
		if b != 0 {
			t.Fatalf("expected an all-zero silence frame")
		}
	}
	if &f1[0] != &f2[0] {
		t.Fatalf("expected repeated calls with the same length to return the cached buffer")
	}

	f3 := audio.SilenceFrame(256)
	if len(f3) != 256 {
		t.Fatalf("expected a distinct 256-byte frame, got %d", len(f3))
	}
}
