package audio

import "encoding/binary"

// CrossfadeMs is the short linear ramp used to suppress clicks at
// silence/audio boundaries. Short enough to be inaudible, long enough to
// eliminate zero-crossing pops.
const CrossfadeMs = 2

// FadeSamples returns the number of samples the crossfade ramp spans at
// the given sample rate.
func FadeSamples(sampleRate int) int {
	n := sampleRate * CrossfadeMs / 1000
	if n < 1 {
		n = 1
	}
	return n
}

// ExtractLastSamplePair reads the trailing sample of each channel (up to
// 2) from a 16-bit PCM frame, for use as the crossfade's fade-out origin.
// Returns ok=false if the frame is too short or the channel count isn't
// 1 or 2.
func ExtractLastSamplePair(frame []byte, channels int) (left, right int16, ok bool) {
	if channels != 1 && channels != 2 {
		return 0, 0, false
	}
	frameBytes := channels * 2
	if len(frame) < frameBytes {
		return 0, 0, false
	}
	last := frame[len(frame)-frameBytes:]
	left = int16(binary.LittleEndian.Uint16(last[0:2]))
	if channels == 2 {
		right = int16(binary.LittleEndian.Uint16(last[2:4]))
	} else {
		right = left
	}
	return left, right, true
}

// CreateFadeOutFrame builds a frameSamples-long, 16-bit PCM frame that
// linearly ramps from (left, right) down to (0, 0) over the first
// min(fadeSamples, frameSamples) samples, then holds zero for the
// remainder.
func CreateFadeOutFrame(left, right int16, channels, fadeSamples, frameSamples int) []byte {
	out := make([]byte, frameSamples*channels*2)
	ramp := fadeSamples
	if ramp > frameSamples {
		ramp = frameSamples
	}
	divisor := ramp - 1
	if divisor < 1 {
		divisor = 1
	}
	for i := 0; i < ramp; i++ {
		t := float64(i) / float64(divisor)
		factor := 1.0 - t
		writeSample(out, i, channels, int16(float64(left)*factor), int16(float64(right)*factor))
	}
	// remainder stays zero (out is zero-initialized)
	return out
}

// ApplyFadeIn ramps the first min(fadeSamples, available) samples of frame
// from zero to full amplitude, in place.
func ApplyFadeIn(frame []byte, channels, fadeSamples int) {
	bytesPerSample := 2
	frameSamples := len(frame) / (channels * bytesPerSample)
	ramp := fadeSamples
	if ramp > frameSamples {
		ramp = frameSamples
	}
	divisor := ramp - 1
	if divisor < 1 {
		divisor = 1
	}
	for i := 0; i < ramp; i++ {
		l, r := readSample(frame, i, channels)
		t := float64(i) / float64(divisor)
		writeSample(frame, i, channels, int16(float64(l)*t), int16(float64(r)*t))
	}
}

func readSample(frame []byte, sampleIdx, channels int) (left, right int16) {
	base := sampleIdx * channels * 2
	left = int16(binary.LittleEndian.Uint16(frame[base : base+2]))
	if channels == 2 {
		right = int16(binary.LittleEndian.Uint16(frame[base+2 : base+4]))
	} else {
		right = left
	}
	return
}

func writeSample(frame []byte, sampleIdx, channels int, left, right int16) {
	base := sampleIdx * channels * 2
	binary.LittleEndian.PutUint16(frame[base:base+2], uint16(left))
	if channels == 2 {
		binary.LittleEndian.PutUint16(frame[base+2:base+4], uint16(right))
	}
}
