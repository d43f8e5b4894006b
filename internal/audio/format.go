// Package audio defines the PCM format and codec vocabulary shared by the
// streaming core, plus the crossfade math and silence-frame cache used by
// the cadence pipeline to keep gap-filled audio click-free.
package audio

import "fmt"

// Format describes the PCM layout of a single stream. Cadence paths (the
// fixed-tick pipeline feeding Sonos) are always 16-bit; 24-bit is only
// permitted for FLAC, which bypasses the cadence loop entirely.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// FrameSamples returns the number of PCM samples (per channel) a frame of
// durationMs milliseconds holds at this format's sample rate.
func (f Format) FrameSamples(durationMs int) int {
	return f.SampleRate * durationMs / 1000
}

// FrameBytes returns the byte length of a durationMs-long frame at this
// format's sample rate, channel count, and bit depth.
func (f Format) FrameBytes(durationMs int) int {
	bytesPerSample := f.BitsPerSample / 8
	return f.FrameSamples(durationMs) * f.Channels * bytesPerSample
}

// CrossfadeCompatible reports whether the cadence pipeline's click-
// suppression crossfade applies to this format: 16-bit PCM, mono or
// stereo. Any other combination falls back to plain cached silence.
func (f Format) CrossfadeCompatible() bool {
	return f.BitsPerSample == 16 && (f.Channels == 1 || f.Channels == 2)
}

// Codec is the tagged variant of supported audio codecs. Each carries a
// MIME type, a file extension, and a cleanup order governing whether the
// HTTP response or the SOAP Stop call is closed first when a stream is torn
// down (see CleanupOrder).
type Codec string

const (
	CodecPCM  Codec = "pcm"
	CodecAAC  Codec = "aac"
	CodecMP3  Codec = "mp3"
	CodecFLAC Codec = "flac"
)

// ParseCodec maps a handshake codec name to a Codec, per the name table in
// the external-interfaces section of the spec: pcm|wav -> PCM,
// aac|aac-lc|he-aac|he-aac-v2 -> AAC, mp3 -> MP3, flac -> FLAC.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "pcm", "wav":
		return CodecPCM, nil
	case "aac", "aac-lc", "he-aac", "he-aac-v2":
		return CodecAAC, nil
	case "mp3":
		return CodecMP3, nil
	case "flac":
		return CodecFLAC, nil
	default:
		return "", fmt.Errorf("unknown codec %q", name)
	}
}

func (c Codec) MimeType() string {
	switch c {
	case CodecPCM:
		return "audio/wav"
	case CodecAAC:
		return "audio/aac"
	case CodecMP3:
		return "audio/mpeg"
	case CodecFLAC:
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}

func (c Codec) FileExtension() string {
	switch c {
	case CodecPCM:
		return "wav"
	case CodecAAC:
		return "aac"
	case CodecMP3:
		return "mp3"
	case CodecFLAC:
		return "flac"
	default:
		return "bin"
	}
}

// CleanupOrder is the order in which a stream's HTTP response and its
// speakers' SOAP Stop calls are closed on teardown.
type CleanupOrder int

const (
	// HttpFirst closes the HTTP response before issuing SOAP Stop. Sonos
	// blocks on HTTP reads for file-mode PCM, so SOAP would time out if
	// HTTP stayed open.
	HttpFirst CleanupOrder = iota
	// SoapFirst stops via SOAP before closing HTTP. Sonos buffers
	// compressed audio internally; closing HTTP first drains that buffer
	// after the source is gone, producing audible trailing playback.
	SoapFirst
)

func (c Codec) CleanupOrder() CleanupOrder {
	if c == CodecPCM {
		return HttpFirst
	}
	return SoapFirst
}

// RequiresFixedContentLength reports whether HTTP responses for this codec
// must declare a large fixed Content-Length rather than use chunked
// transfer. Sonos treats PCM/WAV streams as file-mode and stutters or
// disconnects under chunked transfer.
func (c Codec) RequiresFixedContentLength() bool {
	return c == CodecPCM
}

// RequiresRadioHint reports whether this codec's stream URL must be
// rewritten to the x-rincon-mp3radio scheme for Sonos, its heuristic for
// treating a URL as internet-radio-style rather than a fixed-length file.
// PCM/FLAC speakers fetch the HTTP URL directly.
func (c Codec) RequiresRadioHint() bool {
	return c == CodecMP3 || c == CodecAAC
}

// NormalizeBitsPerSample applies the handshake rule: 24-bit is downgraded
// to 16-bit unless the codec is FLAC, which is exempt from the cadence
// pipeline's 16-bit invariant.
func NormalizeBitsPerSample(codec Codec, bits int) int {
	if bits == 24 && codec != CodecFLAC {
		return 16
	}
	return bits
}
