// Package wsapi implements the WebSocket ingress and control channel a
// browser extension connection uses: one connection owns at most one
// stream. Grounded on spec.md §6's message catalogue, built on
// gorilla/websocket per the pack's transport choice for this kind of
// ingress connection.
package wsapi

import "encoding/json"

// envelope is the wire shape of every WebSocket message in both
// directions: a type tag plus a type-specific JSON payload.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound payload shapes.

type encoderConfig struct {
	Codec             string `json:"codec"`
	Bitrate           int    `json:"bitrate,omitempty"`
	SampleRate        int    `json:"sampleRate,omitempty"`
	Channels          int    `json:"channels,omitempty"`
	BitsPerSample     int    `json:"bitsPerSample,omitempty"`
	StreamingBufferMs int    `json:"streamingBufferMs,omitempty"`
	FrameSizeSamples  int    `json:"frameSizeSamples,omitempty"`
}

type handshakeIn struct {
	Codec         string         `json:"codec,omitempty"`
	EncoderConfig *encoderConfig `json:"encoderConfig,omitempty"`
}

type metadataUpdateIn struct {
	Payload struct {
		Title  string `json:"title"`
		Artist string `json:"artist"`
		Source string `json:"source"`
	} `json:"payload"`
}

type startPlaybackIn struct {
	SpeakerIPs       []string `json:"speakerIps,omitempty"`
	SpeakerIP        string   `json:"speakerIp,omitempty"`
	Metadata         *struct {
		Title  string `json:"title"`
		Artist string `json:"artist"`
		Source string `json:"source"`
	} `json:"metadata,omitempty"`
	ArtworkURL        string `json:"artworkUrl,omitempty"`
	SyncSpeakers      bool   `json:"syncSpeakers"`
	VideoSyncEnabled  bool   `json:"videoSyncEnabled"`
}

func (s startPlaybackIn) ips() []string {
	if len(s.SpeakerIPs) > 0 {
		return s.SpeakerIPs
	}
	if s.SpeakerIP != "" {
		return []string{s.SpeakerIP}
	}
	return nil
}

type stopPlaybackSpeakerIn struct {
	StreamID string `json:"streamId"`
	IP       string `json:"ip"`
	Reason   string `json:"reason,omitempty"`
}

type volumeCmdIn struct {
	IP     string `json:"ip"`
	Volume int    `json:"volume,omitempty"`
	Mute   bool   `json:"mute,omitempty"`
	Group  bool   `json:"group,omitempty"`
}

// Outbound payload shapes.

type handshakeAckOut struct {
	StreamID string `json:"streamId"`
}

type playbackResultOut struct {
	SpeakerIP string `json:"speakerIp"`
	Success   bool   `json:"success"`
	StreamURL string `json:"streamUrl,omitempty"`
	Error     string `json:"error,omitempty"`
}

type playbackResultsOut struct {
	Results []playbackResultOut `json:"results"`
}

type streamReadyOut struct {
	BufferSize int `json:"bufferSize"`
}

type playbackStoppedOut struct {
	StreamID  string `json:"streamId"`
	SpeakerIP string `json:"speakerIp"`
	Reason    string `json:"reason,omitempty"`
}

type playbackStopFailedOut struct {
	StreamID  string `json:"streamId"`
	SpeakerIP string `json:"speakerIp"`
	Error     string `json:"error"`
}

type volumeStateOut struct {
	IP     string `json:"ip"`
	Volume int    `json:"volume"`
}

type muteStateOut struct {
	IP   string `json:"ip"`
	Mute bool   `json:"mute"`
}

type errorOut struct {
	Message string `json:"message"`
}

type networkHealthOut struct {
	StreamID    string  `json:"streamId"`
	SpeakerIP   string  `json:"speakerIp"`
	LatencyMs   float64 `json:"latencyMs"`
	Confidence  float64 `json:"confidence"`
	SampleCount int64   `json:"sampleCount"`
}

type groupOut struct {
	Name       string   `json:"name"`
	SpeakerIPs []string `json:"speakerIps"`
}

type initialStateOut struct {
	AppName   string     `json:"appName"`
	LogoURL   string     `json:"logoUrl,omitempty"`
	AccentHex string     `json:"accentHex,omitempty"`
	Groups    []groupOut `json:"groups,omitempty"`
}
