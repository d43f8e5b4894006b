package wsapi

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/ivugurura/sonos-caster/config"
	"github.com/ivugurura/sonos-caster/internal/audio"
	"github.com/ivugurura/sonos-caster/internal/events"
	"github.com/ivugurura/sonos-caster/internal/stream"
)

func (c *Conn) dispatch(ctx context.Context, env envelope) {
	switch env.Type {
	case "HANDSHAKE":
		c.handleHandshake(env)
	case "METADATA_UPDATE":
		c.handleMetadataUpdate(env)
	case "HEARTBEAT":
		c.send("HEARTBEAT_ACK", nil)
	case "START_PLAYBACK":
		c.handleStartPlayback(ctx, env)
	case "STOP_PLAYBACK_SPEAKER":
		c.handleStopPlaybackSpeaker(ctx, env)
	case "SET_VOLUME":
		c.handleSetVolume(ctx, env)
	case "SET_MUTE":
		c.handleSetMute(ctx, env)
	case "GET_VOLUME":
		c.handleGetVolume(ctx, env)
	case "GET_MUTE":
		c.handleGetMute(ctx, env)
	default:
		c.send("ERROR", errorOut{Message: "unknown message type: " + env.Type})
	}
}

// handleHandshake creates the stream this connection will own for its
// lifetime, applying the codec/format normalization and clamping rules
// of spec.md §6.
func (c *Conn) handleHandshake(env envelope) {
	var in handshakeIn
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &in); err != nil {
			c.send("ERROR", errorOut{Message: "invalid HANDSHAKE payload"})
			return
		}
	}

	codecName := in.Codec
	ec := in.EncoderConfig
	if ec != nil && ec.Codec != "" {
		codecName = ec.Codec
	}
	if codecName == "" {
		codecName = "pcm"
	}
	codec, err := audio.ParseCodec(codecName)
	if err != nil {
		c.send("ERROR", errorOut{Message: err.Error()})
		return
	}

	sampleRate := config.DefaultSampleRate
	channels := config.DefaultChannels
	bits := 16
	streamingBufferMs := config.DefaultStreamingBufferMs
	frameDurationMs := config.SilenceFrameDurationMs

	if ec != nil {
		if ec.SampleRate > 0 {
			sampleRate = ec.SampleRate
		}
		if ec.Channels != 0 {
			if ec.Channels != 1 && ec.Channels != 2 {
				c.send("ERROR", errorOut{Message: "channels must be 1 or 2"})
				return
			}
			channels = ec.Channels
		}
		if ec.BitsPerSample > 0 {
			bits = ec.BitsPerSample
		}
		if ec.StreamingBufferMs > 0 {
			streamingBufferMs = clampInt(ec.StreamingBufferMs, config.MinStreamingBufferMs, config.MaxStreamingBufferMs)
		}
		if ec.FrameSizeSamples > 0 && sampleRate > 0 {
			frameDurationMs = clampInt(ec.FrameSizeSamples*1000/sampleRate, config.MinFrameDurationMs, config.MaxFrameDurationMs)
		}
	}
	bits = audio.NormalizeBitsPerSample(codec, bits)

	format := audio.Format{SampleRate: sampleRate, Channels: channels, BitsPerSample: bits}
	st, err := c.server.Coordinator.CreateStream(codec, format, streamingBufferMs, frameDurationMs)
	if err != nil {
		c.send("ERROR", errorOut{Message: err.Error()})
		return
	}

	c.mu.Lock()
	c.streamID = st.ID
	c.streamStarted = true
	c.mu.Unlock()

	c.send("HANDSHAKE_ACK", handshakeAckOut{StreamID: st.ID})
}

// handleAudioFrame pushes raw captured audio into the connection's owned
// stream. The first non-empty frame triggers STREAM_READY, telling the
// extension its producer has a live consumer path.
func (c *Conn) handleAudioFrame(data []byte) {
	c.mu.Lock()
	streamID := c.streamID
	c.mu.Unlock()
	if streamID == "" {
		return
	}
	isFirst, err := c.server.Coordinator.PushFrame(streamID, data)
	if err != nil {
		log.Warn().Err(err).Str("stream_id", streamID).Msg("wsapi: push_frame failed")
		return
	}
	if isFirst {
		if st, ok := c.server.Coordinator.GetStream(streamID); ok {
			c.send("STREAM_READY", streamReadyOut{BufferSize: st.StreamingBufferMs})
		}
	}
}

func (c *Conn) handleMetadataUpdate(env envelope) {
	var in metadataUpdateIn
	if err := json.Unmarshal(env.Payload, &in); err != nil {
		c.send("ERROR", errorOut{Message: "invalid METADATA_UPDATE payload"})
		return
	}
	c.mu.Lock()
	streamID := c.streamID
	c.mu.Unlock()
	if streamID == "" {
		return
	}
	_ = c.server.Coordinator.UpdateMetadata(streamID, stream.Metadata{
		Title: in.Payload.Title, Artist: in.Payload.Artist, Source: in.Payload.Source,
	})
}

func (c *Conn) handleStartPlayback(ctx context.Context, env envelope) {
	var in startPlaybackIn
	if err := json.Unmarshal(env.Payload, &in); err != nil {
		c.send("ERROR", errorOut{Message: "invalid START_PLAYBACK payload"})
		return
	}
	c.mu.Lock()
	streamID := c.streamID
	if in.VideoSyncEnabled {
		c.videoSyncEnabled = true
	}
	videoSync := c.videoSyncEnabled
	c.mu.Unlock()
	if streamID == "" {
		c.send("ERROR", errorOut{Message: "no stream: send HANDSHAKE first"})
		return
	}
	if in.Metadata != nil {
		_ = c.server.Coordinator.UpdateMetadata(streamID, stream.Metadata{
			Title: in.Metadata.Title, Artist: in.Metadata.Artist, Source: in.Metadata.Source,
		})
	}

	ips := in.ips()
	results := c.server.Coordinator.StartPlaybackMulti(ctx, ips, streamID, in.ArtworkURL, in.SyncSpeakers)

	out := make([]playbackResultOut, len(results))
	for i, r := range results {
		out[i] = playbackResultOut{SpeakerIP: r.SpeakerIP, Success: r.Success, StreamURL: r.StreamURL, Error: r.Error}
		if r.Success && videoSync && c.server.Latency != nil {
			c.server.Latency.Start(streamID, r.SpeakerIP)
		}
	}
	c.send("PLAYBACK_RESULTS", playbackResultsOut{Results: out})
}

func (c *Conn) handleStopPlaybackSpeaker(ctx context.Context, env envelope) {
	var in stopPlaybackSpeakerIn
	if err := json.Unmarshal(env.Payload, &in); err != nil {
		c.send("ERROR", errorOut{Message: "invalid STOP_PLAYBACK_SPEAKER payload"})
		return
	}
	reason := events.ReasonUserRemoved
	if in.Reason != "" {
		reason = events.StopReason(in.Reason)
	}
	if c.server.Latency != nil {
		c.server.Latency.Stop(in.StreamID, in.IP)
	}
	c.server.Coordinator.StopPlaybackSpeaker(ctx, in.StreamID, in.IP, reason)
}

func (c *Conn) handleSetVolume(ctx context.Context, env envelope) {
	var in volumeCmdIn
	if err := json.Unmarshal(env.Payload, &in); err != nil {
		c.send("ERROR", errorOut{Message: "invalid SET_VOLUME payload"})
		return
	}
	var err error
	if in.Group {
		err = c.server.Volume.SetSyncGroupVolume(ctx, in.IP, in.Volume)
	} else {
		err = c.server.Volume.SetVolume(ctx, in.IP, in.Volume)
	}
	if err != nil {
		c.send("ERROR", errorOut{Message: err.Error()})
		return
	}
	c.send("VOLUME_STATE", volumeStateOut{IP: in.IP, Volume: in.Volume})
}

func (c *Conn) handleSetMute(ctx context.Context, env envelope) {
	var in volumeCmdIn
	if err := json.Unmarshal(env.Payload, &in); err != nil {
		c.send("ERROR", errorOut{Message: "invalid SET_MUTE payload"})
		return
	}
	var err error
	if in.Group {
		err = c.server.Volume.SetSyncGroupMute(ctx, in.IP, in.Mute)
	} else {
		err = c.server.Volume.SetMute(ctx, in.IP, in.Mute)
	}
	if err != nil {
		c.send("ERROR", errorOut{Message: err.Error()})
		return
	}
	c.send("MUTE_STATE", muteStateOut{IP: in.IP, Mute: in.Mute})
}

func (c *Conn) handleGetVolume(ctx context.Context, env envelope) {
	var in volumeCmdIn
	if err := json.Unmarshal(env.Payload, &in); err != nil {
		c.send("ERROR", errorOut{Message: "invalid GET_VOLUME payload"})
		return
	}
	vol, err := c.server.Volume.GetVolume(ctx, in.IP)
	if err != nil {
		c.send("ERROR", errorOut{Message: err.Error()})
		return
	}
	c.send("VOLUME_STATE", volumeStateOut{IP: in.IP, Volume: vol})
}

func (c *Conn) handleGetMute(ctx context.Context, env envelope) {
	var in volumeCmdIn
	if err := json.Unmarshal(env.Payload, &in); err != nil {
		c.send("ERROR", errorOut{Message: "invalid GET_MUTE payload"})
		return
	}
	mute, err := c.server.Volume.GetMute(ctx, in.IP)
	if err != nil {
		c.send("ERROR", errorOut{Message: err.Error()})
		return
	}
	c.send("MUTE_STATE", muteStateOut{IP: in.IP, Mute: mute})
}
