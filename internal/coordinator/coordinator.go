package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ivugurura/sonos-caster/config"
	"github.com/ivugurura/sonos-caster/internal/audio"
	"github.com/ivugurura/sonos-caster/internal/events"
	"github.com/ivugurura/sonos-caster/internal/session"
	"github.com/ivugurura/sonos-caster/internal/sonos"
	"github.com/ivugurura/sonos-caster/internal/sonoserr"
	"github.com/ivugurura/sonos-caster/internal/stream"
)

// Registry is the subset of *stream.Registry the coordinator needs.
type Registry interface {
	CreateStream(codec audio.Codec, format audio.Format, streamingBufferMs, frameDurationMs int) (*stream.State, error)
	GetStream(id string) (*stream.State, bool)
	RemoveStream(id string) bool
}

// Coordinator owns stream lifecycle and playback orchestration: the
// "4.6 Stream Coordinator" of the spec. Grounded on the Rust source's
// StreamCoordinator and the teacher's Manager (request-routing methods
// over shared maps).
type Coordinator struct {
	Registry  Registry
	Sessions  *session.Store
	Soap      sonos.Client
	Events    events.Emitter
	Topology  TopologyProvider
	Transport TransportStateProvider
	Arbiter   SyncArbiter
	Scheduler Scheduler
	URLFor    StreamURLBuilder

	AppName   string
	SoapTimeoutMs          int
	TopologyRefreshDelayMs int

	sync *SyncGroupManager

	mu sync.Mutex // serializes start/stop decisions per speaker against races
}

// New wires a Coordinator from its collaborators.
func New(reg Registry, sessions *session.Store, soap sonos.Client, emitter events.Emitter, topo TopologyProvider, transport TransportStateProvider, arbiter SyncArbiter, sched Scheduler, urlFor StreamURLBuilder) *Coordinator {
	c := &Coordinator{
		Registry:               reg,
		Sessions:               sessions,
		Soap:                   soap,
		Events:                 emitter,
		Topology:                topo,
		Transport:              transport,
		Arbiter:                arbiter,
		Scheduler:              sched,
		URLFor:                 urlFor,
		AppName:                config.DefaultConfig().AppName,
		SoapTimeoutMs:          config.DefaultConfig().SoapTimeoutMs,
		TopologyRefreshDelayMs: config.DefaultConfig().TopologyRefreshDelayMs,
	}
	c.sync = &SyncGroupManager{c: c}
	return c
}

// CreateStream delegates to the Stream Registry and emits StreamCreated.
func (c *Coordinator) CreateStream(codec audio.Codec, format audio.Format, streamingBufferMs, frameDurationMs int) (*stream.State, error) {
	st, err := c.Registry.CreateStream(codec, format, streamingBufferMs, frameDurationMs)
	if err != nil {
		return nil, err
	}
	c.Events.Emit(events.Event{Kind: events.KindStreamCreated, At: time.Now(), StreamID: st.ID})
	return st, nil
}

func (c *Coordinator) PushFrame(streamID string, data []byte) (bool, error) {
	st, ok := c.Registry.GetStream(streamID)
	if !ok {
		return false, sonoserr.New(sonoserr.KindNotFound, "stream not found: "+streamID)
	}
	return st.PushFrame(data), nil
}

func (c *Coordinator) UpdateMetadata(streamID string, m stream.Metadata) error {
	st, ok := c.Registry.GetStream(streamID)
	if !ok {
		return sonoserr.New(sonoserr.KindNotFound, "stream not found: "+streamID)
	}
	st.UpdateMetadata(m)
	return nil
}

func (c *Coordinator) GetStream(streamID string) (*stream.State, bool) {
	return c.Registry.GetStream(streamID)
}

func (c *Coordinator) didlFor(streamID, streamURL, artworkURL string) string {
	st, ok := c.Registry.GetStream(streamID)
	meta := stream.Metadata{}
	if ok {
		meta = st.Metadata()
	}
	if artworkURL == "" {
		artworkURL = config.DefaultConfig().ArtworkURL
	}
	didl, err := sonos.BuildDIDL(sonos.Metadata{
		Title:      meta.Title,
		Artist:     meta.Artist,
		Album:      meta.Album(c.AppName),
		ArtworkURL: artworkURL,
	}, streamURL)
	if err != nil {
		return ""
	}
	return didl
}

// streamURLFor builds the URI a speaker should fetch for a real (non-
// slave) playback start: the HTTP URL, normalized for MP3/AAC's
// x-rincon-mp3radio hint.
func (c *Coordinator) streamURLFor(streamID string, codec audio.Codec) string {
	httpURL := c.URLFor(streamID, string(codec), codec.FileExtension())
	return sonos.NormalizeStreamURI(httpURL, codec.RequiresRadioHint())
}

// startDirect issues SetAVTransportURI + Play against one speaker with
// the given URI, used both for true coordinators and for ungrouped
// single/fan-out playback.
func (c *Coordinator) startDirect(ctx context.Context, speakerIP, uri, didl string) error {
	cctx, cancel := ctxTimeout(ctx, c.SoapTimeoutMs)
	defer cancel()
	if err := c.Soap.SetAVTransportURI(cctx, speakerIP, uri, didl); err != nil {
		return err
	}
	pctx, pcancel := ctxTimeout(ctx, c.SoapTimeoutMs)
	defer pcancel()
	return c.Soap.Play(pctx, speakerIP)
}

// StartPlaybackMulti is the entry point for starting playback on one or
// more speakers, with optional synchronized grouping. artworkURL, when
// non-empty, overrides the configured artwork for this start's
// DIDL-Lite. See spec.md §4.6.
func (c *Coordinator) StartPlaybackMulti(ctx context.Context, speakerIPs []string, streamID, artworkURL string, syncSpeakers bool) []session.Result {
	if len(speakerIPs) == 0 {
		return nil
	}

	codec := audio.CodecPCM
	if st, ok := c.Registry.GetStream(streamID); ok {
		codec = st.Codec
	}

	if len(speakerIPs) == 1 {
		return []session.Result{c.startSingle(ctx, speakerIPs[0], streamID, artworkURL, codec)}
	}

	if !syncSpeakers {
		return c.startFanOut(ctx, speakerIPs, streamID, artworkURL, codec)
	}
	return c.sync.StartSyncGroup(ctx, speakerIPs, streamID, artworkURL, codec)
}

// startSingle starts (or resumes) playback on exactly one speaker, no
// grouping, applying the existing-session policy of spec.md §4.6.
func (c *Coordinator) startSingle(ctx context.Context, speakerIP, streamID, artworkURL string, codec audio.Codec) session.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startOneLocked(ctx, speakerIP, streamID, artworkURL, codec)
}

func (c *Coordinator) startFanOut(ctx context.Context, speakerIPs []string, streamID, artworkURL string, codec audio.Codec) []session.Result {
	results := make([]session.Result, len(speakerIPs))
	var wg sync.WaitGroup
	for i, ip := range speakerIPs {
		wg.Add(1)
		go func(i int, ip string) {
			defer wg.Done()
			c.mu.Lock()
			results[i] = c.startOneLocked(ctx, ip, streamID, artworkURL, codec)
			c.mu.Unlock()
		}(i, ip)
	}
	wg.Wait()
	return results
}

// startOneLocked applies the existing-session policy then starts direct
// (non-grouped) playback. Caller holds c.mu.
func (c *Coordinator) startOneLocked(ctx context.Context, speakerIP, streamID, artworkURL string, codec audio.Codec) session.Result {
	if existing, ok := c.Sessions.GetBySpeakerIP(speakerIP); ok {
		if existing.StreamID == streamID {
			switch existing.Role {
			case session.RoleSlave:
				// Promote to coordinator: leave the group first, then fall
				// through to a normal direct start.
				lctx, lcancel := ctxTimeout(ctx, c.SoapTimeoutMs)
				err := c.Soap.BecomeCoordinatorOfStandaloneGroup(lctx, speakerIP)
				lcancel()
				if err != nil {
					log.Warn().Err(err).Str("speaker_ip", speakerIP).Msg("leave-group before promotion-to-coordinator failed, continuing")
				}
			case session.RoleCoordinator:
				playing, ok := c.Transport.IsPlaying(speakerIP)
				if ok && playing {
					return session.Result{SpeakerIP: speakerIP, Success: true, StreamURL: existing.StreamURL}
				}
				pctx, pcancel := ctxTimeout(ctx, c.SoapTimeoutMs)
				err := c.Soap.Play(pctx, speakerIP)
				pcancel()
				if err != nil {
					return session.Result{SpeakerIP: speakerIP, Success: false, Error: err.Error()}
				}
				return session.Result{SpeakerIP: speakerIP, Success: true, StreamURL: existing.StreamURL}
			}
		} else {
			// Different stream on the same speaker: stop the old playback
			// explicitly first so Sonos doesn't race on source switching.
			c.stopOneLocked(ctx, existing, events.ReasonStreamReplaced)
		}
	}

	uri := c.streamURLFor(streamID, codec)
	didl := c.didlFor(streamID, uri, artworkURL)
	if err := c.startDirect(ctx, speakerIP, uri, didl); err != nil {
		return session.Result{SpeakerIP: speakerIP, Success: false, Error: err.Error()}
	}

	// Original group membership is captured even on the direct-start path:
	// a speaker that was a slave in a pre-existing Sonos group can end up
	// starting playback directly, and its old group should be restorable
	// once streaming ends.
	sess := &session.Session{
		StreamID: streamID, SpeakerIP: speakerIP, StreamURL: uri, Codec: codec,
		Role:                    session.RoleCoordinator,
		OriginalCoordinatorUUID: c.captureOriginalGroupUUID(speakerIP),
	}
	if uuid, ok := c.Topology.UUIDFor(speakerIP); ok {
		sess.CoordinatorUUID = uuid
	}
	c.Sessions.Insert(sess)
	return session.Result{SpeakerIP: speakerIP, Success: true, StreamURL: uri}
}

// StopPlaybackSpeaker stops one speaker's playback, applying role-based
// semantics: a slave simply leaves; a coordinator with slaves attempts
// promotion before falling back to full teardown; a lone coordinator just
// stops. See spec.md §4.6.
func (c *Coordinator) StopPlaybackSpeaker(ctx context.Context, streamID, speakerIP string, reason events.StopReason) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.Sessions.Get(streamID, speakerIP)
	if !ok {
		// Emit a failure so the client can clear its pending UI state.
		c.Events.Emit(events.Event{
			Kind: events.KindPlaybackStopFailed, At: time.Now(),
			StreamID: streamID, SpeakerIP: speakerIP, Reason: reason,
			Err: "session not found",
		})
		return
	}
	c.stopOneLocked(ctx, sess, reason)

	if !c.Sessions.HasSessionsForStream(streamID) {
		c.RemoveStreamAsync(ctx, streamID)
	}
}

// stopOneLocked dispatches to slave/coordinator stop handling. Caller
// holds c.mu.
func (c *Coordinator) stopOneLocked(ctx context.Context, sess *session.Session, reason events.StopReason) {
	switch sess.Role {
	case session.RoleSlave:
		c.sync.stopSlaveLocked(ctx, sess, reason)
	case session.RoleCoordinator:
		slaves := c.Sessions.GetSlavesForCoordinator(sess.StreamID, sess.SpeakerIP)
		if len(slaves) > 0 {
			c.sync.stopCoordinatorWithSlavesLocked(ctx, sess, slaves, reason)
		} else {
			c.sync.stopLoneCoordinatorLocked(ctx, sess, reason)
		}
	}
}

// RemoveStreamAsync tears a stream down following the codec's documented
// cleanup order (spec.md §4.4): PCM closes HTTP before SOAP Stop is
// issued (Sonos blocks on file-mode HTTP reads, so SOAP would time out if
// HTTP stayed open); compressed codecs stop via SOAP first, then let HTTP
// close, avoiding an audible tail of buffered decoder output.
//
// This module's own HTTP handler ends its response once the stream's
// broadcast channel closes (see stream.Registry.RemoveStream) and the
// frames already queued for that consumer have been written,
// so "close HTTP first" here means: drop the stream from the registry
// (closing broadcast) before issuing any SOAP Stop calls; "SOAP first"
// means stop every session's speaker before removing the stream.
func (c *Coordinator) RemoveStreamAsync(ctx context.Context, streamID string) {
	st, ok := c.Registry.GetStream(streamID)
	sessions := c.Sessions.GetAllForStream(streamID)

	codec := audio.CodecPCM
	if ok {
		codec = st.Codec
	}

	stopAll := func() {
		var wg sync.WaitGroup
		for _, sess := range sessions {
			wg.Add(1)
			go func(sess *session.Session) {
				defer wg.Done()
				sctx, cancel := ctxTimeout(ctx, c.SoapTimeoutMs)
				defer cancel()
				if err := c.Soap.Stop(sctx, sess.SpeakerIP); err != nil {
					log.Warn().Err(err).Str("speaker_ip", sess.SpeakerIP).Msg("stop during stream teardown failed")
				}
			}(sess)
		}
		wg.Wait()
	}

	if codec.CleanupOrder() == audio.HttpFirst {
		c.Registry.RemoveStream(streamID)
		stopAll()
	} else {
		stopAll()
		c.Registry.RemoveStream(streamID)
	}

	c.Sessions.RemoveAllForStream(streamID)
	c.Events.Emit(events.Event{Kind: events.KindStreamEnded, At: time.Now(), StreamID: streamID})
}

// HandleSourceChanged is invoked by an external transport-state observer
// when a speaker's URI changes off our stream (the user switched sources
// from the Sonos app, e.g.). The session is removed without any SOAP
// call, since the speaker has already stopped playing our content.
func (c *Coordinator) HandleSourceChanged(speakerIP string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.Sessions.GetBySpeakerIP(speakerIP)
	if !ok {
		return
	}
	c.Sessions.Remove(sess.StreamID, sess.SpeakerIP)
	c.Events.Emit(events.Event{Kind: events.KindPlaybackStopped, At: time.Now(), StreamID: sess.StreamID, SpeakerIP: speakerIP, Reason: events.ReasonSourceChanged})

	if !c.Sessions.HasSessionsForStream(sess.StreamID) {
		c.RemoveStreamAsync(context.Background(), sess.StreamID)
	}
}

// OnHTTPResume is invoked by the HTTP handler when a speaker reconnects
// to /stream/{id}/live. If the cached transport state isn't PLAYING yet,
// send Play — covers the case where Sonos reconnects HTTP before
// transitioning to Playing after a Sonos-app-initiated resume.
func (c *Coordinator) OnHTTPResume(ctx context.Context, speakerIP string) {
	playing, ok := c.Transport.IsPlaying(speakerIP)
	if ok && playing {
		return
	}
	pctx, cancel := ctxTimeout(ctx, c.SoapTimeoutMs)
	defer cancel()
	if err := c.Soap.Play(pctx, speakerIP); err != nil {
		log.Warn().Err(err).Str("speaker_ip", speakerIP).Msg("play-on-http-resume failed")
	}
}
