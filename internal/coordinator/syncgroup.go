package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ivugurura/sonos-caster/internal/audio"
	"github.com/ivugurura/sonos-caster/internal/events"
	"github.com/ivugurura/sonos-caster/internal/session"
)

// SyncGroupManager owns the x-rincon join graph: coordinator selection,
// slave join/unjoin with reconciliation, stop orchestration, and
// promotion when a coordinator is removed. Grounded on
// sync_group_manager.rs's select_coordinator/join_slave_to_coordinator/
// stop_slave_speaker/stop_coordinator_and_slaves/
// promote_slave_to_coordinator. Holds a back-reference to its owning
// Coordinator (the one exception the design notes allow: it is a
// sub-component, not a peer service, so the cycle is a single edge, not a
// graph).
type SyncGroupManager struct {
	c *Coordinator
}

// captureOriginalGroupUUID records the Sonos group a speaker belonged to
// before we touch it, for later restoration. Empty if the speaker was
// already standalone (its own group coordinator).
func (c *Coordinator) captureOriginalGroupUUID(speakerIP string) string {
	self, ok := c.Topology.UUIDFor(speakerIP)
	if !ok {
		return ""
	}
	groupCoord, ok := c.Topology.GroupCoordinatorUUID(speakerIP)
	if !ok || groupCoord == self {
		return ""
	}
	return groupCoord
}

// StartSyncGroup starts a synchronized group: a coordinator selected per
// spec.md §4.6 step 1, then slaves joined concurrently via x-rincon. See
// spec.md §8 scenario S4 for the coordinator-failure case.
func (sg *SyncGroupManager) StartSyncGroup(ctx context.Context, speakerIPs []string, streamID, artworkURL string, codec audio.Codec) []session.Result {
	c := sg.c
	c.mu.Lock()
	defer c.mu.Unlock()

	coordinatorIP, coordinatorUUID, ok := sg.selectCoordinator(speakerIPs)
	if !ok {
		// No UUID resolvable for any candidate: fall back to plain,
		// ungrouped fan-out (can't form an x-rincon group without a UUID).
		results := make([]session.Result, len(speakerIPs))
		for i, ip := range speakerIPs {
			results[i] = c.startOneLocked(ctx, ip, streamID, artworkURL, codec)
		}
		return results
	}

	results := make([]session.Result, len(speakerIPs))
	idxByIP := make(map[string]int, len(speakerIPs))
	for i, ip := range speakerIPs {
		idxByIP[ip] = i
	}

	origGroup := c.captureOriginalGroupUUID(coordinatorIP)
	uri := c.streamURLFor(streamID, codec)
	didl := c.didlFor(streamID, uri, artworkURL)
	if err := c.startDirect(ctx, coordinatorIP, uri, didl); err != nil {
		// Coordinator failed: no joins are attempted, and every speaker
		// (including slaves) is reported failed.
		for i, ip := range speakerIPs {
			if ip == coordinatorIP {
				results[i] = session.Result{SpeakerIP: ip, Success: false, Error: err.Error()}
			} else {
				results[i] = session.Result{SpeakerIP: ip, Success: false, Error: "Coordinator failed to start"}
			}
		}
		return results
	}

	coordSess := &session.Session{
		StreamID: streamID, SpeakerIP: coordinatorIP, StreamURL: uri, Codec: codec,
		Role: session.RoleCoordinator, CoordinatorUUID: coordinatorUUID,
		OriginalCoordinatorUUID: origGroup,
	}
	c.Sessions.Insert(coordSess)
	results[idxByIP[coordinatorIP]] = session.Result{SpeakerIP: coordinatorIP, Success: true, StreamURL: uri}

	var wg sync.WaitGroup
	for _, ip := range speakerIPs {
		if ip == coordinatorIP {
			continue
		}
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()
			results[idxByIP[ip]] = sg.joinSlaveLocked(ctx, streamID, ip, coordinatorIP, coordinatorUUID)
		}(ip)
	}
	wg.Wait()

	syncedIPs := append([]string{}, speakerIPs...)
	c.Arbiter.EnterSyncSession(streamID, syncedIPs)

	if c.TopologyRefreshDelayMs > 0 && c.Scheduler != nil {
		c.Scheduler.After(time.Duration(c.TopologyRefreshDelayMs)*time.Millisecond, func() {
			log.Debug().Str("stream_id", streamID).Msg("sync group topology refresh due")
		})
	}

	return results
}

// selectCoordinator prefers any candidate already a Sonos group
// coordinator, falling back to the first speaker whose uuid is resolvable
// at all. ok is false if no candidate has a known uuid.
func (sg *SyncGroupManager) selectCoordinator(speakerIPs []string) (ip, uuid string, ok bool) {
	c := sg.c
	for _, candidate := range speakerIPs {
		self, known := c.Topology.UUIDFor(candidate)
		if !known {
			continue
		}
		groupCoord, gok := c.Topology.GroupCoordinatorUUID(candidate)
		if gok && groupCoord == self {
			return candidate, self, true
		}
	}
	for _, candidate := range speakerIPs {
		if self, known := c.Topology.UUIDFor(candidate); known {
			return candidate, self, true
		}
	}
	return "", "", false
}

// joinSlaveLocked joins (or reconciles) slaveIP into coordinatorIP's
// group, per spec.md §4.7's reconciliation rules. Caller holds c.mu.
func (sg *SyncGroupManager) joinSlaveLocked(ctx context.Context, streamID, slaveIP, coordinatorIP, coordinatorUUID string) session.Result {
	c := sg.c
	joinURL := "x-rincon:" + coordinatorUUID

	if existing, ok := c.Sessions.Get(streamID, slaveIP); ok && existing.Role == session.RoleSlave {
		if existing.CoordinatorUUID == coordinatorUUID {
			return session.Result{SpeakerIP: slaveIP, Success: true, StreamURL: joinURL}
		}
		// Different coordinator uuid for the same stream: leave then
		// rejoin, no PlaybackStopped (still the same stream).
	} else if existing, ok := c.Sessions.GetBySpeakerIP(slaveIP); ok && existing.StreamID != streamID {
		c.stopOneLocked(ctx, existing, events.ReasonStreamReplaced)
	}

	// Capture original group membership before we touch the speaker at
	// all: the topology cache still reflects the pre-streaming group
	// until the speakers' own GENA events catch up.
	origGroup := c.captureOriginalGroupUUID(slaveIP)

	lctx, lcancel := ctxTimeout(ctx, c.SoapTimeoutMs)
	if err := c.Soap.BecomeCoordinatorOfStandaloneGroup(lctx, slaveIP); err != nil {
		log.Warn().Err(err).Str("speaker_ip", slaveIP).Msg("leave-group before join failed, continuing")
	}
	lcancel()

	jctx, jcancel := ctxTimeout(ctx, c.SoapTimeoutMs)
	err := c.Soap.SetAVTransportURI(jctx, slaveIP, joinURL, "")
	jcancel()
	if err != nil {
		return session.Result{SpeakerIP: slaveIP, Success: false, Error: err.Error()}
	}
	pctx, pcancel := ctxTimeout(ctx, c.SoapTimeoutMs)
	if err := c.Soap.Play(pctx, slaveIP); err != nil {
		pcancel()
		return session.Result{SpeakerIP: slaveIP, Success: false, Error: err.Error()}
	}
	pcancel()

	sess := &session.Session{
		StreamID: streamID, SpeakerIP: slaveIP, StreamURL: joinURL,
		Role: session.RoleSlave, CoordinatorIP: coordinatorIP, CoordinatorUUID: coordinatorUUID,
		OriginalCoordinatorUUID: origGroup,
	}
	if codec, ok := c.Registry.GetStream(streamID); ok {
		sess.Codec = codec.Codec
	}
	c.Sessions.Insert(sess)
	return session.Result{SpeakerIP: slaveIP, Success: true, StreamURL: joinURL}
}

// stopSlaveLocked leaves the group for a single slave, restores its
// pre-streaming group if known, and emits PlaybackStopped. Caller holds
// c.mu.
func (sg *SyncGroupManager) stopSlaveLocked(ctx context.Context, sess *session.Session, reason events.StopReason) {
	c := sg.c
	lctx, lcancel := ctxTimeout(ctx, c.SoapTimeoutMs)
	err := c.Soap.BecomeCoordinatorOfStandaloneGroup(lctx, sess.SpeakerIP)
	lcancel()
	if err != nil {
		// Session stays intact so the next stop attempt still finds it.
		log.Warn().Err(err).Str("speaker_ip", sess.SpeakerIP).Msg("leave-group on slave stop failed")
		c.Events.Emit(events.Event{
			Kind: events.KindPlaybackStopFailed, At: time.Now(),
			StreamID: sess.StreamID, SpeakerIP: sess.SpeakerIP, Reason: reason,
			Err: err.Error(),
		})
		return
	}

	c.Sessions.Remove(sess.StreamID, sess.SpeakerIP)
	sg.restoreOriginalGroupBestEffort(ctx, sess)
	c.Arbiter.LeaveSyncSession(sess.StreamID, sess.SpeakerIP)
	c.Events.Emit(events.Event{Kind: events.KindPlaybackStopped, At: time.Now(), StreamID: sess.StreamID, SpeakerIP: sess.SpeakerIP, Reason: reason})
}

// stopLoneCoordinatorLocked stops a coordinator with no slaves: a plain
// stop, return to the local queue, restore its pre-streaming group, and
// emit PlaybackStopped. Caller holds c.mu.
func (sg *SyncGroupManager) stopLoneCoordinatorLocked(ctx context.Context, sess *session.Session, reason events.StopReason) {
	c := sg.c
	sctx, scancel := ctxTimeout(ctx, c.SoapTimeoutMs)
	err := c.Soap.Stop(sctx, sess.SpeakerIP)
	scancel()
	if err != nil {
		log.Warn().Err(err).Str("speaker_ip", sess.SpeakerIP).Msg("stop on lone-coordinator teardown failed")
		c.Events.Emit(events.Event{
			Kind: events.KindPlaybackStopFailed, At: time.Now(),
			StreamID: sess.StreamID, SpeakerIP: sess.SpeakerIP, Reason: reason,
			Err: err.Error(),
		})
		return
	}

	if uuid := sess.CoordinatorUUID; uuid != "" {
		qctx, qcancel := ctxTimeout(ctx, c.SoapTimeoutMs)
		if err := c.Soap.SetAVTransportURI(qctx, sess.SpeakerIP, "x-rincon-queue:"+uuid+"#0", ""); err != nil {
			log.Warn().Err(err).Str("speaker_ip", sess.SpeakerIP).Msg("switch-to-queue failed")
		}
		qcancel()
	}

	c.Sessions.Remove(sess.StreamID, sess.SpeakerIP)
	sg.restoreOriginalGroupBestEffort(ctx, sess)
	c.Events.Emit(events.Event{Kind: events.KindPlaybackStopped, At: time.Now(), StreamID: sess.StreamID, SpeakerIP: sess.SpeakerIP, Reason: reason})
}

// stopCoordinatorWithSlavesLocked stops a coordinator that has slaves,
// attempting promotion of one slave before falling back to full teardown.
// See spec.md §8 scenarios S5/S6. Caller holds c.mu.
func (sg *SyncGroupManager) stopCoordinatorWithSlavesLocked(ctx context.Context, coord *session.Session, slaves []*session.Session, reason events.StopReason) {
	c := sg.c

	sctx, scancel := ctxTimeout(ctx, c.SoapTimeoutMs)
	if err := c.Soap.Stop(sctx, coord.SpeakerIP); err != nil {
		log.Warn().Err(err).Str("speaker_ip", coord.SpeakerIP).Msg("stop on coordinator-with-slaves teardown failed")
	}
	scancel()
	c.Sessions.Remove(coord.StreamID, coord.SpeakerIP)
	c.Events.Emit(events.Event{Kind: events.KindPlaybackStopped, At: time.Now(), StreamID: coord.StreamID, SpeakerIP: coord.SpeakerIP, Reason: reason})

	sorted := append([]*session.Session{}, slaves...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SpeakerIP < sorted[j].SpeakerIP })
	promoted := sorted[0]
	remaining := sorted[1:]

	lctx, lcancel := ctxTimeout(ctx, c.SoapTimeoutMs)
	if err := c.Soap.BecomeCoordinatorOfStandaloneGroup(lctx, promoted.SpeakerIP); err != nil {
		log.Warn().Err(err).Str("speaker_ip", promoted.SpeakerIP).Msg("leave-group before promotion failed, continuing")
	}
	lcancel()

	uri := c.streamURLFor(coord.StreamID, promoted.Codec)
	didl := c.didlFor(coord.StreamID, uri, "")
	if err := c.startDirect(ctx, promoted.SpeakerIP, uri, didl); err != nil {
		log.Warn().Err(err).Str("speaker_ip", promoted.SpeakerIP).Msg("promotion failed, falling back to full teardown")
		sg.tearDownGroupLocked(ctx, append([]*session.Session{promoted}, remaining...), events.ReasonUserRemoved)
		return
	}

	c.Sessions.Remove(promoted.StreamID, promoted.SpeakerIP)
	newCoordUUID := promoted.CoordinatorUUID
	if self, ok := c.Topology.UUIDFor(promoted.SpeakerIP); ok {
		newCoordUUID = self
	}
	c.Sessions.Insert(&session.Session{
		StreamID: promoted.StreamID, SpeakerIP: promoted.SpeakerIP, StreamURL: uri, Codec: promoted.Codec,
		Role: session.RoleCoordinator, CoordinatorUUID: newCoordUUID,
		// Preserved exactly as captured on the original slave session —
		// this is the pre-streaming group, not a re-query of the
		// (now-dissolving) streaming group's current topology.
		OriginalCoordinatorUUID: promoted.OriginalCoordinatorUUID,
	})

	// Re-point remaining slaves to the new coordinator silently — no
	// PlaybackStopped for them, they never stopped playing audio.
	var wg sync.WaitGroup
	for _, slave := range remaining {
		wg.Add(1)
		go func(slave *session.Session) {
			defer wg.Done()
			lctx, lcancel := ctxTimeout(ctx, c.SoapTimeoutMs)
			if err := c.Soap.BecomeCoordinatorOfStandaloneGroup(lctx, slave.SpeakerIP); err != nil {
				log.Warn().Err(err).Str("speaker_ip", slave.SpeakerIP).Msg("leave-group before re-point failed, continuing")
			}
			lcancel()

			jctx, jcancel := ctxTimeout(ctx, c.SoapTimeoutMs)
			err := c.Soap.SetAVTransportURI(jctx, slave.SpeakerIP, "x-rincon:"+newCoordUUID, "")
			jcancel()
			if err != nil {
				log.Warn().Err(err).Str("speaker_ip", slave.SpeakerIP).Msg("re-point join failed")
				return
			}
			pctx, pcancel := ctxTimeout(ctx, c.SoapTimeoutMs)
			_ = c.Soap.Play(pctx, slave.SpeakerIP)
			pcancel()

			c.Sessions.Insert(&session.Session{
				StreamID: slave.StreamID, SpeakerIP: slave.SpeakerIP, StreamURL: "x-rincon:" + newCoordUUID,
				Codec: slave.Codec, Role: session.RoleSlave,
				CoordinatorIP: promoted.SpeakerIP, CoordinatorUUID: newCoordUUID,
				OriginalCoordinatorUUID: slave.OriginalCoordinatorUUID,
			})
		}(slave)
	}
	wg.Wait()

	c.Arbiter.LeaveSyncSession(coord.StreamID, coord.SpeakerIP)
}

// tearDownGroupLocked stops every given session's speaker outright — the
// fallback when promotion's critical step fails. Caller holds c.mu.
func (sg *SyncGroupManager) tearDownGroupLocked(ctx context.Context, sessions []*session.Session, reason events.StopReason) {
	c := sg.c
	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *session.Session) {
			defer wg.Done()
			sctx, scancel := ctxTimeout(ctx, c.SoapTimeoutMs)
			if err := c.Soap.Stop(sctx, sess.SpeakerIP); err != nil {
				log.Warn().Err(err).Str("speaker_ip", sess.SpeakerIP).Msg("stop during group teardown fallback failed")
			}
			scancel()
			c.Sessions.Remove(sess.StreamID, sess.SpeakerIP)
			sg.restoreOriginalGroupBestEffort(ctx, sess)
			c.Events.Emit(events.Event{Kind: events.KindPlaybackStopped, At: time.Now(), StreamID: sess.StreamID, SpeakerIP: sess.SpeakerIP, Reason: reason})
		}(sess)
	}
	wg.Wait()
	if len(sessions) > 0 {
		c.Arbiter.LeaveSyncSession(sessions[0].StreamID, sessions[0].SpeakerIP)
	}
}

// restoreOriginalGroupBestEffort rejoins sess's speaker to the Sonos
// group it belonged to before streaming started, if one was captured.
// Best-effort: failures are logged, never propagated.
func (sg *SyncGroupManager) restoreOriginalGroupBestEffort(ctx context.Context, sess *session.Session) {
	if sess.OriginalCoordinatorUUID == "" {
		return
	}
	c := sg.c
	rctx, rcancel := ctxTimeout(ctx, c.SoapTimeoutMs)
	defer rcancel()
	if err := c.Soap.SetAVTransportURI(rctx, sess.SpeakerIP, "x-rincon:"+sess.OriginalCoordinatorUUID, ""); err != nil {
		log.Warn().Err(err).Str("speaker_ip", sess.SpeakerIP).Msg("restore-original-group failed")
		return
	}
	pctx, pcancel := ctxTimeout(ctx, c.SoapTimeoutMs)
	defer pcancel()
	_ = c.Soap.Play(pctx, sess.SpeakerIP)
}
