package coordinator_test

import (
	"context"
	"testing"

	"github.com/ivugurura/sonos-caster/internal/audio"
	"github.com/ivugurura/sonos-caster/internal/coordinator"
	"github.com/ivugurura/sonos-caster/internal/events"
	"github.com/ivugurura/sonos-caster/internal/session"
)

// newTestCoordinatorWithEmitter is newTestCoordinator plus access to the
// recording emitter, needed by the sync-group scenarios below to assert
// on exactly which PlaybackStopped events fired.
func newTestCoordinatorWithEmitter(t *testing.T, soap *fakeSoap) (*coordinator.Coordinator, *session.Store, *recordingEmitter) {
	t.Helper()
	reg := &fakeRegistry{codec: audio.CodecPCM}
	sessions := session.NewStore()
	emitter := &recordingEmitter{}
	urlFor := func(streamID, codec, ext string) string {
		return "http://127.0.0.1:8000/stream/" + streamID + "/live." + ext
	}
	c := coordinator.New(
		reg, sessions, soap, emitter,
		coordinator.NewMemoryTopology(), coordinator.NewMemoryTransportState(),
		coordinator.NopArbiter{}, coordinator.NewRealScheduler(), urlFor,
	)
	return c, sessions, emitter
}

// TestStartSyncGroup_CoordinatorFailure covers spec.md §8 scenario S4: a
// failing coordinator aborts the whole group with no joins attempted.
func TestStartSyncGroup_CoordinatorFailure(t *testing.T) {
	const a, b, c = "192.168.1.10", "192.168.1.11", "192.168.1.12"
	soap := newFakeSoap()
	soap.failSetURI[a] = true

	coord, _, _ := newTestCoordinatorWithEmitter(t, soap)
	topo := coord.Topology.(*coordinator.MemoryTopology)
	topo.SetUUID(a, "RINCON_A")
	topo.SetUUID(b, "RINCON_B")
	topo.SetUUID(c, "RINCON_C")

	results := coord.StartPlaybackMulti(context.Background(), []string{a, b, c}, "stream-1", "", true)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	byIP := map[string]session.Result{}
	for _, r := range results {
		byIP[r.SpeakerIP] = r
	}

	if byIP[a].Success {
		t.Fatalf("expected coordinator %s to fail, got success", a)
	}
	for _, slave := range []string{b, c} {
		r := byIP[slave]
		if r.Success {
			t.Fatalf("expected slave %s to be reported failed when coordinator fails", slave)
		}
		if r.Error != "Coordinator failed to start" {
			t.Fatalf("expected slave %s error %q, got %q", slave, "Coordinator failed to start", r.Error)
		}
	}

	for _, slave := range []string{b, c} {
		for _, ip := range soap.setURICalls {
			if ip == slave {
				t.Fatalf("expected no SetAVTransportURI call for slave %s when coordinator failed", slave)
			}
		}
	}
}

// TestStopPlaybackSpeaker_CoordinatorRemovalPromotesSlave covers spec.md
// §8 scenario S5: removing a coordinator with slaves promotes one slave
// and re-points the other, emitting exactly one PlaybackStopped for the
// removed coordinator and none for the promoted/re-pointed speakers.
func TestStopPlaybackSpeaker_CoordinatorRemovalPromotesSlave(t *testing.T) {
	const a, b, c = "192.168.1.10", "192.168.1.11", "192.168.1.12"
	soap := newFakeSoap()

	coord, sessions, emitter := newTestCoordinatorWithEmitter(t, soap)
	topo := coord.Topology.(*coordinator.MemoryTopology)
	topo.SetUUID(a, "RINCON_A")
	topo.SetUUID(b, "RINCON_B")
	topo.SetUUID(c, "RINCON_C")

	results := coord.StartPlaybackMulti(context.Background(), []string{a, b, c}, "stream-1", "", true)
	for _, r := range results {
		if !r.Success {
			t.Fatalf("expected initial sync-group start to fully succeed, got %+v", r)
		}
	}

	soap.stopCalls, soap.setURICalls, soap.playCalls = nil, nil, nil

	coord.StopPlaybackSpeaker(context.Background(), "stream-1", a, events.ReasonUserRemoved)

	var stoppedCount int
	for _, e := range emitter.events {
		if e.Kind == events.KindPlaybackStopped {
			stoppedCount++
			if e.SpeakerIP != a {
				t.Fatalf("expected the only PlaybackStopped to name the removed coordinator %s, got %s", a, e.SpeakerIP)
			}
		}
	}
	if stoppedCount != 1 {
		t.Fatalf("expected exactly one PlaybackStopped event, got %d", stoppedCount)
	}

	if len(soap.stopCalls) != 1 || soap.stopCalls[0] != a {
		t.Fatalf("expected exactly one Stop call against the removed coordinator, got %+v", soap.stopCalls)
	}

	// B sorts first among the slaves, so it is the promoted speaker; C is
	// re-pointed to B's new coordinator uuid.
	promoted, ok := sessions.Get("stream-1", b)
	if !ok {
		t.Fatalf("expected a session to remain for promoted speaker %s", b)
	}
	if promoted.Role != session.RoleCoordinator {
		t.Fatalf("expected %s to be promoted to RoleCoordinator, got %v", b, promoted.Role)
	}
	if promoted.CoordinatorIP != "" {
		t.Fatalf("expected promoted coordinator_ip to be cleared, got %q", promoted.CoordinatorIP)
	}
	if promoted.StreamURL == "" || promoted.StreamURL[:4] != "http" {
		t.Fatalf("expected promoted speaker's stream_url to be the real HTTP URL, got %q", promoted.StreamURL)
	}

	repointed, ok := sessions.Get("stream-1", c)
	if !ok {
		t.Fatalf("expected a session to remain for re-pointed speaker %s", c)
	}
	if repointed.Role != session.RoleSlave {
		t.Fatalf("expected %s to remain a slave, got %v", c, repointed.Role)
	}
	if repointed.CoordinatorIP != b {
		t.Fatalf("expected %s to be re-pointed to new coordinator %s, got %q", c, b, repointed.CoordinatorIP)
	}
	if repointed.StreamURL != "x-rincon:"+promoted.CoordinatorUUID {
		t.Fatalf("expected %s's stream_url to join the new coordinator uuid, got %q", c, repointed.StreamURL)
	}

	var setURICountPromoted, joinCountRepointed int
	for _, ip := range soap.setURICalls {
		if ip == b {
			setURICountPromoted++
		}
	}
	for _, j := range soap.joinCalls {
		if j == c+"->x-rincon:"+promoted.CoordinatorUUID {
			joinCountRepointed++
		}
	}
	if setURICountPromoted != 1 {
		t.Fatalf("expected exactly one SetAVTransportURI on the promoted speaker, got %d", setURICountPromoted)
	}
	if joinCountRepointed != 1 {
		t.Fatalf("expected exactly one join_group call re-pointing %s, got %d", c, joinCountRepointed)
	}
}

// TestStopPlaybackSpeaker_PromotionPreservesPreStreamingGroup covers
// spec.md §8 scenario S6: the promoted slave's original_coordinator_uuid
// must come from its own stored session — here empty, because the slave
// was standalone before streaming — not from a re-query of the topology,
// which by now reflects the streaming group and would answer with the
// dissolving coordinator's uuid, causing the promoted speaker to try to
// rejoin that group on its own eventual stop.
func TestStopPlaybackSpeaker_PromotionPreservesPreStreamingGroup(t *testing.T) {
	const k, o = "192.168.1.20", "192.168.1.21"
	soap := newFakeSoap()

	coord, sessions, _ := newTestCoordinatorWithEmitter(t, soap)
	topo := coord.Topology.(*coordinator.MemoryTopology)
	topo.SetUUID(k, "RINCON_K")
	topo.SetUUID(o, "RINCON_O")
	// Topology reflects the *streaming* group: O currently grouped under K.
	topo.SetGroupCoordinator(o, "RINCON_K")

	// Sessions as they'd exist mid-stream: K coordinating, O joined as a
	// slave. Both were standalone before streaming began, so neither
	// stored an original group to restore.
	sessions.Insert(&session.Session{
		StreamID: "stream-1", SpeakerIP: k,
		StreamURL: "http://127.0.0.1:8000/stream/stream-1/live.wav",
		Codec:     audio.CodecPCM, Role: session.RoleCoordinator,
		CoordinatorUUID: "RINCON_K",
	})
	sessions.Insert(&session.Session{
		StreamID: "stream-1", SpeakerIP: o,
		StreamURL: "x-rincon:RINCON_K",
		Codec:     audio.CodecPCM, Role: session.RoleSlave,
		CoordinatorIP: k, CoordinatorUUID: "RINCON_K",
		OriginalCoordinatorUUID: "",
	})

	coord.StopPlaybackSpeaker(context.Background(), "stream-1", k, events.ReasonUserRemoved)

	promoted, ok := sessions.Get("stream-1", o)
	if !ok {
		t.Fatalf("expected O's session to survive as the promoted coordinator")
	}
	if promoted.Role != session.RoleCoordinator {
		t.Fatalf("expected O to be promoted to RoleCoordinator, got %v", promoted.Role)
	}
	if promoted.OriginalCoordinatorUUID != "" {
		t.Fatalf("expected promoted session to preserve the slave's empty original_coordinator_uuid, not re-query topology (which would answer RINCON_K), got %q", promoted.OriginalCoordinatorUUID)
	}
}

// TestJoinSlave_CapturesPreStreamingGroupOnSlaveSession is the capture
// half of the same invariant: a slave that *was* grouped before
// streaming stores that group's coordinator uuid at join time, and a
// later promotion carries it through untouched.
func TestJoinSlave_CapturesPreStreamingGroupOnSlaveSession(t *testing.T) {
	const k, o = "192.168.1.20", "192.168.1.21"
	soap := newFakeSoap()

	coord, sessions, _ := newTestCoordinatorWithEmitter(t, soap)
	topo := coord.Topology.(*coordinator.MemoryTopology)
	topo.SetUUID(k, "RINCON_K")
	topo.SetUUID(o, "RINCON_O")
	// Pre-streaming topology: O belongs to a third speaker's group.
	topo.SetGroupCoordinator(o, "RINCON_LIVINGROOM")

	results := coord.StartPlaybackMulti(context.Background(), []string{k, o}, "stream-1", "", true)
	for _, r := range results {
		if !r.Success {
			t.Fatalf("expected sync-group start to succeed, got %+v", r)
		}
	}

	oSession, ok := sessions.Get("stream-1", o)
	if !ok || oSession.OriginalCoordinatorUUID != "RINCON_LIVINGROOM" {
		t.Fatalf("expected O's slave session to capture its pre-streaming group coordinator, got %+v", oSession)
	}

	coord.StopPlaybackSpeaker(context.Background(), "stream-1", k, events.ReasonUserRemoved)

	promoted, ok := sessions.Get("stream-1", o)
	if !ok || promoted.OriginalCoordinatorUUID != "RINCON_LIVINGROOM" {
		t.Fatalf("expected promotion to carry the stored original group through unchanged, got %+v", promoted)
	}
}
