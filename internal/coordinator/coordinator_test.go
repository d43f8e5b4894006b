package coordinator_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ivugurura/sonos-caster/internal/audio"
	"github.com/ivugurura/sonos-caster/internal/coordinator"
	"github.com/ivugurura/sonos-caster/internal/events"
	"github.com/ivugurura/sonos-caster/internal/session"
	"github.com/ivugurura/sonos-caster/internal/stream"
)

// fakeRegistry always reports a stream exists, so the coordinator never
// needs a real stream.Registry to exercise its playback-start logic.
type fakeRegistry struct {
	codec audio.Codec
}

func (f *fakeRegistry) CreateStream(codec audio.Codec, format audio.Format, streamingBufferMs, frameDurationMs int) (*stream.State, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRegistry) GetStream(id string) (*stream.State, bool) {
	return &stream.State{ID: id, Codec: f.codec}, true
}

func (f *fakeRegistry) RemoveStream(id string) bool { return true }

// fakeSoap records every call made against it so tests can assert on
// call sequence without a real speaker.
type fakeSoap struct {
	playCalls      []string
	stopCalls      []string
	setURICalls    []string
	joinCalls      []string // SetAVTransportURI calls whose uri is an x-rincon: join
	leaveCalls     []string
	failPlay       map[string]bool
	failSetURI     map[string]bool
}

func newFakeSoap() *fakeSoap {
	return &fakeSoap{failPlay: map[string]bool{}, failSetURI: map[string]bool{}}
}

func (f *fakeSoap) SetAVTransportURI(ctx context.Context, speakerIP, uri, didl string) error {
	f.setURICalls = append(f.setURICalls, speakerIP)
	if strings.HasPrefix(uri, "x-rincon:") {
		f.joinCalls = append(f.joinCalls, speakerIP+"->"+uri)
	}
	if f.failSetURI[speakerIP] {
		return errors.New("set-av-transport-uri failed")
	}
	return nil
}
func (f *fakeSoap) Play(ctx context.Context, speakerIP string) error {
	f.playCalls = append(f.playCalls, speakerIP)
	if f.failPlay[speakerIP] {
		return errors.New("play failed")
	}
	return nil
}
func (f *fakeSoap) Stop(ctx context.Context, speakerIP string) error {
	f.stopCalls = append(f.stopCalls, speakerIP)
	return nil
}
func (f *fakeSoap) BecomeCoordinatorOfStandaloneGroup(ctx context.Context, speakerIP string) error {
	f.leaveCalls = append(f.leaveCalls, speakerIP)
	return nil
}
func (f *fakeSoap) GetPositionInfo(ctx context.Context, speakerIP string) (string, int64, error) {
	return "", 0, nil
}
func (f *fakeSoap) GetGroupVolume(ctx context.Context, speakerIP string) (int, error) { return 0, nil }
func (f *fakeSoap) SetGroupVolume(ctx context.Context, speakerIP string, volume int) error {
	return nil
}
func (f *fakeSoap) GetGroupMute(ctx context.Context, speakerIP string) (bool, error) { return false, nil }
func (f *fakeSoap) SetGroupMute(ctx context.Context, speakerIP string, mute bool) error {
	return nil
}
func (f *fakeSoap) GetVolume(ctx context.Context, speakerIP string) (int, error) { return 0, nil }
func (f *fakeSoap) SetVolume(ctx context.Context, speakerIP string, volume int) error {
	return nil
}
func (f *fakeSoap) GetMute(ctx context.Context, speakerIP string) (bool, error) { return false, nil }
func (f *fakeSoap) SetMute(ctx context.Context, speakerIP string, mute bool) error {
	return nil
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(e events.Event) { r.events = append(r.events, e) }

func newTestCoordinator(t *testing.T, soap *fakeSoap) (*coordinator.Coordinator, *session.Store) {
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
	return c, sessions
}

func TestStartPlaybackMulti_SingleSpeakerSuccess(t *testing.T) {
	soap := newFakeSoap()
	c, sessions := newTestCoordinator(t, soap)

	results := c.StartPlaybackMulti(context.Background(), []string{"192.168.1.10"}, "stream-1", "", false)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Success {
		t.Fatalf("expected success, got error %q", results[0].Error)
	}
	if len(soap.setURICalls) != 1 || len(soap.playCalls) != 1 {
		t.Fatalf("expected one SetAVTransportURI and one Play call, got %d/%d", len(soap.setURICalls), len(soap.playCalls))
	}
	sess, ok := sessions.Get("stream-1", "192.168.1.10")
	if !ok || sess.Role != session.RoleCoordinator {
		t.Fatalf("expected a coordinator session to be recorded")
	}
}

func TestStartPlaybackMulti_FanOutIndependentFailures(t *testing.T) {
	soap := newFakeSoap()
	soap.failPlay["192.168.1.11"] = true
	c, _ := newTestCoordinator(t, soap)

	results := c.StartPlaybackMulti(context.Background(), []string{"192.168.1.10", "192.168.1.11"}, "stream-1", "", false)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	var sawSuccess, sawFailure bool
	for _, r := range results {
		if r.SpeakerIP == "192.168.1.10" && r.Success {
			sawSuccess = true
		}
		if r.SpeakerIP == "192.168.1.11" && !r.Success {
			sawFailure = true
		}
	}
	if !sawSuccess || !sawFailure {
		t.Fatalf("expected one speaker to succeed and the other to fail independently, got %+v", results)
	}
}

func TestStartPlaybackMulti_ResumeAlreadyPlayingCoordinatorSkipsPlay(t *testing.T) {
	soap := newFakeSoap()
	c, _ := newTestCoordinator(t, soap)

	c.StartPlaybackMulti(context.Background(), []string{"192.168.1.10"}, "stream-1", "", false)
	soap.playCalls = nil

	transport := c.Transport.(*coordinator.MemoryTransportState)
	transport.SetPlaying("192.168.1.10", true)

	results := c.StartPlaybackMulti(context.Background(), []string{"192.168.1.10"}, "stream-1", "", false)
	if !results[0].Success {
		t.Fatalf("expected resume to succeed")
	}
	if len(soap.playCalls) != 0 {
		t.Fatalf("expected no new Play call when transport already reports playing, got %d", len(soap.playCalls))
	}
}

func TestStopPlaybackSpeaker_RemovesSessionAndStopsSoap(t *testing.T) {
	soap := newFakeSoap()
	c, sessions := newTestCoordinator(t, soap)

	c.StartPlaybackMulti(context.Background(), []string{"192.168.1.10"}, "stream-1", "", false)
	c.StopPlaybackSpeaker(context.Background(), "stream-1", "192.168.1.10", events.ReasonUserRemoved)

	if _, ok := sessions.Get("stream-1", "192.168.1.10"); ok {
		t.Fatalf("expected session to be removed after stop")
	}
	if len(soap.stopCalls) != 1 {
		t.Fatalf("expected one Stop call, got %d", len(soap.stopCalls))
	}
}
