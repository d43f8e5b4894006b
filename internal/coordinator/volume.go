package coordinator

import (
	"context"

	"github.com/ivugurura/sonos-caster/internal/session"
	"github.com/ivugurura/sonos-caster/internal/sonos"
	"github.com/ivugurura/sonos-caster/internal/sonoserr"
)

// VolumeRouter is the stateless dispatcher of spec.md §4.8: a speaker in
// a sync session is addressed per-speaker (RenderingControl), since within
// our sync session each speaker is its own standalone Sonos group; a
// speaker outside any sync session is addressed via GroupRenderingControl,
// which correctly handles Sonos's own group constructs (stereo pairs,
// subs) the speaker may belong to.
type VolumeRouter struct {
	Sessions *session.Store
	Soap     sonos.Client
}

func NewVolumeRouter(sessions *session.Store, soap sonos.Client) *VolumeRouter {
	return &VolumeRouter{Sessions: sessions, Soap: soap}
}

func (v *VolumeRouter) routed(speakerIP string) (perSpeaker bool, err error) {
	hasSlaves, ok := v.Sessions.IsInSyncSession(speakerIP)
	if !ok {
		return false, sonoserr.New(sonoserr.KindNotFound, "no session for speaker "+speakerIP)
	}
	return hasSlaves, nil
}

func (v *VolumeRouter) GetVolume(ctx context.Context, speakerIP string) (int, error) {
	perSpeaker, err := v.routed(speakerIP)
	if err != nil {
		return 0, err
	}
	if perSpeaker {
		return v.Soap.GetVolume(ctx, speakerIP)
	}
	return v.Soap.GetGroupVolume(ctx, speakerIP)
}

func (v *VolumeRouter) SetVolume(ctx context.Context, speakerIP string, volume int) error {
	perSpeaker, err := v.routed(speakerIP)
	if err != nil {
		return err
	}
	if perSpeaker {
		return v.Soap.SetVolume(ctx, speakerIP, volume)
	}
	return v.Soap.SetGroupVolume(ctx, speakerIP, volume)
}

func (v *VolumeRouter) GetMute(ctx context.Context, speakerIP string) (bool, error) {
	perSpeaker, err := v.routed(speakerIP)
	if err != nil {
		return false, err
	}
	if perSpeaker {
		return v.Soap.GetMute(ctx, speakerIP)
	}
	return v.Soap.GetGroupMute(ctx, speakerIP)
}

func (v *VolumeRouter) SetMute(ctx context.Context, speakerIP string, mute bool) error {
	perSpeaker, err := v.routed(speakerIP)
	if err != nil {
		return err
	}
	if perSpeaker {
		return v.Soap.SetMute(ctx, speakerIP, mute)
	}
	return v.Soap.SetGroupMute(ctx, speakerIP, mute)
}

// SetSyncGroupVolume/SetSyncGroupMute target the sync coordinator's IP
// explicitly via GroupRenderingControl, so a caller can say "the whole
// synced room" without knowing which speaker is the coordinator.
func (v *VolumeRouter) SetSyncGroupVolume(ctx context.Context, speakerIP string, volume int) error {
	coordinatorIP, err := v.coordinatorIPFor(speakerIP)
	if err != nil {
		return err
	}
	return v.Soap.SetGroupVolume(ctx, coordinatorIP, volume)
}

func (v *VolumeRouter) SetSyncGroupMute(ctx context.Context, speakerIP string, mute bool) error {
	coordinatorIP, err := v.coordinatorIPFor(speakerIP)
	if err != nil {
		return err
	}
	return v.Soap.SetGroupMute(ctx, coordinatorIP, mute)
}

func (v *VolumeRouter) coordinatorIPFor(speakerIP string) (string, error) {
	sess, ok := v.Sessions.GetBySpeakerIP(speakerIP)
	if !ok {
		return "", sonoserr.New(sonoserr.KindNotFound, "no session for speaker "+speakerIP)
	}
	if sess.Role == session.RoleCoordinator {
		return sess.SpeakerIP, nil
	}
	return sess.CoordinatorIP, nil
}
