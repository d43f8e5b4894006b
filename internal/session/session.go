// Package session tracks active playback sessions: the link between a
// stream and a speaker currently playing it, including its role in any
// synchronized group. Grounded on the stream coordinator's session
// store, re-expressed with a sync.Map-free, mutex-guarded composite-key
// index (the teacher's listeners.Store uses the same primary+secondary
// index shape with a plain map + RWMutex rather than a lock-free map,
// which this module follows for consistency with the rest of the repo).
package session

import "github.com/ivugurura/sonos-caster/internal/audio"

// Key identifies a session by the (stream, speaker) pair. A speaker can
// only ever play one stream at a time, but a stream may be played by many
// speakers (multi-group casting), hence the composite key.
type Key struct {
	StreamID  string
	SpeakerIP string
}

// GroupRole is a speaker's role in synchronized group playback.
type GroupRole string

const (
	// RoleCoordinator speakers receive the actual stream URL and drive
	// playback timing for any slaves grouped with them.
	RoleCoordinator GroupRole = "coordinator"
	// RoleSlave speakers join the coordinator via the x-rincon protocol
	// and never fetch the stream directly.
	RoleSlave GroupRole = "slave"
)

// Session is an active stream-to-speaker playback link.
type Session struct {
	StreamID string
	SpeakerIP string

	// StreamURL is the full URL the speaker is fetching audio from: the
	// real HTTP stream URL for coordinators, or "x-rincon:{uuid}" for
	// slaves.
	StreamURL string

	Codec audio.Codec
	Role  GroupRole

	// CoordinatorIP is set for slaves (the coordinator they follow) and
	// empty for coordinators.
	CoordinatorIP string

	// CoordinatorUUID is the coordinator's Sonos UUID, set on both roles
	// (self UUID for a coordinator, the followed UUID for a slave) since
	// cleanup operations need it regardless of role.
	CoordinatorUUID string

	// OriginalCoordinatorUUID is the UUID of the group the speaker
	// belonged to before streaming started, used to restore that
	// membership once streaming ends. Recorded for both roles; empty if
	// the speaker was standalone.
	OriginalCoordinatorUUID string
}

// Result reports the per-speaker outcome of a start-playback attempt, for
// aggregating across a multi-speaker request.
type Result struct {
	SpeakerIP string
	Success   bool
	StreamURL string
	Error     string
}
