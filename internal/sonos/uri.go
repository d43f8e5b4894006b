package sonos

import (
	"regexp"
	"strings"
)

// rinconURIPattern matches exactly "x-rincon:" followed by a Sonos RINCON
// uuid, not a bare prefix. A plain strings.HasPrefix(uri, "x-rincon:")
// also matches "x-rincon-mp3radio:" and "x-rincon-queue:" — a documented
// pitfall in the source this module is built from — so this checks the
// stricter, fully-qualified form instead.
var rinconURIPattern = regexp.MustCompile(`^x-rincon:RINCON_[0-9A-Fa-f]+(:[0-9]+)?$`)

// IsJoinGroupURI reports whether uri is a "join this coordinator's group"
// URI, as opposed to x-rincon-mp3radio (a file-vs-radio playback hint)
// or x-rincon-queue (the local queue).
func IsJoinGroupURI(uri string) bool {
	return rinconURIPattern.MatchString(uri)
}

// JoinGroupURI builds the x-rincon URI a slave uses to join coordinatorUUID.
func JoinGroupURI(coordinatorUUID string) string {
	return "x-rincon:" + NormalizeUUID(coordinatorUUID)
}

// NormalizeUUID strips the "uuid:" prefix some UPnP surfaces (GENA SIDs,
// device descriptions) put in front of a RINCON identifier, so uuids
// compare equal regardless of which surface they came from.
func NormalizeUUID(uuid string) string {
	return strings.TrimPrefix(uuid, "uuid:")
}

// NormalizeStreamURI maps a stream's real HTTP URL to the URI form Sonos
// expects for the given codec. PCM/FLAC speakers fetch file-mode HTTP
// directly; MP3/AAC use the x-rincon-mp3radio scheme, Sonos's heuristic
// for treating a URL as an internet-radio style endpoint rather than a
// fixed-length file. Slave sessions never pass through this function —
// their URI is "x-rincon:" followed by the coordinator's uuid.
func NormalizeStreamURI(httpURL string, requiresRadioHint bool) string {
	if !requiresRadioHint {
		return httpURL
	}
	return "x-rincon-mp3radio://" + stripScheme(httpURL)
}

func stripScheme(url string) string {
	for i := 0; i+2 < len(url); i++ {
		if url[i] == ':' && url[i+1] == '/' && url[i+2] == '/' {
			return url[i+3:]
		}
	}
	return url
}
