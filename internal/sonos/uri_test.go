package sonos_test

import (
	"testing"

	"github.com/ivugurura/sonos-caster/internal/sonos"
)

func TestIsJoinGroupURI(t *testing.T) {
	cases := []struct {
		uri  string
		want bool
	}{
		{"x-rincon:RINCON_000E58C0000001400", true},
		{"x-rincon:RINCON_000E58C0000001400:1", true},
		{"x-rincon-mp3radio://192.168.1.10:8000/stream", false},
		{"x-rincon-queue:RINCON_000E58C0000001400#0", false},
		{"http://192.168.1.10:8000/stream/abc/live.wav", false},
	}
	for _, tc := range cases {
		if got := sonos.IsJoinGroupURI(tc.uri); got != tc.want {
			t.Errorf("IsJoinGroupURI(%q) = %v, want %v", tc.uri, got, tc.want)
		}
	}
}

func TestJoinGroupURI(t *testing.T) {
	got := sonos.JoinGroupURI("RINCON_000E58C0000001400")
	want := "x-rincon:RINCON_000E58C0000001400"
	if got != want {
		t.Fatalf("JoinGroupURI() = %q, want %q", got, want)
	}
	if !sonos.IsJoinGroupURI(got) {
		t.Fatalf("expected JoinGroupURI's own output to satisfy IsJoinGroupURI")
	}
}

func TestNormalizeUUID(t *testing.T) {
	if got := sonos.NormalizeUUID("uuid:RINCON_000E58C0000001400"); got != "RINCON_000E58C0000001400" {
		t.Fatalf("NormalizeUUID() = %q, want the uuid: prefix stripped", got)
	}
	if sonos.NormalizeUUID("uuid:RINCON_XXX") != sonos.NormalizeUUID("RINCON_XXX") {
		t.Fatalf("expected prefixed and bare forms to normalize identically")
	}
	// Already-bare uuids pass through untouched.
	if got := sonos.NormalizeUUID("RINCON_000E58C0000001400"); got != "RINCON_000E58C0000001400" {
		t.Fatalf("NormalizeUUID() = %q, want unchanged", got)
	}
}

func TestNormalizeStreamURI(t *testing.T) {
	httpURL := "http://192.168.1.5:8000/stream/abc/live.mp3"

	if got := sonos.NormalizeStreamURI(httpURL, false); got != httpURL {
		t.Fatalf("expected no change without radio hint, got %q", got)
	}

	got := sonos.NormalizeStreamURI(httpURL, true)
	want := "x-rincon-mp3radio://192.168.1.5:8000/stream/abc/live.mp3"
	if got != want {
		t.Fatalf("NormalizeStreamURI() = %q, want %q", got, want)
	}
}
