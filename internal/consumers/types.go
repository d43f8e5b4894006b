// Package consumers tracks the live HTTP connections serving audio to
// Sonos speakers — the GET /stream/{id}/live family. Adapted from the
// teacher's listener tracking: a Sonos speaker plays the role a radio
// listener played there, minus the user-agent/client-type axis (every
// consumer here is a Sonos HTTP client).
package consumers

import (
	"net"
	"sync/atomic"
	"time"
)

// Consumer is one live (or just-ended) HTTP delivery connection.
type Consumer struct {
	ID       string
	StreamID string

	ConnectedAt    time.Time
	DisconnectedAt atomic.Pointer[time.Time]

	RemoteIP net.IP
	Country  string
	Region   string
	City     string

	BytesSent atomic.Int64

	Enriched atomic.Bool
}

func (c *Consumer) MarkDisconnected() {
	now := time.Now()
	c.DisconnectedAt.Store(&now)
}

func (c *Consumer) IsActive() bool {
	return c.DisconnectedAt.Load() == nil
}
