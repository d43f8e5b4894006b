// Package geo resolves a client IP to coarse location data for log
// context, never for any streaming decision. Adapted from the teacher's
// listener-enrichment resolver, generalized from its studio-specific
// Listener type to a transport-agnostic ClientInfo so both the WebSocket
// handshake path and the HTTP consumer tracking path can share it.
package geo

import (
	"crypto/sha256"
	"encoding/hex"
	"net"

	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog/log"
)

// ClientInfo is the subset of a connecting client's identity a Resolver
// enriches in place. RemoteIP is consumed and dropped: callers never
// retain a raw IP past enrichment, only its salted hash.
type ClientInfo struct {
	RemoteIP net.IP
	IPHash   string
	Country  string
	Region   string
	City     string
	Enriched bool
}

type Resolver struct {
	db   *geoip2.Reader
	salt []byte
	ok   bool
}

func NewResolver(dbPath string, salt string, enabled bool) *Resolver {
	r := &Resolver{salt: []byte(salt)}
	if !enabled {
		return r
	}
	db, err := geoip2.Open(dbPath)
	if err != nil {
		log.Warn().Err(err).Msg("geoip: failed opening database, continuing without geo enrichment")
		return r
	}
	r.db = db
	r.ok = true
	return r
}

func (r *Resolver) Close() {
	if r.db != nil {
		r.db.Close()
	}
}

// Enrich populates Country/Region/City from a GeoIP city lookup when
// available, then replaces RemoteIP with its salted hash regardless of
// lookup success — the raw IP never survives enrichment.
func (r *Resolver) Enrich(c *ClientInfo) {
	if !r.ok || c.RemoteIP == nil {
		r.hashOnly(c)
		return
	}
	city, err := r.db.City(c.RemoteIP)
	if err != nil {
		r.hashOnly(c)
		return
	}
	if city.Country.IsoCode != "" {
		c.Country = city.Country.IsoCode
	}
	if len(city.Subdivisions) > 0 {
		c.Region = city.Subdivisions[0].Names["en"]
	}
	if city.City.Names["en"] != "" {
		c.City = city.City.Names["en"]
	}
	r.hashAndNull(c)
	c.Enriched = true
}

func (r *Resolver) hashOnly(c *ClientInfo) {
	r.hashAndNull(c)
}

func (r *Resolver) hashAndNull(c *ClientInfo) {
	if c.RemoteIP == nil {
		return
	}
	sum := sha256.Sum256(append(r.salt, []byte(c.RemoteIP.String())...))
	c.IPHash = hex.EncodeToString(sum[:])
	c.RemoteIP = nil
}
