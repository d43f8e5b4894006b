package wsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ivugurura/sonos-caster/config"
	"github.com/ivugurura/sonos-caster/internal/coordinator"
	"github.com/ivugurura/sonos-caster/internal/geo"
	"github.com/ivugurura/sonos-caster/internal/groups"
	"github.com/ivugurura/sonos-caster/internal/latency"
	"github.com/ivugurura/sonos-caster/internal/netutil"
)

// Server upgrades incoming HTTP requests to WebSocket connections and
// dispatches their message traffic against the Coordinator/VolumeRouter/
// latency.Manager collaborators. Grounded on the teacher's WebSocket
// ingress handler (upgrade, per-connection read loop, heartbeat
// watchdog), extended with the control-plane message catalogue of
// spec.md §6.
type Server struct {
	Coordinator *coordinator.Coordinator
	Volume      *coordinator.VolumeRouter
	Latency     *latency.Manager
	Hub         *Hub
	Geo         *geo.Resolver
	Groups      *groups.Config

	upgrader websocket.Upgrader
}

func NewServer(coord *coordinator.Coordinator, volume *coordinator.VolumeRouter, lat *latency.Manager, hub *Hub, geoResolver *geo.Resolver, groupsCfg *groups.Config) *Server {
	return &Server{
		Coordinator: coord,
		Volume:      volume,
		Latency:     lat,
		Hub:         hub,
		Geo:         geoResolver,
		Groups:      groupsCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Conn is one live browser connection. It owns at most one stream for
// its lifetime; videoSyncEnabled is sticky once set by any
// START_PLAYBACK message, per spec.md §6.
type Conn struct {
	ws     *websocket.Conn
	server *Server

	writeMu sync.Mutex

	mu               sync.Mutex
	streamID         string
	streamStarted    bool
	videoSyncEnabled bool

	lastActivity atomic.Int64 // unix nanos
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("wsapi: upgrade failed")
		return
	}
	c := &Conn{ws: ws, server: s}
	c.lastActivity.Store(time.Now().UnixNano())
	s.Hub.register(c)
	defer s.Hub.unregister(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.heartbeatWatchdog(ctx)

	if s.Geo != nil {
		info := &geo.ClientInfo{RemoteIP: netutil.ExtractClientIp(r)}
		s.Geo.Enrich(info)
		log.Info().Str("ip_hash", info.IPHash).Str("country", info.Country).
			Str("region", info.Region).Str("city", info.City).
			Bool("enriched", info.Enriched).Msg("wsapi: client connected")
	}

	c.send("INITIAL_STATE", s.initialState())

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		c.lastActivity.Store(time.Now().UnixNano())

		if msgType == websocket.BinaryMessage {
			c.handleAudioFrame(data)
			continue
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.send("ERROR", errorOut{Message: "malformed message"})
			continue
		}
		c.dispatch(ctx, env)
	}

	c.onClose()
}

// heartbeatWatchdog drops the connection if no message (including
// HEARTBEAT) has arrived within WSHeartbeatTimeoutSecs.
func (c *Conn) heartbeatWatchdog(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(config.WSHeartbeatCheckIntervalSecs) * time.Second)
	defer ticker.Stop()
	timeout := time.Duration(config.WSHeartbeatTimeoutSecs) * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, c.lastActivity.Load())
			if time.Since(last) > timeout {
				log.Info().Msg("wsapi: connection heartbeat timed out, closing")
				_ = c.ws.Close()
				return
			}
		}
	}
}

// onClose tears down the stream this connection owned, if any, mirroring
// the source's StreamGuard drop semantics: losing the connection that
// produced a stream's audio is equivalent to the browser asking to stop.
func (c *Conn) onClose() {
	c.mu.Lock()
	streamID := c.streamID
	owned := c.streamStarted
	c.mu.Unlock()
	if !owned || streamID == "" {
		return
	}
	if c.server.Latency != nil {
		c.server.Latency.StopAllForStream(streamID)
	}
	c.server.Coordinator.RemoveStreamAsync(context.Background(), streamID)
}

func (c *Conn) send(msgType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := envelope{Type: msgType, Payload: raw}
	buf, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, buf)
}

func (s *Server) initialState() initialStateOut {
	out := initialStateOut{AppName: config.DefaultConfig().AppName}
	if s.Groups == nil {
		return out
	}
	if s.Groups.Branding.AppName != "" {
		out.AppName = s.Groups.Branding.AppName
	}
	out.LogoURL = s.Groups.Branding.LogoURL
	out.AccentHex = s.Groups.Branding.AccentHex
	for _, g := range s.Groups.Groups {
		out.Groups = append(out.Groups, groupOut{Name: g.Name, SpeakerIPs: g.SpeakerIPs})
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
