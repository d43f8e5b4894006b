package gena

import (
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ivugurura/sonos-caster/config"
	"github.com/ivugurura/sonos-caster/internal/coordinator"
	"github.com/ivugurura/sonos-caster/internal/sonos"
)

// propertyset is the UPnP eventing envelope: a list of properties, each
// naming the one changed state variable carried in this NOTIFY. Both
// AVTransport/RenderingControl (LastChange) and ZoneGroupTopology
// (ZoneGroupState) use this same outer shape, just a different inner
// element name and schema.
type propertyset struct {
	XMLName    xml.Name   `xml:"propertyset"`
	Properties []property `xml:"property"`
}

type property struct {
	LastChange     string `xml:"LastChange"`
	ZoneGroupState string `xml:"ZoneGroupState"`
}

type avLastChange struct {
	InstanceID struct {
		TransportState  struct{ Val string `xml:"val,attr"` } `xml:"TransportState"`
		CurrentTrackURI struct{ Val string `xml:"val,attr"` } `xml:"CurrentTrackURI"`
	} `xml:"InstanceID"`
}

type zoneGroupState struct {
	XMLName xml.Name    `xml:"ZoneGroups"`
	Groups  []zoneGroup `xml:"ZoneGroup"`
}

type zoneGroup struct {
	Coordinator string            `xml:"Coordinator,attr"`
	Members     []zoneGroupMember `xml:"ZoneGroupMember"`
}

type zoneGroupMember struct {
	UUID     string `xml:"UUID,attr"`
	Location string `xml:"Location,attr"`
}

// Handler serves NOTIFY /sonos/gena, the inbound leg of GENA eventing:
// validates the required headers and body size per spec.md §6, then
// updates the in-memory topology/transport-state caches the coordinator
// reads from.
type Handler struct {
	Subscriptions *Registry
	Topology      *coordinator.MemoryTopology
	Transport     *coordinator.MemoryTransportState
	Coordinator   *coordinator.Coordinator
}

func NewHandler(subs *Registry, topo *coordinator.MemoryTopology, transport *coordinator.MemoryTransportState, coord *coordinator.Coordinator) *Handler {
	return &Handler{Subscriptions: subs, Topology: topo, Transport: transport, Coordinator: coord}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "NOTIFY" {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get("NT") != "upnp:event" || r.Header.Get("NTS") != "upnp:propchange" {
		http.Error(w, "bad event headers", http.StatusBadRequest)
		return
	}
	sid := r.Header.Get("SID")
	if sid == "" {
		http.Error(w, "missing SID", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxGENABodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var ps propertyset
	if err := xml.Unmarshal(body, &ps); err != nil {
		log.Warn().Err(err).Str("sid", sid).Msg("gena: malformed NOTIFY body, acking anyway")
		w.WriteHeader(http.StatusOK)
		return
	}

	sub, ok := h.Subscriptions.Lookup(sid)
	for _, p := range ps.Properties {
		switch {
		case p.LastChange != "" && ok && sub.Kind == KindAVTransport:
			h.handleAVTransport(sub.SpeakerIP, p.LastChange)
		case p.ZoneGroupState != "":
			h.handleZoneGroupState(p.ZoneGroupState)
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleAVTransport(speakerIP, lastChange string) {
	var ev avLastChange
	if err := xml.Unmarshal([]byte(lastChange), &ev); err != nil {
		log.Debug().Err(err).Msg("gena: unparseable AVTransport LastChange")
		return
	}
	state := ev.InstanceID.TransportState.Val
	if state != "" {
		h.Transport.SetPlaying(speakerIP, strings.EqualFold(state, "PLAYING"))
	}
	trackURI := ev.InstanceID.CurrentTrackURI.Val
	if trackURI != "" && !strings.Contains(trackURI, "/stream/") && h.Coordinator != nil {
		h.Coordinator.HandleSourceChanged(speakerIP)
	}
}

func (h *Handler) handleZoneGroupState(raw string) {
	var zgs zoneGroupState
	if err := xml.Unmarshal([]byte(raw), &zgs); err != nil {
		log.Debug().Err(err).Msg("gena: unparseable ZoneGroupState")
		return
	}
	for _, group := range zgs.Groups {
		for _, member := range group.Members {
			ip := ipFromLocation(member.Location)
			if ip == "" {
				continue
			}
			h.Topology.SetUUID(ip, sonos.NormalizeUUID(member.UUID))
			h.Topology.SetGroupCoordinator(ip, sonos.NormalizeUUID(group.Coordinator))
		}
	}
}

// ipFromLocation extracts the host from a device-description Location
// URL such as http://192.168.1.5:1400/xml/device_description.xml.
func ipFromLocation(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
