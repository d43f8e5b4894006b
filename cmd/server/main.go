package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/ivugurura/sonos-caster/config"
	"github.com/ivugurura/sonos-caster/internal/consumers"
	"github.com/ivugurura/sonos-caster/internal/coordinator"
	"github.com/ivugurura/sonos-caster/internal/events"
	"github.com/ivugurura/sonos-caster/internal/gena"
	"github.com/ivugurura/sonos-caster/internal/geo"
	"github.com/ivugurura/sonos-caster/internal/groups"
	"github.com/ivugurura/sonos-caster/internal/httpstream"
	"github.com/ivugurura/sonos-caster/internal/latency"
	"github.com/ivugurura/sonos-caster/internal/logging"
	"github.com/ivugurura/sonos-caster/internal/netutil"
	"github.com/ivugurura/sonos-caster/internal/session"
	"github.com/ivugurura/sonos-caster/internal/sonos"
	"github.com/ivugurura/sonos-caster/internal/stream"
	"github.com/ivugurura/sonos-caster/internal/wsapi"
)

// restyClient backs artworkCache's one-off upstream image fetch, the
// same resty client SOAP calls and analytics ingest already use instead
// of a bare *http.Client.
var restyClient = resty.New().SetTimeout(5 * time.Second)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadConfig()
	logging.Init(cfg.LogLevel, cfg.LogPretty)

	localIP, err := netutil.LocalIP()
	if err != nil {
		log.Fatal().Err(err).Msg("could not determine LAN-facing IP, speakers would not be able to reach this host")
	}
	port := listenPort(cfg.ListenAddr)

	registry := stream.NewRegistry(cfg.MaxConcurrentStreams, cfg.StreamBufferFrames, cfg.StreamChannelCapacity)
	sessions := session.NewStore()
	soapClient := sonos.NewRestyClient()
	geoResolver := geo.NewResolver(cfg.GeoIPDBPath, cfg.GeoIPSalt, cfg.GeoIPEnabled)
	defer geoResolver.Close()
	consumerStore := consumers.NewStore()
	hub := wsapi.NewHub()

	groupsCfg, err := groups.LoadFile(cfg.GroupsFilePath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.GroupsFilePath).Msg("groups config: failed to load, continuing without named groups")
		groupsCfg = &groups.Config{}
	}

	var eventSinks events.MultiEmitter
	eventSinks = append(eventSinks, hub)
	if cfg.EventsIngestURL != "" {
		eventSinks = append(eventSinks, events.NewHTTPEmitter(cfg.EventsIngestURL, cfg.EventsAPIKey))
	}
	if cfg.ConsumerAnalyticsIngestURL != "" {
		eventSinks = append(eventSinks, consumers.NewLifecycleEmitter(
			consumerStore, cfg.ConsumerAnalyticsIngestURL, cfg.ConsumerAnalyticsAPIKey,
			config.ConsumerFlushIntervalSecs*time.Second,
		))
	}

	topology := coordinator.NewMemoryTopology()
	transportState := coordinator.NewMemoryTransportState()
	genaSubs := gena.NewRegistry()

	urlFor := func(streamID, codec, ext string) string {
		return fmt.Sprintf("http://%s:%s/stream/%s/live.%s", localIP.String(), port, streamID, ext)
	}

	coord := coordinator.New(
		registry, sessions, soapClient, eventSinks,
		topology, transportState, coordinator.NopArbiter{}, coordinator.NewRealScheduler(),
		urlFor,
	)
	volumeRouter := coordinator.NewVolumeRouter(sessions, soapClient)
	latencyManager := latency.NewManager(
		registry, soapClient, hub,
		time.Duration(cfg.LatencyPollMs)*time.Millisecond, cfg.LatencyEMAAlpha,
		cfg.LatencyMinSamples, time.Duration(cfg.LatencyEmitEveryMs)*time.Millisecond,
	)

	priorityPool := stream.NewPriorityPool(cfg.PriorityPoolWorkers)
	defer priorityPool.Close()

	streamHandler := httpstream.NewHandler(registry, consumerStore, priorityPool)
	streamHandler.Resume = coord
	wsServer := wsapi.NewServer(coord, volumeRouter, latencyManager, hub, geoResolver, groupsCfg)
	genaHandler := gena.NewHandler(genaSubs, topology, transportState, coord)
	artwork := newArtworkCache(cfg.ArtworkURL)

	mux := http.NewServeMux()
	mux.Handle("/stream/", streamHandler)
	mux.Handle("/ws", wsServer)
	mux.Handle("/sonos/gena", genaHandler)
	mux.HandleFunc("/artwork.jpg", artwork.ServeHTTP)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		netutil.ServerResponse(w, http.StatusOK, "ok", nil)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if port == "" || localIP == nil {
			netutil.ServerResponse(w, http.StatusServiceUnavailable, "not ready", nil)
			return
		}
		netutil.ServerResponse(w, http.StatusOK, "ready", map[string]string{"ip": localIP.String(), "port": port})
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("lan_ip", localIP.String()).Msg("sonos-caster listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
	}
}

// listenPort extracts the numeric port from a ":8000" or "0.0.0.0:8000"
// style listen address, for building speaker-facing stream URLs.
func listenPort(addr string) string {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return ""
	}
	return addr[idx+1:]
}

// artworkCache fetches the configured artwork URL once and serves the
// cached bytes on every subsequent request, so DIDL-Lite's albumArtURI
// reference resolves quickly and doesn't hammer an upstream image host
// per speaker per track change.
type artworkCache struct {
	sourceURL string

	mu          sync.Mutex
	fetched     bool
	body        []byte
	contentType string
}

func newArtworkCache(sourceURL string) *artworkCache {
	return &artworkCache{sourceURL: sourceURL}
}

func (a *artworkCache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.sourceURL == "" {
		http.NotFound(w, r)
		return
	}
	a.mu.Lock()
	if !a.fetched {
		a.fetch()
	}
	body, contentType := a.body, a.contentType
	a.mu.Unlock()

	if body == nil {
		http.NotFound(w, r)
		return
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(body)
}

// fetch must be called with a.mu held.
func (a *artworkCache) fetch() {
	a.fetched = true
	resp, err := restyClient.R().SetDoNotParseResponse(true).Get(a.sourceURL)
	if err != nil {
		log.Warn().Err(err).Msg("artwork: fetch failed")
		return
	}
	defer resp.RawBody().Close()
	if resp.StatusCode() != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode()).Msg("artwork: non-200 fetching artwork")
		return
	}
	body, err := io.ReadAll(io.LimitReader(resp.RawBody(), 8<<20))
	if err != nil {
		log.Warn().Err(err).Msg("artwork: reading body failed")
		return
	}
	a.body = body
	a.contentType = resp.Header().Get("Content-Type")
}
