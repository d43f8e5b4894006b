package config

import (
	"os"
	"strconv"
	"sync/atomic"
)

// Config is the environment-driven, overridable layer on top of the
// fixed Constants. Grounded on the teacher's LoadConfig shape (plain
// os.Getenv reads with defaults), extended with every constant
// spec.md §6 names as recognized options.
type Config struct {
	ListenAddr     string
	AppName        string
	ArtworkURL     string
	GroupsFilePath string

	MaxConcurrentStreams  int
	StreamBufferFrames    int
	StreamChannelCapacity int
	HTTPPrefillDelayMs    int

	GeoIPDBPath  string
	GeoIPSalt    string
	GeoIPEnabled bool

	EventsIngestURL string
	EventsAPIKey    string

	ConsumerAnalyticsIngestURL string
	ConsumerAnalyticsAPIKey    string

	LogLevel  string
	LogPretty bool

	SonosPort              int
	TopologyRefreshDelayMs int
	SoapTimeoutMs          int

	VideoSyncEnabled    bool
	LatencyPollMs       int
	LatencyEMAAlpha     float64
	LatencyMinSamples   int
	LatencyEmitEveryMs  int

	PriorityPoolWorkers int
}

// current holds the most recently loaded Config, so packages that can't
// take a constructor argument without reworking their call sites (the
// HTTP handler's per-request hot path) can still read shared settings.
// Set once by LoadConfig at startup.
var current atomic.Pointer[Config]

func LoadConfig() *Config {
	cfg := &Config{
		ListenAddr: getEnv("LISTEN_ADDRESS", ":8000"),
		AppName:    getEnv("APP_NAME", "SonosCaster"),
		ArtworkURL: getEnv("ARTWORK_URL", ""),
		GroupsFilePath: getEnv("GROUPS_FILE_PATH", "./config/groups.yaml"),

		MaxConcurrentStreams:  getEnvInt("MAX_CONCURRENT_STREAMS", 16),
		StreamBufferFrames:    getEnvInt("STREAM_BUFFER_FRAMES", 64),
		StreamChannelCapacity: getEnvInt("STREAM_CHANNEL_CAPACITY", 64),
		HTTPPrefillDelayMs:    getEnvInt("HTTP_PREFILL_DELAY_MS", 50),

		GeoIPDBPath:  getEnv("GEOIP_DB_PATH", "./GeoLite2-City.mmdb"),
		GeoIPSalt:    getEnv("GEOIP_SALT", "sonos-caster"),
		GeoIPEnabled: getEnvBool("GEOIP_ENABLED", false),

		EventsIngestURL: getEnv("EVENTS_INGEST_URL", ""),
		EventsAPIKey:    getEnv("EVENTS_API_KEY", ""),

		ConsumerAnalyticsIngestURL: getEnv("CONSUMER_ANALYTICS_INGEST_URL", ""),
		ConsumerAnalyticsAPIKey:    getEnv("CONSUMER_ANALYTICS_API_KEY", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", true),

		SonosPort:              getEnvInt("SONOS_PORT", 1400),
		TopologyRefreshDelayMs: getEnvInt("TOPOLOGY_REFRESH_DELAY_MS", 500),
		SoapTimeoutMs:          getEnvInt("SOAP_TIMEOUT_MS", 5000),

		VideoSyncEnabled:   getEnvBool("VIDEO_SYNC_ENABLED", false),
		LatencyPollMs:      getEnvInt("LATENCY_POLL_MS", 500),
		LatencyEMAAlpha:    getEnvFloat("LATENCY_EMA_ALPHA", 0.3),
		LatencyMinSamples:  getEnvInt("LATENCY_MIN_SAMPLES", 5),
		LatencyEmitEveryMs: getEnvInt("LATENCY_EMIT_EVERY_MS", 1000),

		PriorityPoolWorkers: getEnvInt("PRIORITY_POOL_WORKERS", 2),
	}
	current.Store(cfg)
	return cfg
}

// DefaultConfig returns the most recently loaded Config, loading one from
// the environment on first use if main hasn't called LoadConfig yet (unit
// tests that exercise a single package in isolation).
func DefaultConfig() *Config {
	if c := current.Load(); c != nil {
		return c
	}
	return LoadConfig()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
