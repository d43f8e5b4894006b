package config

// Constants are the fixed parameters governing stream capacity, cadence
// timing, and protocol framing. They are compile-time values: LoadConfig
// does not read them, and no environment variable overrides them.
const (
	DefaultSampleRate = 48000
	DefaultChannels   = 2

	CrossfadeMs              = 2
	DeliveryGapThresholdMs    = 100
	DeliveryGapLogThresholdMs = 500

	SilenceFrameDurationMs = 20
	MinFrameDurationMs     = 5
	MaxFrameDurationMs     = 100

	DefaultStreamingBufferMs = 200
	MinStreamingBufferMs     = 100
	MaxStreamingBufferMs     = 1000

	// WavStreamSizeMax is the declared content-length ceiling for PCM/WAV
	// responses: the largest payload a RIFF header's 32-bit size fields can
	// describe. Sonos treats the stream as a (very long) file and never
	// reaches the end.
	WavStreamSizeMax uint32 = 1<<32 - 1

	ICYMetaint = 8192

	WSHeartbeatCheckIntervalSecs = 10
	WSHeartbeatTimeoutSecs       = 30

	MaxGENABodySize = 1 << 20

	ConsumerFlushIntervalSecs = 30

	// MaxTrackedConsumers bounds consumers.Store: a long-running server
	// accumulates disconnected consumers between analytics flushes, and
	// this caps that growth by evicting the least recently touched entry.
	MaxTrackedConsumers = 50000
)
