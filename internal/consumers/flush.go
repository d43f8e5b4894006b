package consumers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ivugurura/sonos-caster/internal/analytics"
)

type bucketState struct {
	mu sync.Mutex
	// keyed by interval ("MINUTE","FIVE_MIN","HOUR") then bucket start
	data map[string]map[time.Time]*analytics.ConsumerBucket
}

func newBucketState() *bucketState {
	return &bucketState{
		data: map[string]map[time.Time]*analytics.ConsumerBucket{
			"MINUTE":   {},
			"FIVE_MIN": {},
			"HOUR":     {},
		},
	}
}

var bucketDefs = []struct {
	key string
	dur time.Duration
}{
	{"MINUTE", time.Minute},
	{"FIVE_MIN", 5 * time.Minute},
	{"HOUR", time.Hour},
}

func (b *bucketState) addSample(now time.Time, active int, countries map[string]int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, d := range bucketDefs {
		start := now.Truncate(d.dur).UTC()
		m := b.data[d.key]
		bkt, ok := m[start]
		if !ok {
			bkt = &analytics.ConsumerBucket{Interval: d.key, BucketStart: start, Countries: map[string]int{}}
			m[start] = bkt
		}
		if active > bkt.ActivePeak {
			bkt.ActivePeak = active
		}
		for c, n := range countries {
			bkt.Countries[c] += n
		}
	}
}

func (b *bucketState) accrueConsumerMinutes(delta time.Duration, active int) {
	if active <= 0 || delta <= 0 {
		return
	}
	minutes := int(delta.Minutes() + 0.5)
	if minutes <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.data {
		for _, bkt := range m {
			bkt.ConsumerMinutes += minutes * active
		}
	}
}

func (b *bucketState) drainReady(cutoff time.Time) []analytics.ConsumerBucket {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []analytics.ConsumerBucket
	for _, d := range bucketDefs {
		m := b.data[d.key]
		for start, bkt := range m {
			if !start.Add(d.dur).After(cutoff) {
				out = append(out, *bkt)
				delete(m, start)
			}
		}
	}
	return out
}

// StartFlushLoop launches a goroutine that periodically aggregates live
// consumer activity into rolled-up buckets and posts a batch to the
// configured analytics ingest endpoint. Grounded on the teacher's
// StartAnalytics: same ticker-driven flush and bucket-rollup shape,
// re-targeted from per-studio radio listeners to per-stream Sonos
// consumers. Does nothing if ingestURL is empty or flushEvery is not
// positive.
func StartFlushLoop(ctx context.Context, store *Store, streamID, ingestURL, apiKey string, flushEvery time.Duration) {
	if ingestURL == "" || flushEvery <= 0 {
		return
	}
	client := analytics.NewClient(ingestURL, apiKey)
	bk := newBucketState()

	go func() {
		ticker := time.NewTicker(flushEvery)
		defer ticker.Stop()

		last := time.Now().UTC()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			now := time.Now().UTC()
			active, countries, sessions := collect(store, streamID)
			bk.addSample(now, active, countries)
			bk.accrueConsumerMinutes(now.Sub(last), active)
			last = now

			batch := analytics.IngestBatch{
				StreamID: streamID,
				Sessions: sessions,
				Buckets:  bk.drainReady(now.Add(-time.Second)),
			}
			if err := client.SendBatch(ctx, batch); err != nil {
				log.Warn().Err(err).Str("stream_id", streamID).Msg("consumer analytics flush failed")
			}
		}
	}()
}

func collect(store *Store, streamID string) (active int, countries map[string]int, sessions []analytics.ConsumerSession) {
	countries = map[string]int{}
	for _, c := range store.ActiveByStream(streamID) {
		active++
		if c.Country != "" {
			countries[c.Country]++
		}
	}
	for _, c := range store.All() {
		if c.StreamID != streamID {
			continue
		}
		session := analytics.ConsumerSession{
			ID:         c.ID,
			StreamID:   c.StreamID,
			SpeakerIP:  c.RemoteIP.String(),
			StartedAt:  c.ConnectedAt,
			Country:    c.Country,
			Region:     c.Region,
			City:       c.City,
			TotalBytes: c.BytesSent.Load(),
		}
		if t := c.DisconnectedAt.Load(); t != nil {
			session.EndedAt = t
		}
		sessions = append(sessions, session)
	}
	return
}
