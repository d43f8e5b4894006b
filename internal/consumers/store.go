package consumers

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ivugurura/sonos-caster/config"
)

// Store indexes live consumers both by ID and by owning stream, so the
// flush loop can answer "who is currently listening to stream X" without
// scanning every connection. byID is capacity-bounded: the HTTP stream
// handler marks its consumer disconnected when it returns but never
// removes it, so without a bound disconnected entries would accumulate
// forever; the least recently touched one is evicted once the store is
// full.
type Store struct {
	mu       sync.RWMutex
	byID     *lru.Cache[string, *Consumer]
	byStream map[string]map[string]*Consumer
}

func NewStore() *Store {
	s := &Store{byStream: make(map[string]map[string]*Consumer)}
	byID, err := lru.NewWithEvict[string, *Consumer](config.MaxTrackedConsumers, s.onEvict)
	if err != nil {
		// Only returned for a non-positive size, which is a programming
		// error against a compile-time constant.
		panic(err)
	}
	s.byID = byID
	return s
}

// onEvict keeps byStream consistent when the LRU cache drops an entry on
// its own. Called by byID while s.mu is already held by the triggering
// Add.
func (s *Store) onEvict(id string, c *Consumer) {
	if m := s.byStream[c.StreamID]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(s.byStream, c.StreamID)
		}
	}
}

func (s *Store) Add(c *Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID.Add(c.ID, c)
	if s.byStream[c.StreamID] == nil {
		s.byStream[c.StreamID] = make(map[string]*Consumer)
	}
	s.byStream[c.StreamID][c.ID] = c
}

func (s *Store) Remove(id string) *Consumer {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID.Peek(id)
	if !ok {
		return nil
	}
	s.byID.Remove(id)
	if m := s.byStream[c.StreamID]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(s.byStream, c.StreamID)
		}
	}
	return c
}

func (s *Store) Get(id string) (*Consumer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID.Get(id)
}

func (s *Store) ActiveByStream(streamID string) []*Consumer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Consumer
	for _, c := range s.byStream[streamID] {
		if c.IsActive() {
			out = append(out, c)
		}
	}
	return out
}

// All returns every tracked consumer, active or recently disconnected,
// for a periodic analytics flush.
func (s *Store) All() []*Consumer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.byID.Keys()
	out := make([]*Consumer, 0, len(keys))
	for _, k := range keys {
		if c, ok := s.byID.Peek(k); ok {
			out = append(out, c)
		}
	}
	return out
}
