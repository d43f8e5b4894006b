package session

import "sync"

// Store is concurrency-safe indexed storage for playback sessions:
// O(1) lookup by composite (stream, speaker) key and by speaker IP alone
// via a secondary index. Grounded on the original source's
// PlaybackSessionStore (DashMap primary + secondary index); this module
// uses a single RWMutex over two plain maps instead, matching the
// teacher's listeners.Store concurrency idiom.
type Store struct {
	mu       sync.RWMutex
	sessions map[Key]*Session
	ipIndex  map[string]Key
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[Key]*Session),
		ipIndex:  make(map[string]Key),
	}
}

// Insert adds or replaces a session, maintaining the IP index, and
// returns the previous session at that key if one existed.
func (s *Store) Insert(sess *Session) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Key{StreamID: sess.StreamID, SpeakerIP: sess.SpeakerIP}
	prev := s.sessions[key]
	s.sessions[key] = sess
	s.ipIndex[sess.SpeakerIP] = key
	return prev
}

// Remove deletes the session at (streamID, speakerIP). It only clears
// the IP index entry if that entry still points at this exact key — a
// newer session for the same speaker under a different stream must never
// have its index entry clobbered by a late removal of an older one.
func (s *Store) Remove(streamID, speakerIP string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Key{StreamID: streamID, SpeakerIP: speakerIP}
	sess, ok := s.sessions[key]
	if !ok {
		return nil
	}
	delete(s.sessions, key)
	if cur, ok := s.ipIndex[speakerIP]; ok && cur == key {
		delete(s.ipIndex, speakerIP)
	}
	return sess
}

func (s *Store) Get(streamID, speakerIP string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[Key{StreamID: streamID, SpeakerIP: speakerIP}]
	return sess, ok
}

// GetBySpeakerIP looks up the session currently associated with a
// speaker, regardless of which stream it belongs to, via the secondary
// index.
func (s *Store) GetBySpeakerIP(speakerIP string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.ipIndex[speakerIP]
	if !ok {
		return nil, false
	}
	sess, ok := s.sessions[key]
	return sess, ok
}

func (s *Store) GetAllForStream(streamID string) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Session
	for k, sess := range s.sessions {
		if k.StreamID == streamID {
			out = append(out, sess)
		}
	}
	return out
}

func (s *Store) GetIPsForStream(streamID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.sessions {
		if k.StreamID == streamID {
			out = append(out, k.SpeakerIP)
		}
	}
	return out
}

// RemoveAllForStream removes every session belonging to a stream,
// returning the removed sessions.
func (s *Store) RemoveAllForStream(streamID string) []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []*Session
	for k, sess := range s.sessions {
		if k.StreamID != streamID {
			continue
		}
		delete(s.sessions, k)
		if cur, ok := s.ipIndex[k.SpeakerIP]; ok && cur == k {
			delete(s.ipIndex, k.SpeakerIP)
		}
		removed = append(removed, sess)
	}
	return removed
}

func (s *Store) HasSessionsForStream(streamID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k := range s.sessions {
		if k.StreamID == streamID {
			return true
		}
	}
	return false
}

// IsInSyncSession reports whether speakerIP's current stream has any
// slave sessions: true if it's in a synced group, false if it's the sole
// session for its stream, and ok=false if the speaker has no session.
func (s *Store) IsInSyncSession(speakerIP string) (hasSlaves bool, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, exists := s.ipIndex[speakerIP]
	if !exists {
		return false, false
	}
	for k, sess := range s.sessions {
		if k.StreamID == key.StreamID && sess.Role == RoleSlave {
			return true, true
		}
	}
	return false, true
}

// GetSlavesForCoordinator returns every slave session joined to
// coordinatorIP for streamID.
func (s *Store) GetSlavesForCoordinator(streamID, coordinatorIP string) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Session
	for k, sess := range s.sessions {
		if k.StreamID == streamID && sess.Role == RoleSlave && sess.CoordinatorIP == coordinatorIP {
			out = append(out, sess)
		}
	}
	return out
}
