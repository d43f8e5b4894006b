package audio

import "sync"

// silenceCache is a process-global cache of zero-filled silence frames
// keyed by byte length. It is grow-only but bounded in practice by the
// finite set of (sample_rate, channels, bits, frame_duration_ms)
// combinations a deployment actually uses. Inserts are double-checked
// under the write lock so concurrent misses for the same length don't
// race to allocate duplicate buffers.
var silenceCache = struct {
	mu    sync.RWMutex
	byLen map[int][]byte
}{byLen: make(map[int][]byte)}

// SilenceFrame returns a cached all-zero frame of the given byte length,
// allocating and caching it on first use. The returned slice must not be
// mutated by callers — it is shared.
func SilenceFrame(length int) []byte {
	silenceCache.mu.RLock()
	if f, ok := silenceCache.byLen[length]; ok {
		silenceCache.mu.RUnlock()
		return f
	}
	silenceCache.mu.RUnlock()

	silenceCache.mu.Lock()
	defer silenceCache.mu.Unlock()
	if f, ok := silenceCache.byLen[length]; ok {
		return f
	}
	f := make([]byte, length)
	silenceCache.byLen[length] = f
	return f
}
