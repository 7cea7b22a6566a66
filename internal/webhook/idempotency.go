package webhook

import (
	"sync"
	"time"
)

// seenEvents is a TTL set over webhook event ids. LINE delivers events
// at least once; replaying an event must not double-send replies or
// double-mutate linkage. The set is process-local, so a replay that
// lands on another instance after a restart slips through.
type seenEvents struct {
	mu  sync.Mutex
	ttl time.Duration
	ids map[string]time.Time
	now func() time.Time
}

func newSeenEvents(ttl time.Duration, now func() time.Time) *seenEvents {
	return &seenEvents{
		ttl: ttl,
		ids: make(map[string]time.Time),
		now: now,
	}
}

// observe records the id and reports whether it was already present.
// Ids without a value (provider omitted the field) are never deduped.
func (s *seenEvents) observe(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, expires := range s.ids {
		if expires.Before(now) {
			delete(s.ids, k)
		}
	}

	if _, ok := s.ids[id]; ok {
		return true
	}
	s.ids[id] = now.Add(s.ttl)
	return false
}
