package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"nimbus/internal/domain"
)

// busStats aggregates agent lifecycle events from the event bus into
// per-type counters for the stats endpoint.
type busStats struct {
	mu      sync.Mutex
	started time.Time
	counts  map[domain.EventType]uint64
	lastAt  time.Time
}

func newBusStats() *busStats {
	return &busStats{
		started: time.Now(),
		counts:  make(map[domain.EventType]uint64),
	}
}

// record is the bus handler; it runs on the bus's dispatch goroutines.
func (s *busStats) record(_ context.Context, event domain.Event) {
	s.mu.Lock()
	s.counts[event.Type]++
	if event.Timestamp.After(s.lastAt) {
		s.lastAt = event.Timestamp
	}
	s.mu.Unlock()
}

func (s *busStats) snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make(map[string]uint64, len(s.counts))
	for eventType, n := range s.counts {
		events[string(eventType)] = n
	}
	out := map[string]any{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"events":         events,
	}
	if !s.lastAt.IsZero() {
		out["last_event_at"] = s.lastAt
	}
	return out
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.snapshot())
}
