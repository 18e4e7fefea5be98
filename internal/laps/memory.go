package laps

import (
	"context"
	"sync"

	"lapboard/internal/leaderboard"

	"github.com/jonboulle/clockwork"
)

// MemoryStore keeps laps in process. It backs the service when no database
// is configured.
type MemoryStore struct {
	mu    sync.Mutex
	clock clockwork.Clock
	laps  map[string][]Lap
}

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock: clock,
		laps:  make(map[string][]Lap),
	}
}

func (s *MemoryStore) RecordLap(ctx context.Context, lap Lap) error {
	if err := lap.Validate(); err != nil {
		return err
	}
	if lap.RecordedAt.IsZero() {
		lap.RecordedAt = s.clock.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.laps[lap.MissionID] = append(s.laps[lap.MissionID], lap)
	return nil
}

func (s *MemoryStore) BestLaps(ctx context.Context, missionID string) ([]leaderboard.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return BestPerPilot(s.laps[missionID]), nil
}

// Laps returns every recorded lap of a mission in arrival order.
func (s *MemoryStore) Laps(missionID string) []Lap {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Lap, len(s.laps[missionID]))
	copy(out, s.laps[missionID])
	return out
}
