package events

import (
	"sync"
	"time"

	"lapboard/internal/leaderboard"
)

const TypeScoreUpdate = "score_update"

// ScoreEvent is a lap reported for a pilot on a mission. It is the payload of
// every stream transport (WebSocket, SSE, NATS).
//
// FastestLapTimeSeconds carries the lap just recorded, which may be slower
// than the pilot's best. Consumers keep the lower of the two, as
// leaderboard.Board does; the best lap per pilot is served by the
// leaderboard endpoint.
type ScoreEvent struct {
	Type                  string    `json:"type"`
	MissionID             string    `json:"mission"`
	Pilot                 string    `json:"pilot"`
	FastestLapTimeSeconds float64   `json:"fastest_lap_time_sec"`
	RecordedAt            time.Time `json:"recorded_at"`
}

func NewScoreEvent(missionID, pilot string, lapTimeSeconds float64, at time.Time) ScoreEvent {
	return ScoreEvent{
		Type:                  TypeScoreUpdate,
		MissionID:             missionID,
		Pilot:                 pilot,
		FastestLapTimeSeconds: lapTimeSeconds,
		RecordedAt:            at,
	}
}

func (e ScoreEvent) Entry() leaderboard.Entry {
	return leaderboard.Entry{Pilot: e.Pilot, FastestLapTimeSeconds: e.FastestLapTimeSeconds}
}

// Bus carries score events from ingestion to fan-out. Scores is closed by
// Close; producers go through Publish so a closed bus never panics.
type Bus struct {
	Scores chan ScoreEvent

	mu     sync.RWMutex
	closed bool
}

func NewBus() *Bus {
	return &Bus{
		Scores: make(chan ScoreEvent, 256),
	}
}

// Publish queues ev without blocking. It reports false when the bus is full
// or closed.
func (b *Bus) Publish(ev ScoreEvent) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.Scores <- ev:
		return true
	default:
		return false
	}
}

// Close stops the bus. Events already queued are still delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.Scores)
}
