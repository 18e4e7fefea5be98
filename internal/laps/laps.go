package laps

import (
	"context"
	"errors"
	"time"

	"lapboard/internal/leaderboard"
)

var ErrInvalidLap = errors.New("invalid lap")

type Lap struct {
	MissionID      string
	Pilot          string
	LapTimeSeconds float64
	RecordedAt     time.Time
}

func (l Lap) Validate() error {
	if err := leaderboard.ValidateMissionID(l.MissionID); err != nil {
		return err
	}
	if !(leaderboard.Entry{Pilot: l.Pilot, FastestLapTimeSeconds: l.LapTimeSeconds}).Valid() {
		return ErrInvalidLap
	}
	return nil
}

// Store persists laps and answers best-lap-per-pilot queries.
type Store interface {
	RecordLap(ctx context.Context, lap Lap) error
	BestLaps(ctx context.Context, missionID string) ([]leaderboard.Entry, error)
}

// BestPerPilot reduces laps to one entry per pilot, fastest first.
func BestPerPilot(laps []Lap) []leaderboard.Entry {
	board := leaderboard.NewBoard()
	for _, l := range laps {
		board.Apply(leaderboard.Entry{Pilot: l.Pilot, FastestLapTimeSeconds: l.LapTimeSeconds})
	}
	entries := board.Entries()
	if entries == nil {
		return []leaderboard.Entry{}
	}
	return entries
}
