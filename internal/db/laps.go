package db

import (
	"context"
	"fmt"
	"time"

	"lapboard/internal/laps"
	"lapboard/internal/leaderboard"
)

var _ laps.Store = (*DB)(nil)

func (d *DB) RecordLap(ctx context.Context, lap laps.Lap) error {
	if err := lap.Validate(); err != nil {
		return err
	}
	recordedAt := lap.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO laps (mission_id, pilot, lap_time_sec, recorded_at)
		VALUES ($1, $2, $3, $4)
	`, lap.MissionID, lap.Pilot, lap.LapTimeSeconds, recordedAt)
	if err != nil {
		return fmt.Errorf("recording lap: %w", err)
	}
	return nil
}

// BestLaps returns each pilot's fastest lap on a mission. Equal times are
// ordered by each pilot's first recorded lap.
func (d *DB) BestLaps(ctx context.Context, missionID string) ([]leaderboard.Entry, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT pilot, MIN(lap_time_sec) AS best, MIN(recorded_at) AS first_seen
		FROM laps
		WHERE mission_id = $1
		GROUP BY pilot
		ORDER BY best ASC, first_seen ASC
	`, missionID)
	if err != nil {
		return nil, fmt.Errorf("querying best laps: %w", err)
	}
	defer rows.Close()

	entries := []leaderboard.Entry{}
	for rows.Next() {
		var e leaderboard.Entry
		var firstSeen time.Time
		if err := rows.Scan(&e.Pilot, &e.FastestLapTimeSeconds, &firstSeen); err != nil {
			return nil, fmt.Errorf("scanning best lap: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating best laps: %w", err)
	}
	return entries, nil
}
