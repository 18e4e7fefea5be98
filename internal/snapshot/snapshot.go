package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lapboard/internal/laps"
	"lapboard/internal/leaderboard"
)

// Row is one snapshot row as served over HTTP. Older producers send the raw
// lap_time_sec column instead of fastest_lap_time_sec.
type Row struct {
	Pilot                 string   `json:"pilot"`
	FastestLapTimeSeconds *float64 `json:"fastest_lap_time_sec,omitempty"`
	LapTimeSeconds        *float64 `json:"lap_time_sec,omitempty"`
}

func (r Row) Entry() leaderboard.Entry {
	e := leaderboard.Entry{Pilot: r.Pilot}
	switch {
	case r.FastestLapTimeSeconds != nil:
		e.FastestLapTimeSeconds = *r.FastestLapTimeSeconds
	case r.LapTimeSeconds != nil:
		e.FastestLapTimeSeconds = *r.LapTimeSeconds
	}
	return e
}

// HTTPReader fetches GET {BaseURL}/api/missions/{id}/leaderboard.
type HTTPReader struct {
	BaseURL string
	Client  *http.Client
}

var _ leaderboard.SnapshotReader = (*HTTPReader)(nil)

func NewHTTPReader(baseURL string) *HTTPReader {
	return &HTTPReader{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *HTTPReader) FetchSnapshot(ctx context.Context, missionID string) ([]leaderboard.Entry, error) {
	target := strings.TrimRight(r.BaseURL, "/") + "/api/missions/" + url.PathEscape(missionID) + "/leaderboard"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", leaderboard.ErrSnapshotUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", leaderboard.ErrSnapshotUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s: %s", leaderboard.ErrSnapshotUnavailable, resp.Status, strings.TrimSpace(string(body)))
	}

	var rows []Row
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", leaderboard.ErrSnapshotUnavailable, err)
	}

	entries := make([]leaderboard.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.Entry())
	}
	return entries, nil
}

// StoreReader reads the snapshot straight from a lap store.
type StoreReader struct {
	Store laps.Store
}

var _ leaderboard.SnapshotReader = StoreReader{}

func (r StoreReader) FetchSnapshot(ctx context.Context, missionID string) ([]leaderboard.Entry, error) {
	entries, err := r.Store.BestLaps(ctx, missionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", leaderboard.ErrSnapshotUnavailable, err)
	}
	return entries, nil
}
