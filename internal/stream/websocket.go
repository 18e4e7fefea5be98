package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"lapboard/internal/events"
	"lapboard/internal/leaderboard"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocket subscribes to a mission channel served at /ws/missions/{id}.
// Each Subscribe dials its own connection.
type WebSocket struct {
	BaseURL    string
	HTTPClient *http.Client
}

var _ leaderboard.EventStream = (*WebSocket)(nil)

// MissionURL turns an http(s) base URL into the mission's ws(s) endpoint.
func MissionURL(baseURL, missionID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws/missions/" + url.PathEscape(missionID)
	return u.String(), nil
}

func (w *WebSocket) Subscribe(ctx context.Context, missionID string) (leaderboard.Subscription, error) {
	target, err := MissionURL(w.BaseURL, missionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", leaderboard.ErrStreamUnavailable, err)
	}

	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPClient: w.HTTPClient})
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", leaderboard.ErrStreamUnavailable, target, err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	sub := &wsSubscription{
		missionID: missionID,
		conn:      conn,
		events:    make(chan leaderboard.Entry),
		cancel:    cancel,
	}
	go sub.readLoop(readCtx)

	log.Debug().Str("component", "stream").Str("mission", missionID).Str("url", target).Msg("websocket subscribed")
	return sub, nil
}

type wsSubscription struct {
	missionID string
	conn      *websocket.Conn
	events    chan leaderboard.Entry
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *wsSubscription) Events() <-chan leaderboard.Entry {
	return s.events
}

// Close ends the read loop. The connection may already be gone when the
// subscribing context was cancelled, so close errors are only logged.
func (s *wsSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if err := s.conn.Close(websocket.StatusNormalClosure, ""); err != nil {
			log.Debug().Err(err).Str("component", "stream").Str("mission", s.missionID).Msg("websocket close")
		}
	})
	return nil
}

func (s *wsSubscription) readLoop(ctx context.Context) {
	defer close(s.events)
	defer s.cancel()

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("component", "stream").Str("mission", s.missionID).Msg("websocket read ended")
			}
			return
		}
		var ev events.ScoreEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn().Err(err).Str("component", "stream").Str("mission", s.missionID).Msg("malformed score event")
			continue
		}
		if ev.Type != events.TypeScoreUpdate || (ev.MissionID != "" && ev.MissionID != s.missionID) {
			continue
		}
		select {
		case s.events <- ev.Entry():
		case <-ctx.Done():
			return
		}
	}
}
