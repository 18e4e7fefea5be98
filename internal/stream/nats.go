package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"lapboard/internal/events"
	"lapboard/internal/leaderboard"
	"lapboard/internal/natsbus"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATS subscribes to a mission's score subject on an existing connection.
type NATS struct {
	Conn *nats.Conn
}

var _ leaderboard.EventStream = (*NATS)(nil)

func (n *NATS) Subscribe(ctx context.Context, missionID string) (leaderboard.Subscription, error) {
	if n.Conn == nil || !n.Conn.IsConnected() {
		return nil, fmt.Errorf("%w: NATS not connected", leaderboard.ErrStreamUnavailable)
	}

	sub := &natsSubscription{
		missionID: missionID,
		events:    make(chan leaderboard.Entry, 64),
		done:      make(chan struct{}),
	}
	ns, err := n.Conn.Subscribe(natsbus.Subject(missionID), sub.handle)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %w", leaderboard.ErrStreamUnavailable, natsbus.Subject(missionID), err)
	}
	sub.sub = ns
	sub.mu.Lock()
	sub.stop = context.AfterFunc(ctx, func() { sub.Close() })
	sub.mu.Unlock()
	return sub, nil
}

type natsSubscription struct {
	missionID string
	sub       *nats.Subscription
	stop      func() bool

	// mu guards sends on events against its close, and stop.
	mu        sync.Mutex
	closed    bool
	events    chan leaderboard.Entry
	done      chan struct{}
	closeOnce sync.Once
}

func (s *natsSubscription) Events() <-chan leaderboard.Entry {
	return s.events
}

func (s *natsSubscription) handle(msg *nats.Msg) {
	var ev events.ScoreEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		log.Warn().Err(err).Str("component", "stream").Str("subject", msg.Subject).Msg("malformed score event")
		return
	}
	if ev.MissionID != "" && ev.MissionID != s.missionID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev.Entry():
	case <-s.done:
	}
}

func (s *natsSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.events)
		stop := s.stop
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		err = s.sub.Unsubscribe()
	})
	return err
}
