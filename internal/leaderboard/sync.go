package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// SnapshotReader returns the current leaderboard rows for a mission, in any order.
type SnapshotReader interface {
	FetchSnapshot(ctx context.Context, missionID string) ([]Entry, error)
}

// EventStream opens a mission channel delivering score events.
type EventStream interface {
	Subscribe(ctx context.Context, missionID string) (Subscription, error)
}

// Subscription is an open mission channel. Events is closed when the
// channel disconnects or after Close.
type Subscription interface {
	Events() <-chan Entry
	Close() error
}

type State string

const (
	StateIdle    = State("idle")
	StateLoading = State("loading")
	StateReady   = State("ready")
	StateLive    = State("live")
	StateClosed  = State("closed")
)

// View is an immutable picture of a Sync at one point in time.
type View struct {
	MissionID   string
	State       State
	Entries     []Entry
	SnapshotErr error
	StreamErr   error
}

// Err returns the first recorded error, if any.
func (v View) Err() error {
	if v.SnapshotErr != nil {
		return v.SnapshotErr
	}
	return v.StreamErr
}

type Option func(*Sync)

// WithOnChange registers fn to receive every change, synchronously and in
// order. fn must not block for long. It may call View but not Close.
func WithOnChange(fn func(View)) Option {
	return func(s *Sync) {
		s.onChange = fn
	}
}

// Sync keeps a live ranked view of one mission's lap times.
type Sync struct {
	missionID string
	reader    SnapshotReader
	stream    EventStream
	onChange  func(View)

	// notifyMu keeps mutations and their notifications in the same order.
	notifyMu sync.Mutex

	mu              sync.Mutex
	board           *Board
	state           State
	snapshotDone    bool
	streamConnected bool
	snapshotErr     error
	streamErr       error
	closed          bool
	sub             Subscription

	cancel    context.CancelFunc
	stopAfter func() bool
	wg        sync.WaitGroup
}

// Open validates missionID, then fetches the snapshot and subscribes to the
// stream concurrently. Collaborator failures are recorded in the View and
// never returned. Cancelling ctx closes the Sync.
func Open(ctx context.Context, missionID string, reader SnapshotReader, stream EventStream, opts ...Option) (*Sync, error) {
	if err := ValidateMissionID(missionID); err != nil {
		return nil, err
	}
	if reader == nil || stream == nil {
		return nil, errors.New("leaderboard: snapshot reader and event stream are required")
	}

	s := &Sync{
		missionID: missionID,
		reader:    reader,
		stream:    stream,
		board:     NewBoard(),
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stopAfter = context.AfterFunc(ctx, func() { s.Close() })

	s.update(func() bool {
		if s.closed {
			return false
		}
		s.state = StateLoading
		return true
	})

	s.wg.Add(2)
	go s.loadSnapshot(runCtx)
	go s.consume(runCtx)

	return s, nil
}

// View returns the current state of the leaderboard.
func (s *Sync) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Close stops the stream and drops any event that has not been applied yet.
// It is safe to call more than once.
func (s *Sync) Close() error {
	var sub Subscription
	changed := s.update(func() bool {
		if s.closed {
			return false
		}
		s.closed = true
		s.state = StateClosed
		sub = s.sub
		s.sub = nil
		return true
	})
	if !changed {
		return nil
	}

	s.cancel()
	if s.stopAfter != nil {
		s.stopAfter()
	}

	log.Debug().Str("component", "leaderboard").Str("mission", s.missionID).Msg("sync closed")

	if sub != nil {
		return sub.Close()
	}
	return nil
}

// Wait blocks until the snapshot and stream goroutines have exited.
func (s *Sync) Wait() {
	s.wg.Wait()
}

func (s *Sync) loadSnapshot(ctx context.Context) {
	defer s.wg.Done()

	entries, err := s.reader.FetchSnapshot(ctx, s.missionID)
	if err != nil && !errors.Is(err, ErrSnapshotUnavailable) {
		err = fmt.Errorf("%w: %w", ErrSnapshotUnavailable, err)
	}
	if err != nil {
		log.Warn().Err(err).Str("component", "leaderboard").Str("mission", s.missionID).Msg("snapshot failed")
	}

	s.update(func() bool {
		if s.closed {
			return false
		}
		s.snapshotDone = true
		if err != nil {
			s.snapshotErr = err
		} else {
			s.board.Merge(entries)
		}
		s.refreshStateLocked()
		return true
	})
}

func (s *Sync) consume(ctx context.Context) {
	defer s.wg.Done()

	sub, err := s.stream.Subscribe(ctx, s.missionID)
	if err != nil {
		if !errors.Is(err, ErrStreamUnavailable) {
			err = fmt.Errorf("%w: %w", ErrStreamUnavailable, err)
		}
		log.Warn().Err(err).Str("component", "leaderboard").Str("mission", s.missionID).Msg("subscribe failed")
		s.update(func() bool {
			if s.closed {
				return false
			}
			s.streamErr = err
			return true
		})
		return
	}

	attached := s.update(func() bool {
		if s.closed {
			return false
		}
		s.sub = sub
		s.streamConnected = true
		s.refreshStateLocked()
		return true
	})
	if !attached {
		// Closed while the subscription was being established.
		sub.Close()
		return
	}

	for e := range sub.Events() {
		s.update(func() bool {
			if s.closed {
				return false
			}
			return s.board.Apply(e)
		})
	}

	s.update(func() bool {
		if s.closed {
			return false
		}
		s.streamConnected = false
		s.streamErr = fmt.Errorf("%w: disconnected", ErrStreamUnavailable)
		s.refreshStateLocked()
		return true
	})
}

// update runs fn under the state lock and, when fn reports a change,
// notifies the change callback before any later mutation can run.
func (s *Sync) update(fn func() bool) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	changed := fn()
	v := s.viewLocked()
	s.mu.Unlock()

	if changed && s.onChange != nil {
		s.onChange(v)
	}
	return changed
}

func (s *Sync) refreshStateLocked() {
	switch {
	case s.closed:
		s.state = StateClosed
	case s.snapshotDone && s.streamConnected:
		s.state = StateLive
	case s.snapshotDone:
		s.state = StateReady
	default:
		s.state = StateLoading
	}
}

func (s *Sync) viewLocked() View {
	return View{
		MissionID:   s.missionID,
		State:       s.state,
		Entries:     s.board.Entries(),
		SnapshotErr: s.snapshotErr,
		StreamErr:   s.streamErr,
	}
}
