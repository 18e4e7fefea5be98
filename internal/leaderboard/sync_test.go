package leaderboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const testMission = "8f14e45f-ceea-467a-9af0-3b1e6a3c0e2a"

// fakeReader returns its result once release is closed.
type fakeReader struct {
	release chan struct{}
	entries []Entry
	err     error
}

func newFakeReader(entries []Entry, err error) *fakeReader {
	return &fakeReader{release: make(chan struct{}), entries: entries, err: err}
}

func (r *fakeReader) FetchSnapshot(ctx context.Context, missionID string) ([]Entry, error) {
	select {
	case <-r.release:
		return r.entries, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeSubscription struct {
	events    chan Entry
	closeOnce sync.Once
	// keepOpen leaves events open on Close, like a transport that still
	// has deliveries in flight.
	keepOpen bool
}

func (s *fakeSubscription) Events() <-chan Entry { return s.events }

func (s *fakeSubscription) Close() error {
	if s.keepOpen {
		return nil
	}
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}

type fakeStream struct {
	err error
	sub *fakeSubscription
}

func newFakeStream() *fakeStream {
	return &fakeStream{sub: &fakeSubscription{events: make(chan Entry)}}
}

func (f *fakeStream) Subscribe(ctx context.Context, missionID string) (Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sub, nil
}

// recorder collects views delivered to the change callback.
type recorder struct {
	mu    sync.Mutex
	views []View
	ch    chan View
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan View, 100)}
}

func (r *recorder) onChange(v View) {
	r.mu.Lock()
	r.views = append(r.views, v)
	r.mu.Unlock()
	r.ch <- v
}

// waitFor blocks until a delivered view satisfies cond.
func (r *recorder) waitFor(t *testing.T, cond func(View) bool) View {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case v := <-r.ch:
			if cond(v) {
				return v
			}
		case <-timeout:
			t.Fatal("timed out waiting for leaderboard change")
			return View{}
		}
	}
}

func hasPilot(pilot string) func(View) bool {
	return func(v View) bool {
		for _, e := range v.Entries {
			if e.Pilot == pilot {
				return true
			}
		}
		return false
	}
}

func inState(state State) func(View) bool {
	return func(v View) bool { return v.State == state }
}

func TestOpen_InvalidMissionID(t *testing.T) {
	for _, id := range []string{"", "not-a-mission", "zz14e45fceea467a9af03b1e"} {
		_, err := Open(context.Background(), id, newFakeReader(nil, nil), newFakeStream())
		if !errors.Is(err, ErrInvalidMissionID) {
			t.Errorf("Open(%q) error = %v, want ErrInvalidMissionID", id, err)
		}
	}
}

func TestSync_SnapshotThenFasterEvent(t *testing.T) {
	reader := newFakeReader([]Entry{
		{Pilot: "B", FastestLapTimeSeconds: 42},
		{Pilot: "A", FastestLapTimeSeconds: 40},
	}, nil)
	stream := newFakeStream()
	rec := newRecorder()

	s, err := Open(context.Background(), testMission, reader, stream, WithOnChange(rec.onChange))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	close(reader.release)
	rec.waitFor(t, func(v View) bool { return v.State == StateLive && len(v.Entries) == 2 })

	stream.sub.events <- Entry{Pilot: "A", FastestLapTimeSeconds: 38.5}
	v := rec.waitFor(t, func(v View) bool { return len(v.Entries) > 0 && v.Entries[0].FastestLapTimeSeconds == 38.5 })

	assertEntries(t, v.Entries, []Entry{
		{Pilot: "A", FastestLapTimeSeconds: 38.5},
		{Pilot: "B", FastestLapTimeSeconds: 42},
	})
}

func TestSync_EventBeforeSnapshot(t *testing.T) {
	reader := newFakeReader([]Entry{{Pilot: "A", FastestLapTimeSeconds: 40}}, nil)
	stream := newFakeStream()
	rec := newRecorder()

	s, err := Open(context.Background(), testMission, reader, stream, WithOnChange(rec.onChange))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	stream.sub.events <- Entry{Pilot: "C", FastestLapTimeSeconds: 50}
	rec.waitFor(t, hasPilot("C"))

	close(reader.release)
	v := rec.waitFor(t, hasPilot("A"))

	assertEntries(t, v.Entries, []Entry{
		{Pilot: "A", FastestLapTimeSeconds: 40},
		{Pilot: "C", FastestLapTimeSeconds: 50},
	})
}

func TestSync_SnapshotDoesNotEraseFasterStreamedTime(t *testing.T) {
	reader := newFakeReader([]Entry{{Pilot: "A", FastestLapTimeSeconds: 40}}, nil)
	stream := newFakeStream()
	rec := newRecorder()

	s, err := Open(context.Background(), testMission, reader, stream, WithOnChange(rec.onChange))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	stream.sub.events <- Entry{Pilot: "A", FastestLapTimeSeconds: 36}
	rec.waitFor(t, hasPilot("A"))
	close(reader.release)
	rec.waitFor(t, inState(StateLive))

	assertEntries(t, s.View().Entries, []Entry{{Pilot: "A", FastestLapTimeSeconds: 36}})
}

func TestSync_SlowerEventIgnored(t *testing.T) {
	reader := newFakeReader([]Entry{{Pilot: "A", FastestLapTimeSeconds: 40}}, nil)
	close(reader.release)
	stream := newFakeStream()
	rec := newRecorder()

	s, err := Open(context.Background(), testMission, reader, stream, WithOnChange(rec.onChange))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	rec.waitFor(t, inState(StateLive))
	stream.sub.events <- Entry{Pilot: "A", FastestLapTimeSeconds: 45}
	// A marker event proves the slower one was processed first.
	stream.sub.events <- Entry{Pilot: "Z", FastestLapTimeSeconds: 99}
	v := rec.waitFor(t, hasPilot("Z"))

	assertEntries(t, v.Entries, []Entry{
		{Pilot: "A", FastestLapTimeSeconds: 40},
		{Pilot: "Z", FastestLapTimeSeconds: 99},
	})
}

func TestSync_SnapshotFailureKeepsStreaming(t *testing.T) {
	reader := newFakeReader(nil, errors.New("boom"))
	close(reader.release)
	stream := newFakeStream()
	rec := newRecorder()

	s, err := Open(context.Background(), testMission, reader, stream, WithOnChange(rec.onChange))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	v := rec.waitFor(t, func(v View) bool { return v.SnapshotErr != nil })
	if !errors.Is(v.SnapshotErr, ErrSnapshotUnavailable) {
		t.Errorf("SnapshotErr = %v, want ErrSnapshotUnavailable", v.SnapshotErr)
	}
	if len(v.Entries) != 0 {
		t.Errorf("entries = %+v, want empty", v.Entries)
	}

	stream.sub.events <- Entry{Pilot: "D", FastestLapTimeSeconds: 33}
	v = rec.waitFor(t, hasPilot("D"))
	if !errors.Is(v.Err(), ErrSnapshotUnavailable) {
		t.Errorf("Err() = %v, want snapshot error to persist", v.Err())
	}
}

func TestSync_StreamFailureKeepsSnapshot(t *testing.T) {
	reader := newFakeReader([]Entry{{Pilot: "A", FastestLapTimeSeconds: 40}}, nil)
	close(reader.release)
	stream := &fakeStream{err: errors.New("dial refused")}
	rec := newRecorder()

	s, err := Open(context.Background(), testMission, reader, stream, WithOnChange(rec.onChange))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	v := rec.waitFor(t, func(v View) bool { return v.StreamErr != nil && hasPilot("A")(v) })
	if !errors.Is(v.StreamErr, ErrStreamUnavailable) {
		t.Errorf("StreamErr = %v, want ErrStreamUnavailable", v.StreamErr)
	}
	if v.State != StateReady {
		t.Errorf("State = %q, want %q", v.State, StateReady)
	}
}

func TestSync_DisconnectKeepsEntries(t *testing.T) {
	reader := newFakeReader([]Entry{{Pilot: "A", FastestLapTimeSeconds: 40}}, nil)
	close(reader.release)
	stream := newFakeStream()
	rec := newRecorder()

	s, err := Open(context.Background(), testMission, reader, stream, WithOnChange(rec.onChange))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	rec.waitFor(t, func(v View) bool { return v.State == StateLive && len(v.Entries) == 1 })
	stream.sub.Close()

	v := rec.waitFor(t, func(v View) bool { return v.StreamErr != nil })
	if v.State != StateReady {
		t.Errorf("State = %q, want %q", v.State, StateReady)
	}
	assertEntries(t, v.Entries, []Entry{{Pilot: "A", FastestLapTimeSeconds: 40}})
}

func TestSync_CloseDropsLateEvents(t *testing.T) {
	reader := newFakeReader(nil, nil)
	close(reader.release)
	stream := newFakeStream()
	stream.sub.events = make(chan Entry, 1)
	stream.sub.keepOpen = true
	rec := newRecorder()

	s, err := Open(context.Background(), testMission, reader, stream, WithOnChange(rec.onChange))
	if err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, inState(StateLive))

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	stream.sub.events <- Entry{Pilot: "D", FastestLapTimeSeconds: 10}
	close(stream.sub.events)
	s.Wait()

	v := s.View()
	if v.State != StateClosed {
		t.Errorf("State = %q, want %q", v.State, StateClosed)
	}
	if len(v.Entries) != 0 {
		t.Errorf("entries = %+v, want late event dropped", v.Entries)
	}
}

func TestSync_CloseIsIdempotent(t *testing.T) {
	reader := newFakeReader(nil, nil)
	stream := newFakeStream()

	s, err := Open(context.Background(), testMission, reader, stream)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Close(); err != nil {
			t.Fatalf("Close() #%d error: %v", i+1, err)
		}
	}
	s.Wait()
}

func TestSync_ContextCancelCloses(t *testing.T) {
	reader := newFakeReader(nil, nil)
	stream := newFakeStream()
	rec := newRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	s, err := Open(ctx, testMission, reader, stream, WithOnChange(rec.onChange))
	if err != nil {
		t.Fatal(err)
	}

	cancel()
	rec.waitFor(t, inState(StateClosed))
	s.Wait()
}

func TestSync_NotificationsAreOrdered(t *testing.T) {
	reader := newFakeReader(nil, nil)
	close(reader.release)
	stream := newFakeStream()
	rec := newRecorder()

	s, err := Open(context.Background(), testMission, reader, stream, WithOnChange(rec.onChange))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	rec.waitFor(t, inState(StateLive))

	for i, p := range []string{"A", "B", "C", "D"} {
		stream.sub.events <- Entry{Pilot: p, FastestLapTimeSeconds: float64(50 - i)}
	}
	rec.waitFor(t, hasPilot("D"))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	last := 0
	for _, v := range rec.views {
		if len(v.Entries) < last {
			t.Fatalf("views went backwards: %d entries after %d", len(v.Entries), last)
		}
		last = len(v.Entries)
	}
}
