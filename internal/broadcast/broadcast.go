package broadcast

import (
	"sync"

	"lapboard/internal/events"
	"lapboard/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Sink receives every score event regardless of mission.
type Sink interface {
	Publish(ev events.ScoreEvent) error
}

type Broadcaster struct {
	Mu      sync.Mutex
	Clients map[string]map[chan events.ScoreEvent]bool

	sinks   []Sink
	metrics *metrics.Metrics
	done    chan struct{}
}

// NewBroadcaster drains bus until it is closed, fanning each event out to the
// sinks and to the subscribers of the event's mission.
func NewBroadcaster(bus *events.Bus, m *metrics.Metrics, sinks ...Sink) *Broadcaster {
	b := &Broadcaster{
		Clients: make(map[string]map[chan events.ScoreEvent]bool),
		sinks:   sinks,
		metrics: m,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(b.done)
		for ev := range bus.Scores {
			b.Broadcast(ev)
		}
	}()
	return b
}

// Done is closed once the bus is closed and every queued event was broadcast.
func (b *Broadcaster) Done() <-chan struct{} {
	return b.done
}

func (b *Broadcaster) Subscribe(missionID string) chan events.ScoreEvent {
	ch := make(chan events.ScoreEvent, 10)
	b.Mu.Lock()
	if b.Clients[missionID] == nil {
		b.Clients[missionID] = make(map[chan events.ScoreEvent]bool)
	}
	b.Clients[missionID][ch] = true
	b.Mu.Unlock()
	return ch
}

func (b *Broadcaster) Unsubscribe(missionID string, ch chan events.ScoreEvent) {
	b.Mu.Lock()
	if subs, ok := b.Clients[missionID]; ok && subs[ch] {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(b.Clients, missionID)
		}
		close(ch)
	}
	b.Mu.Unlock()
}

func (b *Broadcaster) Broadcast(ev events.ScoreEvent) {
	for _, sink := range b.sinks {
		if err := sink.Publish(ev); err != nil {
			log.Error().Err(err).Str("component", "broadcast").Str("mission", ev.MissionID).Msg("sink publish failed")
		}
	}

	b.Mu.Lock()
	defer b.Mu.Unlock()
	for ch := range b.Clients[ev.MissionID] {
		select {
		case ch <- ev:
		default:
			// skip clients with full data channels
			b.metrics.DeliveryDropped("sse")
		}
	}
	b.metrics.EventBroadcast()
}
