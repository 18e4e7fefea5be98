package stream

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"lapboard/internal/events"
	"lapboard/internal/leaderboard"
	"lapboard/internal/natsbus"
)

func TestNATS_NotConnected(t *testing.T) {
	_, err := (&NATS{}).Subscribe(context.Background(), testMission)
	if !errors.Is(err, leaderboard.ErrStreamUnavailable) {
		t.Fatalf("error = %v, want ErrStreamUnavailable", err)
	}
}

func TestNATS_RoundTrip(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}
	cfg := natsbus.DefaultConfig()
	cfg.URL = url
	nc, err := natsbus.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := (&NATS{Conn: nc}).Subscribe(ctx, testMission)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	pub := natsbus.NewPublisher(nc)
	if err := pub.Publish(events.NewScoreEvent(testMission, "A", 40, time.Now())); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case e := <-sub.Events():
		if e.Pilot != "A" || e.FastestLapTimeSeconds != 40 {
			t.Errorf("entry = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("expected closed channel after context cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after cancel")
	}
}
