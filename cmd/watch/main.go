package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"lapboard/internal/config"
	"lapboard/internal/leaderboard"
	"lapboard/internal/logging"
	"lapboard/internal/natsbus"
	"lapboard/internal/snapshot"
	"lapboard/internal/stream"
	"lapboard/internal/utility"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
	cfg := config.Load()

	missionID := flag.String("mission", "", "mission id to follow")
	baseURL := flag.String("url", cfg.LapboardURL, "lapboard service URL")
	useNATS := flag.Bool("nats", false, "stream score events from NATS_URL instead of the WebSocket endpoint")
	flag.Parse()

	logging.Setup(cfg.LogLevel, true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var es leaderboard.EventStream = &stream.WebSocket{BaseURL: *baseURL}
	if *useNATS {
		natsCfg := natsbus.DefaultConfig()
		if cfg.NATSURL != "" {
			natsCfg.URL = cfg.NATSURL
		}
		natsCfg.Name = "lapboard-watch"
		nc, err := natsbus.Connect(natsCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("NATS connect failed")
		}
		defer nc.Close()
		es = &stream.NATS{Conn: nc}
	}

	lb, err := leaderboard.Open(ctx, *missionID, snapshot.NewHTTPReader(*baseURL), es,
		leaderboard.WithOnChange(func(v leaderboard.View) { render(os.Stdout, v) }),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	<-ctx.Done()
	lb.Close()
	lb.Wait()
}

func render(w io.Writer, v leaderboard.View) {
	fmt.Fprint(w, "\033[H\033[2J")
	fmt.Fprintf(w, "mission %s  [%s]\n\n", v.MissionID, v.State)
	if len(v.Entries) == 0 {
		fmt.Fprintln(w, "  no laps yet")
	}
	for i, e := range v.Entries {
		fmt.Fprintf(w, "%3d. %-24s %s\n", i+1, e.Pilot, utility.FormatLapTime(e.FastestLapTimeSeconds))
	}
	if v.SnapshotErr != nil {
		fmt.Fprintf(w, "\nsnapshot: %v\n", v.SnapshotErr)
	}
	if v.StreamErr != nil {
		fmt.Fprintf(w, "\nstream: %v\n", v.StreamErr)
	}
}
