package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"lapboard/internal/broadcast"
	"lapboard/internal/config"
	"lapboard/internal/db"
	"lapboard/internal/laps"
	"lapboard/internal/natsbus"
	"lapboard/internal/utility"

	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, appCfg config.Config) error {
	var store laps.Store = laps.NewMemoryStore(nil)
	var database *db.DB

	// Optional database connection
	if appCfg.DatabaseURL != "" {
		conn, err := db.Connect(appCfg.DatabaseURL)
		if err != nil {
			log.Error().Err(err).Str("component", "db").Msg("failed to connect, running with in-memory store")
		} else {
			defer conn.Close()
			if err := conn.Migrate(); err != nil {
				log.Error().Err(err).Str("component", "db").Msg("migration failed")
			}
			database = conn
			store = conn
		}
	} else {
		log.Info().Str("component", "db").Msg("DATABASE_URL not set, running with in-memory store")
	}

	var sinks []broadcast.Sink
	if appCfg.NATSURL != "" {
		natsCfg := natsbus.DefaultConfig()
		natsCfg.URL = appCfg.NATSURL
		nc, err := natsbus.Connect(natsCfg)
		if err != nil {
			log.Error().Err(err).Str("component", "nats").Msg("NATS unavailable, score events stay local")
		} else {
			defer nc.Drain()
			sinks = append(sinks, natsbus.NewPublisher(nc))
			log.Info().Str("component", "nats").Str("url", nc.ConnectedUrl()).Msg("publishing score events to NATS")
		}
	}

	srv := NewServer(store, clockwork.NewRealClock(), utility.NewLimiters(appCfg.TelemetryRate, appCfg.TelemetryBurst), sinks...)
	srv.DB = database
	srv.AllowedOrigins = appCfg.AllowedOrigins

	ln, err := net.Listen("tcp", "0.0.0.0:"+appCfg.Port)
	if err != nil {
		return fmt.Errorf("listen on port %s: %w", appCfg.Port, err)
	}
	log.Info().Str("port", appCfg.Port).Msgf("server listening on http://localhost:%s", appCfg.Port)
	return srv.Serve(ctx, ln)
}

// Serve handles requests on ln until ctx is cancelled. Request contexts
// derive from ctx, so streaming handlers end with it. Once every handler
// has returned the event bus is closed and drained.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	s.Bus.Close()
	select {
	case <-s.Broadcaster.Done():
	case <-shutdownCtx.Done():
		log.Warn().Msg("event broadcaster did not drain before shutdown deadline")
	}
	return nil
}

// Handler returns the routed service with CORS and cleartext HTTP/2.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /telemetry", s.handleTelemetry)
	mux.HandleFunc("GET /api/missions/{id}/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /ws/missions/{id}", s.handleMissionSocket)
	mux.HandleFunc("GET /events/missions/{id}", s.handleMissionEvents)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.Metrics.Handler())

	c := cors.New(cors.Options{
		AllowedOrigins: s.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}
