package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"lapboard/internal/broadcast"
	"lapboard/internal/db"
	"lapboard/internal/events"
	"lapboard/internal/laps"
	"lapboard/internal/leaderboard"
	"lapboard/internal/metrics"
	"lapboard/internal/utility"
	"lapboard/internal/wshub"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const maxTelemetryBody = 1 << 16

type Server struct {
	Store          laps.Store
	DB             *db.DB // nil if no database configured
	Bus            *events.Bus
	Broadcaster    *broadcast.Broadcaster
	Hub            *wshub.Hub
	Metrics        *metrics.Metrics
	Clock          clockwork.Clock
	Limiters       *utility.Limiters
	AllowedOrigins []string
}

// NewServer wires the bus, hub and broadcaster around store. Extra sinks
// receive every score event after the WebSocket hub.
func NewServer(store laps.Store, clock clockwork.Clock, limiters *utility.Limiters, sinks ...broadcast.Sink) *Server {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m := metrics.New()
	bus := events.NewBus()
	hub := wshub.NewHub(m)
	return &Server{
		Store:          store,
		Bus:            bus,
		Hub:            hub,
		Broadcaster:    broadcast.NewBroadcaster(bus, m, append([]broadcast.Sink{hub}, sinks...)...),
		Metrics:        m,
		Clock:          clock,
		Limiters:       limiters,
		AllowedOrigins: []string{"*"},
	}
}

type telemetryRequest struct {
	MissionID      string  `json:"mission"`
	Pilot          string  `json:"pilot"`
	LapTimeSeconds float64 `json:"lap_time_sec"`
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.Limiters != nil && !s.Limiters.Allow(clientKey(r)) {
		s.Metrics.LapRejected("rate_limited")
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	var req telemetryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTelemetryBody)).Decode(&req); err != nil {
		s.Metrics.LapRejected("malformed")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	lap := laps.Lap{
		MissionID:      req.MissionID,
		Pilot:          req.Pilot,
		LapTimeSeconds: req.LapTimeSeconds,
		RecordedAt:     s.Clock.Now(),
	}
	if err := lap.Validate(); err != nil {
		s.Metrics.LapRejected("invalid")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.Store.RecordLap(r.Context(), lap); err != nil {
		log.Error().Err(err).Str("component", "telemetry").Str("mission", lap.MissionID).Msg("record lap failed")
		writeError(w, http.StatusInternalServerError, "failed to record lap")
		return
	}
	s.Metrics.LapRecorded()

	log.Debug().
		Str("component", "telemetry").
		Str("mission", lap.MissionID).
		Str("pilot", lap.Pilot).
		Float64("lap_time_sec", lap.LapTimeSeconds).
		Msg("lap recorded")

	if !s.Bus.Publish(events.NewScoreEvent(lap.MissionID, lap.Pilot, lap.LapTimeSeconds, lap.RecordedAt)) {
		log.Warn().Str("component", "telemetry").Str("mission", lap.MissionID).Msg("event bus unavailable, dropping score event")
		s.Metrics.DeliveryDropped("bus")
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	missionID := r.PathValue("id")
	if err := leaderboard.ValidateMissionID(missionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.Store.BestLaps(r.Context(), missionID)
	if err != nil {
		log.Error().Err(err).Str("component", "leaderboard").Str("mission", missionID).Msg("best laps query failed")
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleMissionSocket(w http.ResponseWriter, r *http.Request) {
	missionID := r.PathValue("id")
	if err := leaderboard.ValidateMissionID(missionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		log.Warn().Err(err).Str("component", "ws").Str("mission", missionID).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	client := &wshub.Client{
		ID:        uuid.NewString(),
		MissionID: missionID,
		Conn:      conn,
		Send:      make(chan []byte, 32),
	}
	s.Hub.Register(client)
	defer s.Hub.Unregister(missionID, client.ID)

	log.Debug().Str("component", "ws").Str("mission", missionID).Str("client", client.ID).Msg("client connected")

	// Clients never send; CloseRead cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	client.WritePump(ctx)

	log.Debug().Str("component", "ws").Str("mission", missionID).Str("client", client.ID).Msg("client disconnected")
}

func (s *Server) handleMissionEvents(w http.ResponseWriter, r *http.Request) {
	missionID := r.PathValue("id")
	if err := leaderboard.ValidateMissionID(missionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	msgChan := s.Broadcaster.Subscribe(missionID)
	defer s.Broadcaster.Unsubscribe(missionID, msgChan)
	s.Metrics.ClientConnected("sse")
	defer s.Metrics.ClientDisconnected("sse")

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-msgChan:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Str("component", "sse").Msg("marshal score event")
				continue
			}
			fmt.Fprintf(w, "event: %s\n", ev.Type)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.DB != nil {
		if err := s.DB.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db_error", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	for _, o := range s.AllowedOrigins {
		if o == "*" {
			return &websocket.AcceptOptions{InsecureSkipVerify: true}
		}
	}
	return &websocket.AcceptOptions{OriginPatterns: s.AllowedOrigins}
}

// clientKey identifies the caller for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
