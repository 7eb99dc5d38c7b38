package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rickgao/levelwatch/internal/connection"
	"github.com/rickgao/levelwatch/internal/model"
	"github.com/rickgao/levelwatch/internal/version"
)

const defaultListSize = 50

type feedStatus interface {
	State() connection.State
}

type pinger interface {
	Ping(ctx context.Context) error
}

type levelView interface {
	Levels(symbol string) []model.StructuralLevel
	RecentInteractions(symbol string, n int) []model.LevelInteraction
}

type alertView interface {
	RecentAlerts(n int) []model.Alert
}

type statsView interface {
	Snapshot() map[string]any
}

// server exposes health, statistics and recent activity over HTTP.
type server struct {
	feed    feedStatus
	db      pinger // nil without a database
	levels  levelView
	alerts  alertView
	stats   statsView
	symbols []string
	logger  *slog.Logger
}

type levelJSON struct {
	Symbol    string  `json:"symbol"`
	Type      string  `json:"type"`
	Price     float64 `json:"price"`
	Priority  string  `json:"priority"`
	Timeframe string  `json:"timeframe"`
	Source    string  `json:"source"`
}

type interactionJSON struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Volume     int64     `json:"volume"`
	Side       string    `json:"side"`
	LevelType  string    `json:"level_type"`
	LevelPrice float64   `json:"level_price"`
	Kind       string    `json:"kind"`
	Distance   float64   `json:"distance"`
	Priority   string    `json:"priority"`
	Timestamp  time.Time `json:"timestamp"`
}

type alertJSON struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Kind       string    `json:"kind"`
	Priority   string    `json:"priority"`
	Message    string    `json:"message"`
	Price      float64   `json:"price"`
	RuleID     string    `json:"rule_id,omitempty"`
	LevelType  string    `json:"level_type,omitempty"`
	LevelPrice float64   `json:"level_price,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/levels", s.handleLevels)
	mux.HandleFunc("/interactions", s.handleInteractions)
	mux.HandleFunc("/alerts", s.handleAlerts)
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Version    string         `json:"version"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Version:    version.Version,
		Components: make(map[string]any),
	}

	// Feed
	state := s.feed.State()
	health.Components["feed"] = state.String()
	if state != connection.StateAuthenticated {
		health.Status = "degraded"
	}

	// Database
	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	s.encode(w, health)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.encode(w, s.stats.Snapshot())
}

func (s *server) handleLevels(w http.ResponseWriter, r *http.Request) {
	symbols := s.symbols
	if sym := r.URL.Query().Get("symbol"); sym != "" {
		symbols = []string{sym}
	}

	out := make(map[string][]levelJSON, len(symbols))
	for _, sym := range symbols {
		lvls := s.levels.Levels(sym)
		rows := make([]levelJSON, 0, len(lvls))
		for _, l := range lvls {
			rows = append(rows, levelJSON{
				Symbol:    l.Symbol,
				Type:      l.LevelType,
				Price:     l.Price,
				Priority:  l.Priority.String(),
				Timeframe: l.Timeframe,
				Source:    l.Source,
			})
		}
		out[sym] = rows
	}

	w.Header().Set("Content-Type", "application/json")
	s.encode(w, out)
}

func (s *server) handleInteractions(w http.ResponseWriter, r *http.Request) {
	n, ok := listSize(w, r)
	if !ok {
		return
	}

	recent := s.levels.RecentInteractions(r.URL.Query().Get("symbol"), n)
	rows := make([]interactionJSON, 0, len(recent))
	for _, in := range recent {
		rows = append(rows, interactionJSON{
			Symbol:     in.Symbol,
			Price:      in.Price,
			Volume:     in.Volume,
			Side:       in.Side.String(),
			LevelType:  in.LevelType,
			LevelPrice: in.LevelPrice,
			Kind:       in.Kind.String(),
			Distance:   in.Distance,
			Priority:   in.Priority.String(),
			Timestamp:  in.Timestamp,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	s.encode(w, map[string]any{"count": len(rows), "interactions": rows})
}

func (s *server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	n, ok := listSize(w, r)
	if !ok {
		return
	}

	recent := s.alerts.RecentAlerts(n)
	rows := make([]alertJSON, 0, len(recent))
	for _, a := range recent {
		rows = append(rows, alertJSON{
			ID:         a.ID.String(),
			Symbol:     a.Symbol,
			Kind:       a.Kind.String(),
			Priority:   a.Priority.String(),
			Message:    a.Message,
			Price:      a.Price,
			RuleID:     a.RuleID,
			LevelType:  a.LevelType,
			LevelPrice: a.LevelPrice,
			Timestamp:  a.Timestamp,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	s.encode(w, map[string]any{"count": len(rows), "alerts": rows})
}

// listSize reads the n query parameter, writing a 400 when it is invalid.
func listSize(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("n")
	if raw == "" {
		return defaultListSize, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		http.Error(w, "n must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func (s *server) encode(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response failed", "error", err)
	}
}
