package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dotagent/office/internal/agent"
	"github.com/dotagent/office/internal/engine"
	"github.com/dotagent/office/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
	recentCallsShown = 10
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Streams
	mux.HandleFunc("GET "+engine.MissionEndpoint, s.streamMission)
	mux.HandleFunc("POST "+engine.MissionEndpoint, s.streamMission)
	mux.HandleFunc("POST "+engine.ChatEndpoint, s.streamChat)

	// History
	mux.HandleFunc("GET /api/missions", s.listMissions)
	mux.HandleFunc("GET /api/missions/{id}", s.getMission)
	mux.HandleFunc("GET /api/missions/{id}/chat", s.getChat)

	// Usage and cache
	mux.HandleFunc("GET /api/usage", s.getUsage)
	mux.HandleFunc("GET /api/cache", s.getCache)
	mux.HandleFunc("DELETE /api/cache", s.clearCache)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

type missionBody struct {
	Mission   string `json:"mission"`
	Mode      string `json:"mode"`
	MissionID string `json:"missionId"`
}

func (s *Server) streamMission(w http.ResponseWriter, r *http.Request) {
	var body missionBody
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	} else {
		q := r.URL.Query()
		body = missionBody{Mission: q.Get("mission"), Mode: q.Get("mode"), MissionID: q.Get("missionId")}
	}

	req := engine.Request{Mission: body.Mission, Mode: body.Mode, MissionID: body.MissionID}
	if req.Mode == "" {
		req.Mode = s.defaults.Mode
	}
	if err := req.Normalize(); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	stream, err := newEventStream(w)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.deps.Engine.Execute(r.Context(), req, stream.Send); err != nil {
		if errors.Is(err, engine.ErrSinkClosed) {
			slog.Debug("mission stream closed early", "mission", req.MissionID, "error", err)
			return
		}
		slog.Error("mission stream failed", "mission", req.MissionID, "error", err)
	}
}

type chatBody struct {
	MissionID string `json:"missionId"`
	AgentID   string `json:"agentId"`
	Message   string `json:"message"`
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request) {
	var body chatBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req := engine.ChatRequest{MissionID: body.MissionID, AgentID: body.AgentID, Message: body.Message}
	if _, err := req.Validate(); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	stream, err := newEventStream(w)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.deps.Engine.Chat(r.Context(), req, stream.Send); err != nil {
		slog.Debug("chat stream ended early", "mission", req.MissionID, "error", err)
	}
}

func (s *Server) listMissions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		jsonResponse(w, []store.Mission{})
		return
	}
	missions, err := s.deps.Store.ListMissions(listLimit(r))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if missions == nil {
		missions = []store.Mission{}
	}
	jsonResponse(w, missions)
}

func (s *Server) getMission(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		jsonError(w, "mission history disabled", http.StatusNotFound)
		return
	}
	m, err := s.deps.Store.GetMission(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if m == nil {
		jsonError(w, "mission not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, m)
}

func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		jsonResponse(w, []store.ChatMessage{})
		return
	}
	msgs, err := s.deps.Store.GetChatMessages(r.PathValue("id"), listLimit(r))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []store.ChatMessage{}
	}
	jsonResponse(w, msgs)
}

func (s *Server) getUsage(w http.ResponseWriter, r *http.Request) {
	t := s.deps.Tracker
	jsonResponse(w, map[string]any{
		"session": t.SessionStats(),
		"daily":   t.DailyStats(),
		"limits":  t.CheckLimits(s.defaults.Usage.MaxCallsPerDay, s.defaults.Usage.MaxTokensPerDay),
		"recent":  t.Recent(recentCallsShown),
	})
}

func (s *Server) getCache(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]any{
		"enabled": s.defaults.Cache.Enabled,
		"stats":   s.deps.Cache.Stats(),
	})
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	s.deps.Cache.Clear()
	slog.Info("mission cache cleared")
	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	runs := s.deps.Engine.Runs().List()
	if runs == nil {
		runs = []agent.Run{}
	}
	status := map[string]any{
		"status":      "ok",
		"version":     s.version,
		"uptime":      formatUptime(time.Since(s.startedAt)),
		"mode":        s.defaults.Mode,
		"model_ready": s.deps.Model != nil && s.deps.Model.Ready(),
		"active_runs": runs,
		"observers":   s.hub.Len(),
	}
	if s.deps.NextSweep != nil {
		if next := s.deps.NextSweep(); !next.IsZero() {
			status["next_sweep"] = next
		}
	}
	jsonResponse(w, status)
}

func listLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return min(n, maxListLimit)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
