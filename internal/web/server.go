package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dotagent/office/internal/cache"
	"github.com/dotagent/office/internal/config"
	"github.com/dotagent/office/internal/engine"
	"github.com/dotagent/office/internal/natsbus"
	"github.com/dotagent/office/internal/store"
	"github.com/dotagent/office/internal/usage"
	"github.com/nats-io/nats.go"
)

// Deps are the components the server exposes. Engine, Cache and Tracker
// are required.
type Deps struct {
	Engine  *engine.Engine
	Cache   *cache.Cache
	Tracker *usage.Tracker
	Store   *store.Store
	Bus     *natsbus.Bus
	Model   interface{ Ready() bool }
	// NextSweep reports the next scheduled housekeeping run.
	NextSweep func() time.Time
}

type Server struct {
	deps      Deps
	nats      *natsbus.Client
	hub       *Hub
	cfg       config.WebConfig
	defaults  config.Config
	version   string
	startedAt time.Time
}

func NewServer(deps Deps, cfg *config.Config, version string) *Server {
	return &Server{
		deps:      deps,
		hub:       NewHub(),
		cfg:       cfg.Web,
		defaults:  *cfg,
		version:   version,
		startedAt: time.Now(),
	}
}

// Handler returns the routed API with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerAPI(mux)
	mux.HandleFunc("/api/ws", s.handleWebSocket)
	return s.withMiddleware(mux)
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	// Subscribe to NATS events and broadcast to WebSocket
	s.subscribeEvents()
	defer func() {
		if s.nats != nil {
			s.nats.Close()
		}
	}()

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		if strings.HasPrefix(r.URL.Path, "/api/") && s.cfg.Auth != "" && !s.checkAuth(w, r) {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// checkAuth validates Basic Auth. Returns true if authenticated.
func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if _, pass, ok := r.BasicAuth(); ok && pass == s.cfg.Auth {
		return true
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="office"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}

func (s *Server) subscribeEvents() {
	if s.deps.Bus == nil {
		return
	}
	client, err := natsbus.NewClient(s.deps.Bus, "office-web")
	if err != nil {
		slog.Error("web server nats client failed", "error", err)
		return
	}
	s.nats = client

	// Forward all event topics to WebSocket as raw JSON
	_, err = client.Subscribe(natsbus.TopicEventsAll, func(msg *nats.Msg) {
		ev, ok := observerEvent(msg.Subject, msg.Data)
		if !ok {
			return
		}
		s.hub.Broadcast(ev)
	})
	if err != nil {
		slog.Error("subscribe to events failed", "error", err)
	}
}

// observerEvent wraps a bus message for websocket observers.
func observerEvent(subject string, data []byte) (Event, bool) {
	if !json.Valid(data) {
		slog.Warn("invalid NATS event payload", "subject", subject)
		return Event{}, false
	}
	ev := Event{Type: "alert", Payload: json.RawMessage(data)}
	if id, ok := natsbus.MissionFromTopic(subject); ok {
		ev.MissionID = id
		ev.Type = "mission"
		if strings.HasPrefix(subject, "events.chat.") {
			ev.Type = "chat"
		}
	}
	return ev, true
}
