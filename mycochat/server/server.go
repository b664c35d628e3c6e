// Package server exposes the chat pipeline over HTTP and websockets.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/ellenlodin/Mushroom-Chatbot/mycochat/config"
	ports "github.com/ellenlodin/Mushroom-Chatbot/mycochat/generation/harness/ports"
	"github.com/ellenlodin/Mushroom-Chatbot/mycochat/media"
	"github.com/ellenlodin/Mushroom-Chatbot/mycochat/memory"
)

// DefaultSessionID addresses the shared session of the single-user mode.
const DefaultSessionID = "default"

// TurnHandler answers one user turn within a session.
type TurnHandler interface {
	HandleTurn(ctx context.Context, s *memory.Session, text string, files []media.Resource) (iter.Seq[string], error)
}

type Server struct {
	cfg      config.ServerConfig
	router   *chi.Mux
	pipeline TurnHandler
	sessions *memory.Registry
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	markdown goldmark.Markdown
	http     *http.Server
}

// NewServer wires the routes. gatherer may be nil to disable /metrics.
func NewServer(cfg config.ServerConfig, pipeline TurnHandler, sessions *memory.Registry, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	s := &Server{
		cfg:      cfg,
		router:   router,
		pipeline: pipeline,
		sessions: sessions,
		logger:   logger.With().Str("component", "server").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}

	router.Get("/health", s.health)
	router.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/history", s.history)
			r.Delete("/", s.deleteSession)
			r.Get("/ws", s.chat)
		})
	})
	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("API server starting")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	s.logger.Info().Str("session_id", sess.ID()).Msg("session created")
	writeJSON(w, http.StatusCreated, map[string]string{"id": sess.ID()})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := s.sessions.Delete(sess.ID()); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type mediaView struct {
	Name        string    `json:"name,omitempty"`
	ContentType string    `json:"content_type"`
	Bytes       int       `json:"bytes"`
	CapturedAt  time.Time `json:"captured_at,omitzero"`
}

type turnView struct {
	ID         string      `json:"id"`
	Role       ports.Role  `json:"role"`
	Text       string      `json:"text,omitempty"`
	HTML       string      `json:"html,omitempty"`
	Media      []mediaView `json:"media,omitempty"`
	Synthetic  bool        `json:"synthetic,omitempty"`
	Incomplete bool        `json:"incomplete,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	turns := sess.Snapshot()
	views := make([]turnView, 0, len(turns))
	for _, t := range turns {
		v := turnView{
			ID:         t.ID,
			Role:       t.Role,
			Text:       t.Text(),
			Synthetic:  t.Synthetic,
			Incomplete: t.Incomplete,
			CreatedAt:  t.CreatedAt,
		}
		if t.Role == ports.RoleAssistant {
			v.HTML = s.render(v.Text)
		}
		for _, m := range t.Media() {
			v.Media = append(v.Media, mediaView{Name: m.Name, ContentType: m.ContentType, Bytes: len(m.Data), CapturedAt: m.CapturedAt})
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": sess.ID(), "turns": views})
}

func (s *Server) render(text string) string {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(text), &buf); err != nil {
		s.logger.Warn().Err(err).Msg("markdown render failed")
		return ""
	}
	return buf.String()
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*memory.Session, bool) {
	id := chi.URLParam(r, "id")
	if id == DefaultSessionID {
		return s.sessions.Default(), true
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	return sess, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
