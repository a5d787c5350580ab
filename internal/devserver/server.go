// Package devserver is an in-memory game server speaking the same HTTP and
// push-channel contract as production. It backs local development and the
// client's end-to-end tests.
package devserver

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/questlink/internal/config"
	"github.com/gaspardpetit/questlink/internal/dice"
	"github.com/gaspardpetit/questlink/internal/logx"
	"github.com/gaspardpetit/questlink/internal/wire"
)

// WSPath is where the push channel is served.
const WSPath = "/ws"

// Server holds every session in memory.
type Server struct {
	cfg config.DevServerConfig
	hub *hub
	reg *prometheus.Registry

	mu       sync.Mutex
	token    string
	sessions map[string]*gameSession
	rng      *rand.Rand
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves reg on /metrics.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(s *Server) { s.reg = reg }
}

// New returns a server configured by cfg.
func New(cfg config.DevServerConfig, opts ...Option) *Server {
	seed, err := dice.NewSeed()
	if err != nil {
		logx.Log.Warn().Err(err).Msg("crypto seed unavailable, using fixed seed")
		seed = 1
	}
	s := &Server{
		cfg:      cfg,
		hub:      newHub(),
		token:    cfg.AccessToken,
		sessions: make(map[string]*gameSession),
		rng:      rand.New(rand.NewSource(seed)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		}))
	}
	for _, m := range middlewareChain() {
		r.Use(m)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	if s.reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	}
	r.Get(WSPath, s.wsHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.bearerAuth)
		r.Route("/orchestration/sessions", func(r chi.Router) {
			r.Post("/", s.startSession)
			r.Post("/{id}/actions", s.submitAction)
			r.Post("/{id}/dice", s.fulfillDice)
			r.Get("/{id}/status", s.gameStatus)
		})
		r.Post("/dice/roll", s.rollDice)
		r.Post("/speech", s.speak)
	})
	return r
}

// RotateToken replaces the accepted bearer token. Clients still holding the
// previous token get 401 until they refresh.
func (s *Server) RotateToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *Server) authorized(tok string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token == "" || tok == s.token
}

// dicePurpose returns the check named by the first configured keyword found
// in content. Keywords are "word" or "word:Purpose"; a bare word gives
// "Word Check".
func (s *Server) dicePurpose(content string) (string, bool) {
	words := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool { return r < 'a' || r > 'z' })
	for _, entry := range s.cfg.DiceKeywords {
		kw, purpose, _ := strings.Cut(entry, ":")
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		purpose = strings.TrimSpace(purpose)
		if purpose == "" {
			purpose = strings.ToUpper(kw[:1]) + kw[1:] + " Check"
		}
		for _, word := range words {
			if strings.HasPrefix(word, kw) {
				return purpose, true
			}
		}
	}
	return "", false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Log.Error().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, wire.ErrorResponse{Error: msg})
}
