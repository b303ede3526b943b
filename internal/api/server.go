// Package api exposes the HTTP surface: lobby and bot REST endpoints,
// track generation, and the websocket game stream.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/coderally/coderally/internal/bot"
	"github.com/coderally/coderally/internal/config"
	"github.com/coderally/coderally/internal/httputil"
	"github.com/coderally/coderally/internal/lobby"
	"github.com/coderally/coderally/internal/monitoring"
	"github.com/coderally/coderally/internal/session"
	"github.com/coderally/coderally/internal/track"
	"github.com/coderally/coderally/internal/version"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	cfg      *config.Config
	registry *session.Registry
	lobbies  *lobby.Manager
	store    *bot.Store
	bots     *bot.Manager
	hub      *hub
}

func NewServer(cfg *config.Config, registry *session.Registry, lobbies *lobby.Manager, store *bot.Store, bots *bot.Manager) *Server {
	// A removed lobby takes its running session down with it.
	lobbies.SetSessionReaper(registry.Remove)
	return &Server{
		cfg:      cfg,
		registry: registry,
		lobbies:  lobbies,
		store:    store,
		bots:     bots,
		hub:      newHub(),
	}
}

// startSession registers an engine, starts its tick loop, and spins up its
// broadcaster.
func (s *Server) startSession(id string, e *session.Engine, lobbyOwned bool) {
	s.registry.Add(id, e, lobbyOwned)
	go session.NewBroadcaster(s.registry, s.cfg.Server.BroadcastRate).Run(id)
}

func (s *Server) generateTrack(difficulty string, seed int64) *track.Track {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return track.Generate(&s.cfg.Game, seed, track.ParseDifficulty(difficulty))
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.health)

	mux.HandleFunc("POST /api/lobbies", s.createLobby)
	mux.HandleFunc("GET /api/lobbies", s.listLobbies)
	mux.HandleFunc("GET /api/lobbies/{id}", s.getLobby)
	mux.HandleFunc("PUT /api/lobbies/{id}/settings", s.updateLobbySettings)
	mux.HandleFunc("DELETE /api/lobbies/{id}", s.deleteLobby)

	mux.HandleFunc("POST /api/bots", s.createBot)
	mux.HandleFunc("GET /api/bots", s.listBots)
	mux.HandleFunc("GET /api/bots/templates", s.listBotTemplates)
	mux.HandleFunc("GET /api/bots/{id}", s.getBot)
	mux.HandleFunc("PUT /api/bots/{id}", s.updateBot)
	mux.HandleFunc("DELETE /api/bots/{id}", s.deleteBot)

	mux.HandleFunc("GET /api/game/sessions", s.listSessions)
	mux.HandleFunc("GET /api/tracks/generate", s.generateTrackHandler)

	mux.HandleFunc("/ws", s.serveWS)

	return mux
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}
