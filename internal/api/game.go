package api

import (
	"net/http"
	"strconv"

	"github.com/coderally/coderally/internal/httputil"
	"github.com/coderally/coderally/internal/session"
)

type sessionSummary struct {
	SessionID string         `json:"session_id"`
	Status    session.Status `json:"status"`
	Tick      uint64         `json:"tick"`
	Players   int            `json:"players"`
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	var summaries []sessionSummary
	for _, id := range s.registry.IDs() {
		engine := s.registry.Get(id)
		if engine == nil {
			continue
		}
		snap := engine.Snapshot()
		summaries = append(summaries, sessionSummary{
			SessionID: id,
			Status:    snap.RaceInfo.Status,
			Tick:      snap.Tick,
			Players:   len(snap.Players),
		})
	}
	httputil.WriteJSONOK(w, summaries)
}

func (s *Server) generateTrackHandler(w http.ResponseWriter, r *http.Request) {
	difficulty := r.URL.Query().Get("difficulty")

	var seed int64
	if raw := r.URL.Query().Get("seed"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.BadRequest(w, "invalid seed")
			return
		}
		seed = parsed
	}

	trk := s.generateTrack(difficulty, seed)
	httputil.WriteJSONOK(w, trk.View())
}
