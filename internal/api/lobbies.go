package api

import (
	"encoding/json"
	"net/http"

	"github.com/coderally/coderally/internal/httputil"
	"github.com/coderally/coderally/internal/lobby"
)

type createLobbyRequest struct {
	Name         string         `json:"name"`
	HostID       string         `json:"host_id"`
	HostUsername string         `json:"host_username"`
	Settings     lobby.Settings `json:"settings"`
}

func (s *Server) createLobby(w http.ResponseWriter, r *http.Request) {
	var req createLobbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if req.Name == "" || req.HostID == "" {
		httputil.BadRequest(w, "name and host_id are required")
		return
	}
	if req.HostUsername == "" {
		req.HostUsername = req.HostID
	}

	l := s.lobbies.Create(req.Name, req.HostID, req.HostUsername, req.Settings)
	httputil.WriteJSON(w, http.StatusCreated, l)
}

func (s *Server) listLobbies(w http.ResponseWriter, r *http.Request) {
	status := lobby.Status(r.URL.Query().Get("status"))
	httputil.WriteJSONOK(w, s.lobbies.List(status))
}

func (s *Server) getLobby(w http.ResponseWriter, r *http.Request) {
	l, ok := s.lobbies.Get(r.PathValue("id"))
	if !ok {
		httputil.NotFound(w, "lobby not found")
		return
	}
	httputil.WriteJSONOK(w, l)
}

func (s *Server) updateLobbySettings(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		httputil.BadRequest(w, "player_id is required")
		return
	}

	l, ok := s.lobbies.Get(id)
	if !ok {
		httputil.NotFound(w, "lobby not found")
		return
	}
	if l.HostID != playerID {
		httputil.Forbidden(w, "only the host can change settings")
		return
	}

	var settings lobby.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}

	updated, ok := s.lobbies.UpdateSettings(id, playerID, settings)
	if !ok {
		httputil.BadRequest(w, "settings update rejected")
		return
	}
	httputil.WriteJSONOK(w, updated)
}

func (s *Server) deleteLobby(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		httputil.BadRequest(w, "player_id is required")
		return
	}

	l, ok := s.lobbies.Get(id)
	if !ok {
		httputil.NotFound(w, "lobby not found")
		return
	}
	if l.HostID != playerID {
		httputil.Forbidden(w, "only the host can disband the lobby")
		return
	}

	if !s.lobbies.Disband(id, playerID) {
		httputil.NotFound(w, "lobby not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
