package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coderally/coderally/internal/bot"
	"github.com/coderally/coderally/internal/httputil"
)

type botRequest struct {
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name"`
	ClassName string `json:"class_name"`
	Code      string `json:"code"`
}

func (s *Server) createBot(w http.ResponseWriter, r *http.Request) {
	var req botRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if req.OwnerID == "" || req.Name == "" || req.ClassName == "" || req.Code == "" {
		httputil.BadRequest(w, "owner_id, name, class_name and code are required")
		return
	}

	// Reject programs that will not load before they reach a race.
	if _, err := s.bots.Load(req.Code, req.ClassName); err != nil {
		httputil.BadRequest(w, "bot validation failed: "+err.Error())
		return
	}

	rec, err := s.store.Create(req.OwnerID, req.Name, req.ClassName, req.Code)
	if err != nil {
		httputil.BadRequest(w, "failed to store bot: "+err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

func (s *Server) listBots(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		httputil.BadRequest(w, "owner_id is required")
		return
	}

	records, err := s.store.ListByOwner(ownerID)
	if err != nil {
		httputil.InternalServerError(w, "failed to list bots")
		return
	}
	httputil.WriteJSONOK(w, records)
}

func (s *Server) getBot(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.PathValue("id"))
	if errors.Is(err, bot.ErrNotFound) {
		httputil.NotFound(w, "bot not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, "failed to load bot")
		return
	}
	httputil.WriteJSONOK(w, rec)
}

func (s *Server) updateBot(w http.ResponseWriter, r *http.Request) {
	var req botRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if req.Name == "" || req.ClassName == "" || req.Code == "" {
		httputil.BadRequest(w, "name, class_name and code are required")
		return
	}

	if _, err := s.bots.Load(req.Code, req.ClassName); err != nil {
		httputil.BadRequest(w, "bot validation failed: "+err.Error())
		return
	}

	rec, err := s.store.Update(r.PathValue("id"), req.Name, req.ClassName, req.Code)
	if errors.Is(err, bot.ErrNotFound) {
		httputil.NotFound(w, "bot not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, "failed to update bot")
		return
	}
	httputil.WriteJSONOK(w, rec)
}

func (s *Server) deleteBot(w http.ResponseWriter, r *http.Request) {
	err := s.store.Delete(r.PathValue("id"))
	if errors.Is(err, bot.ErrNotFound) {
		httputil.NotFound(w, "bot not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, "failed to delete bot")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listBotTemplates(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, bot.Templates())
}
