package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/TobiSchelling/animerec/internal/apperr"
	"github.com/TobiSchelling/animerec/internal/pipeline"
)

const maxBodyBytes = 1 << 20

// idsRequest is the body of the blacklist mutation endpoints.
type idsRequest struct {
	IDs []int `json:"ids" validate:"required,min=1,max=1000,dive,gt=0"`
}

type blacklistResponse struct {
	Status    string `json:"status"`
	Count     int    `json:"count"`
	Blacklist []int  `json:"blacklist"`
	Changed   []int  `json:"changed,omitempty"`
}

type endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

var endpoints = []endpoint{
	{"GET", "/api/recommendations/{username}", "Ranked recommendations; query top_n and refresh"},
	{"GET", "/api/status", "Catalog age, run statistics and cache state"},
	{"GET", "/api/health", "Liveness check"},
	{"GET", "/api/blacklist", "List blacklisted ids"},
	{"POST", "/api/blacklist", "Add ids to the blacklist"},
	{"DELETE", "/api/blacklist", "Remove ids from the blacklist"},
	{"DELETE", "/api/blacklist/{id}", "Remove one id from the blacklist"},
	{"GET", "/metrics", "Prometheus metrics"},
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(s.landing)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      "animerec",
		"endpoints": endpoints,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	req := pipeline.Request{Username: chi.URLParam(r, "username")}

	q := r.URL.Query()
	if v := q.Get("top_n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, apperr.Errorf(apperr.KindInput, apperr.StageRequest, "top_n must be an integer, got %q", v))
			return
		}
		req.TopN = n
	}
	if v := q.Get("refresh"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, apperr.Errorf(apperr.KindInput, apperr.StageRequest, "refresh must be a boolean, got %q", v))
			return
		}
		req.Refresh = b
	}

	resp, err := s.svc.Recommend(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	s.writeBlacklist(w, r, nil)
}

func (s *Server) handleBlacklistAdd(w http.ResponseWriter, r *http.Request) {
	ids, err := s.decodeIDs(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	added, err := s.svc.AddToBlacklist(ids...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.Info().Ints("ids", added).Msg("Blacklist updated")
	s.writeBlacklist(w, r, added)
}

func (s *Server) handleBlacklistRemove(w http.ResponseWriter, r *http.Request) {
	ids, err := s.decodeIDs(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.remove(w, r, ids)
}

func (s *Server) handleBlacklistRemoveOne(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		writeError(w, r, apperr.Errorf(apperr.KindInput, apperr.StageRequest, "id must be a positive integer, got %q", raw))
		return
	}
	s.remove(w, r, []int{id})
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request, ids []int) {
	removed, err := s.svc.RemoveFromBlacklist(ids...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.Info().Ints("ids", removed).Msg("Blacklist entries removed")
	s.writeBlacklist(w, r, removed)
}

func (s *Server) writeBlacklist(w http.ResponseWriter, r *http.Request, changed []int) {
	ids, err := s.svc.Blacklist()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []int{}
	}
	writeJSON(w, http.StatusOK, blacklistResponse{
		Status:    "success",
		Count:     len(ids),
		Blacklist: ids,
		Changed:   changed,
	})
}

func (s *Server) decodeIDs(w http.ResponseWriter, r *http.Request) ([]int, error) {
	var req idsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return nil, apperr.Errorf(apperr.KindInput, apperr.StageRequest, "decoding body: %v", err)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.Errorf(apperr.KindInput, apperr.StageRequest, "body must be {\"ids\": [positive ints]}: %v", err)
	}
	return req.IDs, nil
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	err := apperr.Errorf(apperr.KindInput, apperr.StageRequest, "no route for %s %s", r.Method, r.URL.Path)
	writeJSON(w, http.StatusNotFound, pipeline.NewErrorResponse(err))
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	err := apperr.Errorf(apperr.KindInput, apperr.StageRequest, "method %s not allowed on %s", r.Method, r.URL.Path)
	writeJSON(w, http.StatusMethodNotAllowed, pipeline.NewErrorResponse(err))
}

// writeError reports err in the structured error shape with the status code
// of its kind.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.HTTPStatus(apperr.KindOf(err))
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, code, pipeline.NewErrorResponse(err))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}
