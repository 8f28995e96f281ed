package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	body, err := s.svc.SummaryJSON(r.Context())
	if err != nil {
		s.fail(w, r, "summary", err)
		return
	}
	writeRawJSON(w, body)
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	body, err := s.svc.LeaderboardJSON(r.Context())
	if err != nil {
		s.fail(w, r, "leaderboard", err)
		return
	}
	writeRawJSON(w, body)
}

func (s *Server) leaderboardEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.svc.LeaderboardEntry(r.Context(), chi.URLParam(r, "nickname"))
	if err != nil {
		s.fail(w, r, "leaderboard entry", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// workerData resolves {name} as a display name first, then as a token.
func (s *Server) workerData(w http.ResponseWriter, r *http.Request) {
	worker, err := s.svc.WorkerData(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, r, "worker data", err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}
