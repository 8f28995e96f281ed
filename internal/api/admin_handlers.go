package api

import (
	"fmt"
	"net/http"

	"github.com/JakeFAU/shard-coordinator/internal/coordinator"
	"github.com/JakeFAU/shard-coordinator/internal/jobs"
)

type reopenRequest struct {
	Number int64 `json:"number"`
}

type markDoneRequest struct {
	Numbers  []int64 `json:"numbers"`
	Manifest string  `json:"manifest"`
	Nickname string  `json:"nickname"`
	Pairs    int64   `json:"pairs"`
}

type bannerRequest struct {
	Text string `json:"text"`
}

func errMissing(field string) error {
	return fmt.Errorf("%w: %s is required", jobs.ErrBadInput, field)
}

func (s *Server) reopen(w http.ResponseWriter, r *http.Request) {
	var req reopenRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "reopen", err)
		return
	}
	if req.Number <= 0 {
		s.fail(w, r, "reopen", errMissing("number"))
		return
	}
	if err := s.svc.Reopen(r.Context(), req.Number); err != nil {
		s.fail(w, r, "reopen", err)
		return
	}
	writeSuccess(w)
}

func (s *Server) markDone(w http.ResponseWriter, r *http.Request) {
	var req markDoneRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "mark done", err)
		return
	}
	updated, err := s.svc.MarkDone(r.Context(), coordinator.MarkDoneRequest{
		Numbers:  req.Numbers,
		Manifest: req.Manifest,
		Nickname: req.Nickname,
		Pairs:    req.Pairs,
	})
	if err != nil {
		s.fail(w, r, "mark done", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	found, err := s.svc.Lookup(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		s.fail(w, r, "lookup", err)
		return
	}
	if found == nil {
		found = []jobs.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": found})
}

func (s *Server) listWorkers(w http.ResponseWriter, r *http.Request) {
	listing, err := s.svc.Workers(r.Context())
	if err != nil {
		s.fail(w, r, "list workers", err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) getBanner(w http.ResponseWriter, r *http.Request) {
	text, err := s.svc.Banner(r.Context())
	if err != nil {
		s.fail(w, r, "banner", err)
		return
	}
	writeJSON(w, http.StatusOK, bannerRequest{Text: text})
}

func (s *Server) putBanner(w http.ResponseWriter, r *http.Request) {
	var req bannerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, "banner", err)
		return
	}
	if err := s.svc.SetBanner(r.Context(), req.Text); err != nil {
		s.fail(w, r, "banner", err)
		return
	}
	writeSuccess(w)
}
