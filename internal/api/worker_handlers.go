package api

import (
	"net/http"
	"strings"

	"github.com/JakeFAU/shard-coordinator/internal/coordinator"
	"github.com/JakeFAU/shard-coordinator/internal/jobs"
)

// workerRequest is the common body of every worker call. Type defaults to
// HYBRID for clients that predate worker classes.
type workerRequest struct {
	Token    string `json:"token"`
	Type     string `json:"type"`
	Progress string `json:"progress,omitempty"`

	Number  int64  `json:"number,omitempty"`
	Count   int64  `json:"count,omitempty"`
	URL     string `json:"url,omitempty"`
	StartID string `json:"start_id,omitempty"`
	EndID   string `json:"end_id,omitempty"`
	Shard   *int   `json:"shard,omitempty"`
}

type registerResponse struct {
	DisplayName   string `json:"display_name"`
	Token         string `json:"token"`
	UploadAddress string `json:"upload_address,omitempty"`
}

type jobResponse struct {
	Number  int64  `json:"number"`
	URL     string `json:"url"`
	StartID string `json:"start_id"`
	EndID   string `json:"end_id"`
	Shard   int    `json:"shard"`
}

func parseClass(raw string) (jobs.WorkerClass, error) {
	if strings.TrimSpace(raw) == "" {
		return jobs.ClassHybrid, nil
	}
	return jobs.ParseWorkerClass(raw)
}

// decodeWorker reads the body, requires a token and resolves the class.
func decodeWorker(r *http.Request) (workerRequest, jobs.WorkerClass, error) {
	var req workerRequest
	if err := decodeJSON(r, &req); err != nil {
		return req, "", err
	}
	class, err := parseClass(req.Type)
	if err != nil {
		return req, "", err
	}
	if strings.TrimSpace(req.Token) == "" {
		return req, "", errMissing("token")
	}
	return req, class, nil
}

// newWorker handles GET /api/new?nickname=&type=.
func (s *Server) newWorker(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	class, err := parseClass(q.Get("type"))
	if err != nil {
		s.fail(w, r, "register", err)
		return
	}
	worker, err := s.svc.Registry().Register(r.Context(), class, q.Get("nickname"))
	if err != nil {
		s.fail(w, r, "register", err)
		return
	}
	resp := registerResponse{DisplayName: worker.DisplayName, Token: worker.Token}
	if addr, err := s.svc.UploadAddress(class); err == nil {
		resp.UploadAddress = addr
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) validateWorker(w http.ResponseWriter, r *http.Request) {
	req, class, err := decodeWorker(r)
	if err != nil {
		s.fail(w, r, "validate", err)
		return
	}
	ok, err := s.svc.Validate(r.Context(), req.Token, class)
	if err != nil {
		s.fail(w, r, "validate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": ok})
}

func (s *Server) uploadAddress(w http.ResponseWriter, r *http.Request) {
	class, err := parseClass(r.URL.Query().Get("type"))
	if err != nil {
		s.fail(w, r, "upload address", err)
		return
	}
	addr, err := s.svc.UploadAddress(class)
	if err != nil {
		s.fail(w, r, "upload address", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"upload_address": addr})
}

// newJob hands out the next job. GPU workers receive the first stage's
// output location as the job URL.
func (s *Server) newJob(w http.ResponseWriter, r *http.Request) {
	req, class, err := decodeWorker(r)
	if err != nil {
		s.fail(w, r, "claim", err)
		return
	}
	job, err := s.svc.Claim(r.Context(), req.Token, class)
	if err != nil {
		s.fail(w, r, "claim", err)
		return
	}
	url := job.URL
	if job.GPU {
		url = job.GPUURL
	}
	writeJSON(w, http.StatusOK, jobResponse{
		Number:  job.Number,
		URL:     url,
		StartID: job.StartID,
		EndID:   job.EndID,
		Shard:   job.Shard,
	})
}

func (s *Server) jobCount(w http.ResponseWriter, r *http.Request) {
	class, err := parseClass(r.URL.Query().Get("type"))
	if err != nil {
		s.fail(w, r, "job count", err)
		return
	}
	n, err := s.svc.JobCount(r.Context(), class)
	if err != nil {
		s.fail(w, r, "job count", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (s *Server) updateProgress(w http.ResponseWriter, r *http.Request) {
	req, class, err := decodeWorker(r)
	if err != nil {
		s.fail(w, r, "progress", err)
		return
	}
	if err := s.svc.Progress(r.Context(), req.Token, class, req.Progress); err != nil {
		s.fail(w, r, "progress", err)
		return
	}
	writeSuccess(w)
}

func (s *Server) markAsDone(w http.ResponseWriter, r *http.Request) {
	req, class, err := decodeWorker(r)
	if err != nil {
		s.fail(w, r, "complete", err)
		return
	}
	job, err := s.svc.Complete(r.Context(), coordinator.CompleteRequest{
		Token:   req.Token,
		Number:  req.Number,
		Class:   class,
		Count:   req.Count,
		URL:     req.URL,
		StartID: req.StartID,
		EndID:   req.EndID,
		Shard:   req.Shard,
	})
	if err != nil {
		s.fail(w, r, "complete", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "number": job.Number, "stage": job.Stage()})
}

func (s *Server) invalidResult(w http.ResponseWriter, r *http.Request) {
	req, class, err := decodeWorker(r)
	if err != nil {
		s.fail(w, r, "invalid result", err)
		return
	}
	if err := s.svc.InvalidResult(r.Context(), req.Token, class); err != nil {
		s.fail(w, r, "invalid result", err)
		return
	}
	writeSuccess(w)
}

func (s *Server) bye(w http.ResponseWriter, r *http.Request) {
	req, class, err := decodeWorker(r)
	if err != nil {
		s.fail(w, r, "disconnect", err)
		return
	}
	released, err := s.svc.Disconnect(r.Context(), req.Token, class)
	if err != nil {
		s.fail(w, r, "disconnect", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "released": released})
}
