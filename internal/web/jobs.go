package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/guregu/null/v6"
	"github.com/rs/zerolog/log"

	"manin/internal/auth"
	"manin/internal/scanner"
	"manin/internal/symbols"
	"manin/pkg/model"
)

// JobTimeout bounds a background scan
const JobTimeout = 15 * time.Minute

type JobStatus string

const (
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobError   JobStatus = "error"
)

// Job tracks an async scan. Clients poll it by id.
type Job struct {
	ID         string            `json:"id"`
	Owner      string            `json:"-"`
	Mode       model.ScanMode    `json:"mode"`
	Status     JobStatus         `json:"status"`
	Message    string            `json:"message"`
	Phase      scanner.Phase     `json:"phase,omitempty"`
	Done       int               `json:"done"`
	Total      int               `json:"total"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt null.Time         `json:"finishedAt"`
	Result     *model.ScanResult `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// JobRequest is the optional body of POST /api/penny/jobs
type JobRequest struct {
	Mode     model.ScanMode `json:"mode"`
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset"`
	Universe string         `json:"universe"`
}

type jobStore struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	retention time.Duration
	now       func() time.Time
}

func newJobStore(retention time.Duration, now func() time.Time) *jobStore {
	return &jobStore{jobs: make(map[string]*Job), retention: retention, now: now}
}

// start registers a running job unless owner already has one
func (js *jobStore) start(owner string, mode model.ScanMode) (Job, bool) {
	js.mu.Lock()
	defer js.mu.Unlock()

	js.pruneLocked()
	for _, j := range js.jobs {
		if j.Owner == owner && j.Status == JobRunning {
			return *j, false
		}
	}

	j := &Job{
		ID:        uuid.NewString(),
		Owner:     owner,
		Mode:      mode,
		Status:    JobRunning,
		Message:   fmt.Sprintf("Starting %s scan...", mode),
		StartedAt: js.now(),
	}
	js.jobs[j.ID] = j
	return *j, true
}

func (js *jobStore) get(id string) (Job, bool) {
	js.mu.RLock()
	defer js.mu.RUnlock()
	j, ok := js.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

func (js *jobStore) update(id string, fn func(j *Job)) {
	js.mu.Lock()
	defer js.mu.Unlock()
	if j, ok := js.jobs[id]; ok {
		fn(j)
	}
}

func (js *jobStore) finish(id string, res *model.ScanResult, err error) {
	js.update(id, func(j *Job) {
		j.FinishedAt = null.TimeFrom(js.now())
		if err != nil {
			j.Status = JobError
			j.Error = err.Error()
			j.Message = "Scan failed"
			return
		}
		j.Status = JobDone
		j.Result = res
		j.Message = fmt.Sprintf("Complete: %d results in %s", len(res.Results)+len(res.Quotes), res.ScanTime.Round(time.Second))
	})
}

// pruneLocked drops finished jobs older than the retention window
func (js *jobStore) pruneLocked() {
	cutoff := js.now().Add(-js.retention)
	for id, j := range js.jobs {
		if j.FinishedAt.Valid && j.FinishedAt.Time.Before(cutoff) {
			delete(js.jobs, id)
		}
	}
}

// handleStartJob starts an async scan (POST); the client polls /api/penny/jobs/{id}
func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	scanReq, err := req.toScan()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	claims, _ := auth.FromContext(r.Context())
	job, ok := s.jobs.start(claims.UserID(), scanReq.Mode)
	if !ok {
		writeJSON(w, http.StatusConflict, envelope{Status: "already_running", Data: job})
		return
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, JobTimeout)
	s.wg.Add(1)
	go s.runJob(ctx, cancel, job.ID, scanReq)

	log.Info().Str("job", job.ID).Str("mode", string(scanReq.Mode)).Int("limit", scanReq.Limit).Msg("scan job started")
	writeJSON(w, http.StatusAccepted, envelope{Status: "ok", Data: job})
}

func (req JobRequest) toScan() (scanner.Request, error) {
	u, ok := symbols.ParseUniverse(req.Universe)
	if !ok {
		return scanner.Request{}, fmt.Errorf("unknown universe: %s", req.Universe)
	}
	if req.Mode == "" {
		req.Mode = model.ModeFull
	}

	var lo, hi, def int
	switch req.Mode {
	case model.ModeBasic:
		lo, hi, def = BasicMinLimit, BasicMaxLimit, BasicDefaultLimit
	case model.ModeFull:
		lo, hi, def = FullMinLimit, FullMaxLimit, FullDefaultLimit
	case model.ModeBatch:
		lo, hi, def = BatchMinLimit, BatchMaxLimit, BatchDefaultLimit
	default:
		return scanner.Request{}, fmt.Errorf("unknown mode: %s", req.Mode)
	}
	if req.Limit == 0 {
		req.Limit = def
	}
	if req.Limit < lo || req.Limit > hi {
		return scanner.Request{}, fmt.Errorf("limit must be between %d and %d", lo, hi)
	}
	if req.Offset < 0 {
		return scanner.Request{}, fmt.Errorf("offset must not be negative")
	}
	return scanner.Request{Mode: req.Mode, Limit: req.Limit, Offset: req.Offset, Universe: u}, nil
}

// runJob runs the scan in background, updating the job as it goes
func (s *Server) runJob(ctx context.Context, cancel context.CancelFunc, id string, req scanner.Request) {
	defer s.wg.Done()
	defer cancel()

	ctx = scanner.WithProgress(ctx, func(phase scanner.Phase, done, total int) {
		s.jobs.update(id, func(j *Job) {
			j.Phase = phase
			j.Done = done
			j.Total = total
			j.Message = fmt.Sprintf("%s %d/%d...", phase, done, total)
		})
	})

	res, err := s.Scanner.Scan(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("job", id).Msg("scan job failed")
	}
	s.jobs.finish(id, res, err)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.jobs.get(id)
	claims, _ := auth.FromContext(r.Context())
	if !ok || job.Owner != claims.UserID() {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeOK(w, job)
}
