package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/pipeline"
	"CompanyResearcher/internal/usecase"
)

const maxBodyBytes = 1 << 20

// Submitter admits new jobs.
type Submitter interface {
	Submit(ctx context.Context, input domain.JobInput) (domain.Job, error)
	Capacity() int
}

// JobReader looks jobs up.
type JobReader interface {
	Get(ctx context.Context, id string) (domain.Job, error)
	List() []domain.Job
}

// ProgressSource streams progress of one job.
type ProgressSource interface {
	Subscribe(jobID string, sub pipeline.Subscriber) func()
	Last(jobID string) (int, bool)
}

// Deps wires the HTTP server.
type Deps struct {
	Jobs      Submitter
	Registry  JobReader
	Progress  ProgressSource
	Metrics   http.Handler
	Logger    *slog.Logger
	Heartbeat time.Duration
}

// Server exposes the research API.
type Server struct {
	jobs      Submitter
	registry  JobReader
	progress  ProgressSource
	metrics   http.Handler
	log       *slog.Logger
	heartbeat time.Duration

	mu       sync.Mutex
	watchers map[string]map[chan domain.Job]struct{}
}

var _ usecase.JobObserver = (*Server)(nil)

// New builds the server. Register it as a job observer so event streams see status changes.
func New(deps Deps) *Server {
	l := deps.Logger
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	hb := deps.Heartbeat
	if hb <= 0 {
		hb = 15 * time.Second
	}
	return &Server{
		jobs:      deps.Jobs,
		registry:  deps.Registry,
		progress:  deps.Progress,
		metrics:   deps.Metrics,
		log:       l,
		heartbeat: hb,
		watchers:  map[string]map[chan domain.Job]struct{}{},
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	r.Route("/research", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleStatus)
		r.Get("/{id}/events", s.handleEvents)
	})
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

type submitRequest struct {
	Company  string `json:"company"`
	URL      string `json:"url"`
	Industry string `json:"industry"`
	Location string `json:"location"`
	RecordID string `json:"record_id"`
}

type submitResponse struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}

type jobResponse struct {
	domain.Job
	Progress int `json:"progress"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "capacity": s.jobs.Capacity()})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	job, err := s.jobs.Submit(r.Context(), domain.JobInput{
		Company:  req.Company,
		URL:      req.URL,
		Industry: req.Industry,
		Location: req.Location,
		RecordID: req.RecordID,
	})
	switch {
	case errors.Is(err, usecase.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, usecase.ErrShuttingDown):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	case err != nil:
		s.log.Error("submit job", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	w.Header().Set("Location", "/research/"+job.ID)
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: job.ID, Status: job.Status})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	jobs := s.registry.List()
	out := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, s.withProgress(job))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.withProgress(job))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.lookup(w, r); !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}
	id := chi.URLParam(r, "id")

	updates := make(chan pipeline.Update, 32)
	unsubscribe := s.progress.Subscribe(id, pipeline.SubscriberFunc(func(u pipeline.Update) {
		select {
		case updates <- u:
		default:
		}
	}))
	defer unsubscribe()
	statuses := s.watch(id)
	defer s.unwatch(id, statuses)

	// Read again after subscribing; a transition in between would otherwise be lost.
	job, err := s.registry.Get(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "status", s.withProgress(job)); err != nil {
		return
	}
	flusher.Flush()
	if job.Status.Terminal() {
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case u := <-updates:
			err = writeEvent(w, "progress", u)
		case job := <-statuses:
			if err := writeEvent(w, "status", s.withProgress(job)); err != nil {
				return
			}
			flusher.Flush()
			if job.Status.Terminal() {
				return
			}
			continue
		case <-ticker.C:
			_, err = io.WriteString(w, ": ping\n\n")
		}
		if err != nil {
			s.log.Debug("event stream closed", "job_id", id, "error", err)
			return
		}
		flusher.Flush()
	}
}

// JobChanged forwards status changes to open event streams.
func (s *Server) JobChanged(_ context.Context, job domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.watchers[job.ID] {
		select {
		case ch <- job:
		default:
		}
	}
}

func (s *Server) watch(id string) chan domain.Job {
	ch := make(chan domain.Job, 4)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchers[id] == nil {
		s.watchers[id] = map[chan domain.Job]struct{}{}
	}
	s.watchers[id][ch] = struct{}{}
	return ch
}

func (s *Server) unwatch(id string, ch chan domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers[id], ch)
	if len(s.watchers[id]) == 0 {
		delete(s.watchers, id)
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	job, err := s.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, usecase.ErrJobNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return domain.Job{}, false
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return domain.Job{}, false
	}
	return job, true
}

func (s *Server) withProgress(job domain.Job) jobResponse {
	resp := jobResponse{Job: job}
	if job.Status == domain.JobCompleted {
		resp.Progress = 100
	} else if pct, ok := s.progress.Last(job.ID); ok {
		resp.Progress = pct
	}
	return resp
}

func writeEvent(w io.Writer, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", name, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
