package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/streamfold/ris-relay/internal/filter"
	"github.com/streamfold/ris-relay/internal/jobs"
	"github.com/streamfold/ris-relay/internal/ripestat"
)

const (
	DefaultAddr = "localhost:8000"

	defaultLookupWindow = time.Hour
	shutdownTimeout     = 5 * time.Second
	maxRequestBody      = 1 << 20
)

// Relay is the live side of the server
type Relay interface {
	http.Handler
	UpstreamConnected() bool
	Subscribers() int
}

// JobService manages historical fetch jobs
type JobService interface {
	Submit(req jobs.SubmitRequest) (string, error)
	Get(id string) (jobs.Job, error)
	Cancel(id string) error
	Active() int
}

type Config struct {
	Addr       string
	MaxRecords int
}

// Server exposes the websocket relay, the job API, health and metrics
type Server struct {
	cfg      Config
	log      *zap.Logger
	relay    Relay
	jobs     JobService
	lookup   jobs.Fetcher
	gatherer prometheus.Gatherer
	srv      *http.Server
	ln       net.Listener
}

func New(cfg Config, relay Relay, js JobService, lookup jobs.Fetcher, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = ripestat.DefaultMaxRecords
	}

	s := &Server{
		cfg:      cfg,
		log:      log,
		relay:    relay,
		jobs:     js,
		lookup:   lookup,
		gatherer: gatherer,
	}

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the routing table, it is also used directly in tests
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws/ris-live", s.relay)
	mux.HandleFunc("POST /api/bgp-historic-job", s.handleSubmit)
	mux.HandleFunc("GET /api/bgp-historic-job/{id}", s.handleStatus)
	mux.HandleFunc("DELETE /api/bgp-historic-job/{id}", s.handleCancel)
	mux.HandleFunc("GET /api/bgp-historic-job/{id}/updates", s.handleJobUpdates)
	mux.HandleFunc("GET /api/bgp-historic", s.handleLookup)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return mux
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln

	s.log.Info("Starting control server", zap.String("addr", s.Addr()))

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("control server error", zap.Error(err))
		}
	}()

	return nil
}

func (s *Server) Stop() error {
	s.log.Debug("Stopping control server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return s.srv.Shutdown(ctx)
}

// Addr is the bound address once started, the configured one before
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Addr
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest

	// the body wins, query parameters are accepted for form-less clients
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
			return
		}
	} else {
		q := r.URL.Query()
		req = SubmitRequest{
			Resource:  q.Get("resource"),
			StartTime: q.Get("starttime"),
			EndTime:   q.Get("endtime"),
		}
	}

	if req.Resource == "" || req.StartTime == "" || req.EndTime == "" {
		writeError(w, http.StatusBadRequest, "resource, starttime and endtime are required")
		return
	}

	start, err := ParseTime(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := ParseTime(req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.jobs.Submit(jobs.SubmitRequest{Resource: req.Resource, Start: start, End: end})
	switch {
	case errors.Is(err, jobs.ErrInvalidResource), errors.Is(err, jobs.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, jobs.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.log.Error("failed to submit job", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.log.Info("job submitted",
		zap.String("job_id", id),
		zap.String("resource", req.Resource),
		zap.Time("start", start),
		zap.Time("end", end),
	)

	writeJSON(w, http.StatusOK, SubmitResponse{JobID: id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.getJob(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, newJobResponse(job))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	err := s.jobs.Cancel(r.PathValue("id"))
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, jobs.ErrJobFinished):
		writeError(w, http.StatusConflict, "Job already finished")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleJobUpdates(w http.ResponseWriter, r *http.Request) {
	job, ok := s.getJob(w, r)
	if !ok {
		return
	}

	entries := make([]filter.Entry, 0)
	for _, cr := range job.ChunkResults {
		chunkEntries, err := ripestat.Updates(cr.Data)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		entries = append(entries, chunkEntries...)
	}

	s.writeEntries(w, r.URL.Query().Get("query"), entries)
}

// handleLookup is a single synchronous fetch, bounded by the default window
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	q, err := filter.ParseQuery(params.Get("query"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	until := time.Now().UTC()
	if v := params.Get("until_time"); v != "" {
		if until, err = ParseTime(v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	from := until.Add(-defaultLookupWindow)
	if v := params.Get("from_time"); v != "" {
		if from, err = ParseTime(v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if !from.Before(until) {
		writeError(w, http.StatusBadRequest, "from_time must be before until_time")
		return
	}

	data, err := s.lookup.Fetch(r.Context(), ripestat.Query{
		Resource:   q.String(),
		Start:      from,
		End:        until,
		MaxRecords: s.cfg.MaxRecords,
	})
	if err != nil {
		s.log.Warn("historic lookup failed", zap.String("query", q.String()), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	entries, err := ripestat.Updates(data)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.writeEntries(w, q.String(), entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:            "ok",
		UpstreamConnected: s.relay.UpstreamConnected(),
		Subscribers:       s.relay.Subscribers(),
		ActiveJobs:        s.jobs.Active(),
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) (jobs.Job, bool) {
	job, err := s.jobs.Get(r.PathValue("id"))
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return jobs.Job{}, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return jobs.Job{}, false
	}
	return job, true
}

func (s *Server) writeEntries(w http.ResponseWriter, query string, entries []filter.Entry) {
	if query != "" {
		matched, err := filter.Match(query, entries)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		entries = matched
	}

	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}
