// Package server provides the job gateway HTTP API.
//
// Clients submit k-anonymity comparison jobs, which are queued for the
// workers, and poll them by ID until they complete or fail.
package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/luxfi/log"

	"github.com/luxfi/kanon/internal/pipeline"
	"github.com/luxfi/kanon/internal/queue"
)

// Config holds gateway configuration
type Config struct {
	Modulus  uint64 // Plaintext modulus of the workers
	Slots    int    // Slot count of the workers
	MaxRows  int    // Largest accepted dataset (default: 4096)
	MaxBytes int64  // Request body limit (default: 64KiB)

	Logger log.Logger // Nil means log.Root()
}

// Server is the job gateway
type Server struct {
	cfg   Config
	queue queue.Queue
	log   log.Logger
}

// New creates a gateway over q.
func New(cfg Config, q queue.Queue) *Server {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 4096
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 64 << 10
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Root()
	}
	return &Server{cfg: cfg, queue: q, log: cfg.Logger}
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /jobs", s.handleSubmit)
	mux.HandleFunc("GET /jobs/{id}", s.handleGet)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"modulus": s.cfg.Modulus,
		"slots":   s.cfg.Slots,
	})
}

// SubmitRequest is the body of POST /jobs
type SubmitRequest struct {
	Method    string  `json:"method"`
	Backend   string  `json:"backend,omitempty"`
	Rows      int     `json:"rows"`
	Cols      int     `json:"cols"`
	Density   float64 `json:"density"`
	Seed      uint64  `json:"seed"`
	User      int     `json:"user"`
	Threshold uint64  `json:"threshold"`
}

// SubmitResponse is returned for an accepted job
type SubmitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// JobResponse is the body of GET /jobs/{id}
type JobResponse struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Result []uint64 `json:"result,omitempty"`
	Below  []int    `json:"below,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// validate rejects jobs no worker could answer.
func (s *Server) validate(req *SubmitRequest) error {
	method, err := pipeline.ParseMethod(req.Method)
	if err != nil {
		return err
	}
	switch req.Backend {
	case "", pipeline.BackendHost, pipeline.BackendDevice:
	default:
		return fmt.Errorf("unknown backend %q", req.Backend)
	}
	if req.Rows <= 0 || req.Rows > s.cfg.MaxRows {
		return fmt.Errorf("rows must be in [1, %d]", s.cfg.MaxRows)
	}
	if req.Cols <= 0 || (s.cfg.Slots > 0 && req.Cols > s.cfg.Slots) {
		return fmt.Errorf("cols must be in [1, %d]", s.cfg.Slots)
	}
	if req.Density < 0 || req.Density > 1 {
		return errors.New("density must be between 0.0 and 1.0")
	}
	if req.User < 0 || req.User >= req.Rows {
		return fmt.Errorf("user must be in [0, %d)", req.Rows)
	}
	if req.Threshold == 0 {
		return errors.New("threshold must be positive")
	}
	if p := s.cfg.Modulus; p != 0 {
		if method == pipeline.MethodRange && req.Threshold >= p {
			return fmt.Errorf("threshold must be below %d", p)
		}
		if method != pipeline.MethodRange && req.Threshold > (p-1)/2 {
			return fmt.Errorf("threshold must not exceed %d", (p-1)/2)
		}
	}
	req.Method = string(method)
	return nil
}

func newJobID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBytes)

	var req SubmitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.validate(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := newJobID()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	job := &queue.Job{
		ID:        id,
		Method:    req.Method,
		Backend:   req.Backend,
		Rows:      req.Rows,
		Cols:      req.Cols,
		Density:   req.Density,
		Seed:      req.Seed,
		User:      req.User,
		Threshold: req.Threshold,
	}

	if err := s.queue.Push(r.Context(), job); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrConnectionLost) {
			code = http.StatusServiceUnavailable
		}
		s.log.Warn("failed to queue job", "job", id, "err", err)
		http.Error(w, err.Error(), code)
		return
	}

	s.log.Info("job queued", "job", id, "method", job.Method, "rows", job.Rows, "cols", job.Cols)
	writeJSON(w, http.StatusAccepted, SubmitResponse{ID: id, Status: job.Status.String()})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.queue.Get(r.Context(), id)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, queue.ErrJobNotFound) {
			code = http.StatusNotFound
		}
		http.Error(w, err.Error(), code)
		return
	}

	writeJSON(w, http.StatusOK, JobResponse{
		ID:     job.ID,
		Status: job.Status.String(),
		Result: job.Result,
		Below:  job.Below,
		Error:  job.Error,
	})
}
