package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/MimeLyc/hodarchive/internal/jobs"
	"github.com/MimeLyc/hodarchive/internal/persistence"
)

type historyReader interface {
	ListRuns(ctx context.Context, limit int) ([]persistence.RunRecord, error)
	LoadEvents(ctx context.Context, runID string) ([]jobs.Event, error)
}

// Server exposes the run history as read-only JSON.
type Server struct {
	history historyReader
	limit   int

	mux *http.ServeMux

	mu       sync.Mutex
	server   *http.Server
	shutdown bool
}

type Option func(*Server)

// WithDefaultLimit sets how many runs /api/runs returns without ?limit.
func WithDefaultLimit(limit int) Option {
	return func(s *Server) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

func NewServer(history historyReader, opts ...Option) *Server {
	s := &Server{
		history: history,
		limit:   20,
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe blocks until the server fails or Shutdown is called. It may
// run on a different goroutine than Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server = server
	s.mu.Unlock()

	return server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/runs", s.handleListRuns)
	s.mux.HandleFunc("/api/runs/", s.handleRunEvents)
}
