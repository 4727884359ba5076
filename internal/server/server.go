// Package server exposes the conversation over HTTP: the ledger as JSON, live
// and replayed conversations as Server-Sent Events, run control, health and
// metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dyluth/agora/internal/metrics"
	"github.com/dyluth/agora/internal/runner"
	"github.com/dyluth/agora/internal/stream"
	"github.com/dyluth/agora/pkg/blackboard"
	"github.com/dyluth/agora/pkg/ledger"
)

// HistoryLedger is the read side of the ledger the server needs.
type HistoryLedger interface {
	ledger.Reader
	ReadAll(ctx context.Context) ([]ledger.Entry, error)
	End(ctx context.Context) (ledger.Cursor, error)
	Path() string
}

// RunStore reads run and round records. *blackboard.Client implements it.
type RunStore interface {
	Ping(ctx context.Context) error
	GetRun(ctx context.Context, runID string) (*blackboard.Run, error)
	ListRounds(ctx context.Context, runID string) ([]*blackboard.RoundEvent, error)
}

// Deps are the collaborators of a Server. Runs and Metrics are optional.
type Deps struct {
	Ledger  HistoryLedger
	Hub     *stream.Hub
	Manager *runner.Manager
	Runs    RunStore
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// Options configure request defaults.
type Options struct {
	Addr          string
	DefaultReplay bool          // replay instead of live when ?replay is absent
	ReplayDelay   time.Duration // delay between replayed messages when ?pause_seconds is absent
	PollInterval  time.Duration // ledger polling interval for /api/history/stream
}

// Server is the HTTP front end.
type Server struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
	server *http.Server
}

// New creates a server.
func New(deps Deps, opts Options) (*Server, error) {
	if deps.Ledger == nil || deps.Hub == nil || deps.Manager == nil {
		return nil, fmt.Errorf("server requires a ledger, a hub and a run manager")
	}
	if opts.Addr == "" {
		opts.Addr = ":8000"
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{deps: deps, opts: opts, logger: logger.With(zap.String("component", "server"))}, nil
}

// Handler returns the routed handler with request metrics applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/history/stream", s.handleHistoryStream)
	mux.HandleFunc("GET /api/conversation/stream", s.handleConversationStream)
	mux.HandleFunc("GET /api/runs", s.handleRunStatus)
	mux.HandleFunc("POST /api/runs", s.handleStartRun)
	mux.HandleFunc("DELETE /api/runs", s.handleStopRun)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	return s.instrument(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
// Streaming responses end when their request contexts are cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.opts.Addr))
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// Patterns look like "GET /api/runs/{id}"; label by the path part
		// to keep cardinality bounded.
		path := "unmatched"
		if r.Pattern != "" {
			_, p, found := strings.Cut(r.Pattern, " ")
			if !found {
				p = r.Pattern
			}
			path = p
		}
		s.deps.Metrics.RecordHTTPRequest(r.Method, path, rec.status, time.Since(start))
	})
}
