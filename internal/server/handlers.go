package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dyluth/agora/internal/runner"
	"github.com/dyluth/agora/internal/stream"
	"github.com/dyluth/agora/pkg/blackboard"
	"github.com/dyluth/agora/pkg/ledger"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RunStatusResponse describes the run manager.
type RunStatusResponse struct {
	Active     bool   `json:"active"`
	State      string `json:"state"`
	LastRunID  string `json:"last_run_id,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
	Rounds     int    `json:"rounds,omitempty"`
	Turns      int    `json:"turns,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RunDetailResponse is a stored run with its rounds.
type RunDetailResponse struct {
	Run    *blackboard.Run          `json:"run"`
	Rounds []*blackboard.RoundEvent `json:"rounds"`
}

// StartRunRequest optionally overrides run limits.
type StartRunRequest struct {
	MaxRounds    int      `json:"max_rounds,omitempty"`
	PauseSeconds *float64 `json:"pause_seconds,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// startStream sends the SSE headers immediately so clients see the stream
// open before the first event.
func startStream(w http.ResponseWriter) {
	stream.SetHeaders(w)
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// handleHistory returns every valid ledger entry.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Ledger.ReadAll(r.Context())
	if errors.Is(err, ledger.ErrNoLedger) {
		entries, err = []ledger.Entry{}, nil
	}
	if err != nil {
		s.logger.Error("failed to read history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleHistoryStream follows the ledger and streams entries appended after
// the client connects.
func (s *Server) handleHistoryStream(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	from, err := s.deps.Ledger.End(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	startStream(w)
	enc := stream.NewEncoder(w)

	tailer := ledger.NewTailer(s.deps.Ledger, s.deps.Ledger.Path(), s.opts.PollInterval, s.logger)
	if err := stream.Follow(ctx, tailer, from, enc); err != nil {
		s.logger.Warn("history stream ended", zap.Error(err))
		enc.Encode(blackboard.Failure(err.Error()))
	}
}

// handleConversationStream replays the ledger or joins the live conversation,
// starting a run when none is active.
//
// Query parameters: replay (bool), pause_seconds (float, replay delay or
// live pause), turns (int, live round limit).
func (s *Server) handleConversationStream(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	q := r.URL.Query()
	replay := s.opts.DefaultReplay
	if v := q.Get("replay"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid replay: "+v)
			return
		}
		replay = b
	}

	pause, err := parseSeconds(q.Get("pause_seconds"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pause_seconds: "+err.Error())
		return
	}

	turns := 0
	if v := q.Get("turns"); v != "" {
		turns, err = strconv.Atoi(v)
		if err != nil || turns < 1 {
			writeError(w, http.StatusBadRequest, "invalid turns: must be a positive integer")
			return
		}
	}

	ctx := r.Context()
	if replay {
		delay := s.opts.ReplayDelay
		if pause != nil {
			delay = *pause
		}
		startStream(w)
		if err := stream.Replay(ctx, s.deps.Ledger, delay, stream.NewEncoder(w)); err != nil && ctx.Err() == nil {
			s.logger.Info("replay ended early", zap.Error(err))
		}
		return
	}

	// Subscribe before starting so the run's first events are not missed.
	sub := s.deps.Hub.Subscribe()
	defer sub.Close()

	_, err = s.deps.Manager.Start(ctx, runner.Overrides{MaxRounds: turns, Pause: pause})
	switch {
	case errors.Is(err, runner.ErrRunActive):
		s.logger.Debug("joining active run")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	startStream(w)
	if err := sub.Pipe(ctx, stream.NewEncoder(w)); err != nil && ctx.Err() == nil {
		s.logger.Warn("live stream ended", zap.Error(err))
	}
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	resp := RunStatusResponse{
		Active: s.deps.Manager.Active(),
		State:  string(s.deps.Manager.State()),
	}
	if last, ok := s.deps.Manager.Last(); ok {
		resp.LastRunID = last.Summary.RunID
		resp.StopReason = string(last.Summary.StopReason)
		resp.Rounds = last.Summary.Rounds
		resp.Turns = last.Summary.Turns
		if last.Err != nil {
			resp.Error = last.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	if req.MaxRounds < 0 {
		writeError(w, http.StatusBadRequest, "max_rounds cannot be negative")
		return
	}

	var pause *time.Duration
	if req.PauseSeconds != nil {
		if *req.PauseSeconds < 0 {
			writeError(w, http.StatusBadRequest, "pause_seconds cannot be negative")
			return
		}
		d := time.Duration(*req.PauseSeconds * float64(time.Second))
		pause = &d
	}

	_, err := s.deps.Manager.Start(r.Context(), runner.Overrides{MaxRounds: req.MaxRounds, Pause: pause})
	if errors.Is(err, runner.ErrRunActive) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Manager.Stop() {
		writeError(w, http.StatusNotFound, "no active run")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusNotImplemented, "run records require redis.url to be configured")
		return
	}

	id := r.PathValue("id")
	ctx := r.Context()
	run, err := s.deps.Runs.GetRun(ctx, id)
	if blackboard.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "run not found: "+id)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rounds, err := s.deps.Runs.ListRounds(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rounds == nil {
		rounds = []*blackboard.RoundEvent{}
	}
	writeJSON(w, http.StatusOK, RunDetailResponse{Run: run, Rounds: rounds})
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string `json:"status"`
	Ledger string `json:"ledger"`
	Redis  string `json:"redis,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleHealth returns 200 when the ledger is readable and Redis (if
// configured) answers, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{Status: "healthy", Ledger: "ok"}
	status := http.StatusOK

	if _, err := s.deps.Ledger.End(ctx); err != nil {
		response.Status = "unhealthy"
		response.Ledger = "unreadable"
		response.Error = err.Error()
		status = http.StatusServiceUnavailable
	}

	if s.deps.Runs != nil {
		if err := s.deps.Runs.Ping(ctx); err != nil {
			response.Status = "unhealthy"
			response.Redis = "disconnected"
			response.Error = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			response.Redis = "connected"
		}
	}

	writeJSON(w, status, response)
}

// parseSeconds parses a non-negative number of seconds. Empty means unset.
func parseSeconds(v string) (*time.Duration, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, err
	}
	if f < 0 {
		return nil, errors.New("must not be negative")
	}
	d := time.Duration(f * float64(time.Second))
	return &d, nil
}
