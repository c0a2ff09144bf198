package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/live-playground/internal/apperror"
	"github.com/sakif/live-playground/internal/model"
	"github.com/sakif/live-playground/internal/service"
	"github.com/sakif/live-playground/internal/stream"
)

// Runs is the run lifecycle; *service.RunService implements it.
type Runs interface {
	Start(ctx context.Context, req service.RunRequest) (*service.StartResult, error)
	Stop(ctx context.Context, id string) (*model.Run, error)
	Events(ctx context.Context, id string, from int, fn func(stream.Event) error) error
	Get(ctx context.Context, id string) (*model.Run, error)
	List(ctx context.Context, framework string, limit, offset int) ([]model.Run, error)
}

// heartbeat keeps idle event streams from being cut by proxies.
const heartbeat = 15 * time.Second

// RunHandler serves backend and full-stack runs.
type RunHandler struct {
	runs   Runs
	logger *slog.Logger
}

func NewRunHandler(runs Runs, logger *slog.Logger) *RunHandler {
	return &RunHandler{runs: runs, logger: logger}
}

// StartResponse is returned by POST /api/runs. Token authorizes the run's
// event stream and its cleanup.
type StartResponse struct {
	ID    string     `json:"id"`
	Token string     `json:"token"`
	Run   *model.Run `json:"run"`
}

// HandleStart starts a run and returns immediately; progress arrives on the
// event stream.
//
// HTTP: POST /api/runs
// REQUEST BODY: {"framework": "express", "files": {...}, "frontend": {...}}
func (h *RunHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req service.RunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("invalid run request body", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	res, err := h.runs.Start(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, StartResponse{ID: res.Run.ID, Token: res.Token, Run: res.Run})
}

// HandleList returns run history, newest first.
//
// HTTP: GET /api/runs?framework=express&limit=20&offset=0
func (h *RunHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := intParam(q.Get("offset"), "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	runs, err := h.runs.List(r.Context(), q.Get("framework"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// HandleGet returns one run's history record.
//
// HTTP: GET /api/runs/{id}
func (h *RunHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// HandleStop kills the run's server. Only the current run can be stopped.
//
// HTTP: DELETE /api/runs/{id}
func (h *RunHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Stop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// HandleEvents streams the run's events as Server-Sent Events.
//
// HTTP: GET /api/runs/{id}/events?token=...
//
// Every event carries its sequence number as the SSE id, so a reconnecting
// EventSource resumes through Last-Event-ID; ?from=N does the same for
// clients that manage it themselves. The stream ends after the done event.
func (h *RunHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	from, err := resumeFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}

	// the server's WriteTimeout would otherwise cut a long-lived stream
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("could not clear write deadline", slog.String("error", err.Error()))
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
	}

	events := make(chan stream.Event)
	done := make(chan error, 1)
	go func() {
		done <- h.runs.Events(ctx, id, from, func(ev stream.Event) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev := <-events:
			start()
			if err := writeEvent(w, ev); err != nil {
				h.logger.Debug("event client went away", slog.String("run", id), slog.String("error", err.Error()))
				return
			}
			_ = rc.Flush()
		case <-ticker.C:
			start()
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
		case err := <-done:
			if err != nil && !started && !errors.Is(err, context.Canceled) {
				writeError(w, err)
				return
			}
			start()
			return
		}
	}
}

// writeEvent writes one SSE frame. Payloads are single-line JSON.
func writeEvent(w http.ResponseWriter, ev stream.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data)
	return err
}

// resumeFrom picks the first sequence number to send.
func resumeFrom(r *http.Request) (int, error) {
	if last := r.Header.Get("Last-Event-ID"); last != "" {
		n, err := strconv.Atoi(last)
		if err != nil || n < 0 {
			return 0, apperror.ValidationFailed("Last-Event-ID", "Last-Event-ID must be a sequence number")
		}
		return n + 1, nil
	}
	return intParam(r.URL.Query().Get("from"), "from")
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperror.ValidationFailed(name, name+" must be a non-negative integer")
	}
	return n, nil
}
