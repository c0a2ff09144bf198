package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sakif/live-playground/internal/apperror"
	"github.com/sakif/live-playground/internal/auth"
	"github.com/sakif/live-playground/internal/executor"
	"github.com/sakif/live-playground/internal/fstree"
	"github.com/sakif/live-playground/internal/fullstack"
	"github.com/sakif/live-playground/internal/model"
	"github.com/sakif/live-playground/internal/registry"
	"github.com/sakif/live-playground/internal/repository"
	"github.com/sakif/live-playground/internal/runtime"
	"github.com/sakif/live-playground/internal/stream"
)

// maxStreams bounds how many finished run streams stay replayable.
const maxStreams = 32

// RunRequest starts a backend or full-stack run. Nil trees fall back to the
// framework's starter template. Files is the backend tree; Frontend is only
// read for full-stack frameworks.
type RunRequest struct {
	Framework string          `json:"framework"`
	Files     fstree.Template `json:"files,omitempty"`
	Frontend  fstree.Template `json:"frontend,omitempty"`
}

type StartResult struct {
	Run   *model.Run `json:"run"`
	Token string     `json:"token"`
}

// activeRun is the run whose process the runtime currently tracks.
type activeRun struct {
	run      model.Run
	kind     registry.Kind
	log      *stream.Log
	inflight bool
}

// RunService starts runs on the shared runtime, records their history and
// keeps their event streams.
//
// The runtime holds one process at a time. While a run is still between
// start and readiness another Start is refused with a conflict; once it has
// resolved, a new Start supersedes it.
type RunService struct {
	registry    *registry.Registry
	runner      fullstack.Runner
	coordinator *fullstack.Coordinator
	repo        repository.RunRepository
	tokens      *auth.TokenService
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	current *activeRun
	streams map[string]*stream.Log
	order   []string
}

func NewRunService(
	reg *registry.Registry,
	runner fullstack.Runner,
	repo repository.RunRepository,
	tokens *auth.TokenService,
	logger *slog.Logger,
) *RunService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RunService{
		registry:    reg,
		runner:      runner,
		coordinator: fullstack.New(runner, logger),
		repo:        repo,
		tokens:      tokens,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		streams:     make(map[string]*stream.Log),
	}
}

// Recover fails runs a previous server process left running.
func (s *RunService) Recover(ctx context.Context) error {
	n, err := s.repo.FailRunning(ctx, "server restarted before the run resolved")
	if err != nil {
		return fmt.Errorf("recovering runs: %w", err)
	}
	if n > 0 {
		s.logger.Warn("marked orphaned runs as failed", slog.Int64("count", n))
	}
	return nil
}

// Start validates the request, records the run and executes it in the
// background. The returned token authorizes the run's stream and Stop.
func (s *RunService) Start(ctx context.Context, req RunRequest) (*StartResult, error) {
	fw, ok := s.registry.Get(req.Framework)
	if !ok {
		return nil, apperror.NotFound("framework", req.Framework)
	}
	if fw.Kind != registry.KindBackend && fw.Kind != registry.KindFullstack {
		return nil, apperror.ValidationFailed("framework",
			fmt.Sprintf("%s is a frontend framework; render it instead", fw.ID))
	}

	backend := req.Files
	if backend == nil {
		backend = fw.Template.Backend
	}
	if _, ok := backend.Lookup(runtime.ManifestFile); !ok {
		return nil, apperror.ValidationFailed("files", runtime.ManifestFile+" is required")
	}
	if err := validateTree("files", backend); err != nil {
		return nil, err
	}
	frontend := req.Frontend
	if fw.Kind == registry.KindFullstack {
		if frontend == nil {
			frontend = fw.Template.Frontend
		}
		if err := validateTree("frontend", frontend); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return nil, apperror.Unavailable("server is shutting down")
	}
	if s.current != nil && s.current.inflight {
		return nil, apperror.Conflict("run", s.current.run.ID)
	}

	run := &model.Run{Framework: fw.ID, Kind: string(fw.Kind)}
	if err := s.repo.Create(ctx, run); err != nil {
		s.logger.Error("failed to create run", slog.String("framework", fw.ID), slog.String("error", err.Error()))
		return nil, fmt.Errorf("creating run: %w", err)
	}
	token, err := s.tokens.Issue(run.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing run token: %w", err)
	}

	if prev := s.current; prev != nil {
		// the runtime preempts its process when the new run starts
		s.finishLocked(ctx, prev, model.RunStopped, "superseded by run "+run.ID)
	}

	active := &activeRun{run: *run, kind: fw.Kind, log: stream.New(), inflight: true}
	s.current = active
	s.addStreamLocked(run.ID, active.log)

	s.wg.Add(1)
	go s.execute(active, backend, frontend)

	s.logger.Info("run started", slog.String("id", run.ID), slog.String("framework", fw.ID))
	return &StartResult{Run: run, Token: token}, nil
}

func (s *RunService) execute(active *activeRun, backend, frontend fstree.Template) {
	defer s.wg.Done()

	log := active.log
	onOutput := func(ev executor.OutputEvent) { _ = log.Output(ev) }
	onReady := func(u string) {
		s.mu.Lock()
		active.run.URL = u
		s.mu.Unlock()
		_, _ = log.Append(stream.Event{Type: stream.TypeReady, URL: u})
	}

	var (
		state runtime.State
		err   error
	)
	switch active.kind {
	case registry.KindFullstack:
		state, err = s.coordinator.Execute(s.ctx, fullstack.Template{Files: fullstack.Files{Frontend: frontend, Backend: backend}}, fullstack.Callbacks{
			OnBackendOutput: onOutput,
			OnBackendReady:  onReady,
			OnFrontendReady: func(u string) {
				_, _ = log.Append(stream.Event{Type: stream.TypeFrontend, URL: u})
			},
			OnError: func(msg string) {
				_, _ = log.Append(stream.Event{Type: stream.TypeError, Message: msg})
			},
		})
	default:
		state, err = s.runner.Execute(s.ctx, backend, onOutput, onReady)
		if err != nil {
			_, _ = log.Append(stream.Event{Type: stream.TypeError, Message: err.Error()})
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	active.inflight = false

	ctx := context.WithoutCancel(s.ctx)
	switch {
	case err != nil:
		s.finishLocked(ctx, active, model.RunFailed, err.Error())
		if s.current == active {
			s.current = nil
		}
	case state == runtime.StateTimeout:
		s.recordLocked(ctx, active, model.RunTimeout, "")
	default:
		s.recordLocked(ctx, active, model.RunReady, "")
	}
}

// recordLocked stores the run's state; its stream stays open for the output
// of the still-running server.
func (s *RunService) recordLocked(ctx context.Context, a *activeRun, state model.RunState, msg string) {
	a.run.State = state
	if msg != "" {
		a.run.Error = msg
	}
	if err := s.repo.Update(ctx, &a.run); err != nil {
		s.logger.Error("failed to record run", slog.String("id", a.run.ID), slog.String("error", err.Error()))
	}
	s.logger.Info("run resolved", slog.String("id", a.run.ID), slog.String("state", string(state)))
}

// finishLocked records the final state and ends the run's stream.
func (s *RunService) finishLocked(ctx context.Context, a *activeRun, state model.RunState, msg string) {
	s.recordLocked(ctx, a, state, msg)
	_, _ = a.log.Append(stream.Event{Type: stream.TypeDone, State: string(state), Message: msg})
	a.log.Close()
}

func (s *RunService) addStreamLocked(id string, log *stream.Log) {
	s.streams[id] = log
	s.order = append(s.order, id)
	for len(s.order) > maxStreams {
		oldest := s.order[0]
		if l := s.streams[oldest]; l != nil && !l.Closed() {
			break
		}
		delete(s.streams, oldest)
		s.order = s.order[1:]
	}
}

// Stop ends the current run. Only the current, resolved run can be stopped.
func (s *RunService) Stop(ctx context.Context, id string) (*model.Run, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.current
	if a == nil || a.run.ID != id || a.inflight {
		return nil, apperror.Conflict("run", id)
	}

	if a.kind == registry.KindFullstack {
		if err := s.coordinator.Cleanup(ctx); err != nil {
			s.logger.Warn("full-stack cleanup failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}
	// a full-stack run that timed out still has a process the coordinator
	// does not consider running
	if err := s.runner.Cleanup(ctx); err != nil {
		s.logger.Warn("runtime cleanup failed", slog.String("id", id), slog.String("error", err.Error()))
	}

	s.finishLocked(ctx, a, model.RunStopped, "")
	s.current = nil
	run := a.run
	return &run, nil
}

// Events replays the run's events from seq on and follows new ones until the
// run's stream closes or ctx ends.
func (s *RunService) Events(ctx context.Context, id string, from int, fn func(stream.Event) error) error {
	s.mu.Lock()
	log, ok := s.streams[id]
	s.mu.Unlock()
	if !ok {
		return apperror.NotFound("run stream", id)
	}
	return log.Subscribe(ctx, from, fn)
}

func (s *RunService) Get(ctx context.Context, id string) (*model.Run, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *RunService) List(ctx context.Context, framework string, limit, offset int) ([]model.Run, error) {
	limit, offset = clampList(limit, offset)
	runs, err := s.repo.List(ctx, repository.ListOptions{Limit: limit, Offset: offset, Framework: framework})
	if err != nil {
		s.logger.Error("failed to list runs", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// Current returns the id of the run the runtime is tracking, if any.
func (s *RunService) Current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", false
	}
	return s.current.run.ID, true
}

// Shutdown cancels in-flight executions, waits for them, and closes every
// stream. The runtime itself is torn down by its owner.
func (s *RunService) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if a := s.current; a != nil {
		s.finishLocked(context.WithoutCancel(ctx), a, model.RunStopped, "server shutting down")
		s.current = nil
	}
	for _, log := range s.streams {
		log.Close()
	}
	return nil
}
