package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sakif/live-playground/internal/apperror"
	"github.com/sakif/live-playground/internal/auth"
	"github.com/sakif/live-playground/internal/fstree"
	"github.com/sakif/live-playground/internal/model"
	"github.com/sakif/live-playground/internal/registry"
	"github.com/sakif/live-playground/internal/repository"
	"github.com/sakif/live-playground/internal/runtime"
	"github.com/sakif/live-playground/internal/runtime/runtimetest"
	"github.com/sakif/live-playground/internal/stream"
)

// =========================================================================
// MOCK REPOSITORY
// =========================================================================

// mockRunRepo keeps runs in memory. Executions call Update from their own
// goroutine, so every method locks.
type mockRunRepo struct {
	mu     sync.Mutex
	runs   map[string]*model.Run
	nextID int
	// createErr, when set, fails Create
	createErr error
}

func newMockRepo() *mockRunRepo {
	return &mockRunRepo{runs: make(map[string]*model.Run)}
}

func (m *mockRunRepo) Create(_ context.Context, run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	run.ID = fmt.Sprintf("mock-%d", m.nextID)
	run.StartedAt = time.Now().UTC().Add(time.Duration(m.nextID) * time.Millisecond)
	if run.State == "" {
		run.State = model.RunRunning
	}
	stored := *run
	m.runs[run.ID] = &stored
	return nil
}

func (m *mockRunRepo) GetByID(_ context.Context, id string) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, apperror.NotFound("run", id)
	}
	result := *run
	return &result, nil
}

func (m *mockRunRepo) List(_ context.Context, opts repository.ListOptions) ([]model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]model.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.Framework == "" || r.Framework == opts.Framework {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.After(result[j].StartedAt) })

	if opts.Offset >= len(result) {
		return []model.Run{}, nil
	}
	result = result[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(result) {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (m *mockRunRepo) Update(_ context.Context, run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.runs[run.ID]
	if !ok {
		return apperror.NotFound("run", run.ID)
	}
	finished := stored.FinishedAt
	*stored = *run
	if finished == nil && run.Finished() {
		now := time.Now().UTC()
		finished = &now
	}
	stored.FinishedAt = finished
	return nil
}

func (m *mockRunRepo) FailRunning(_ context.Context, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.runs {
		if r.State == model.RunRunning {
			r.State = model.RunFailed
			r.Error = reason
			n++
		}
	}
	return n, nil
}

// state reads a run's recorded state.
func (m *mockRunRepo) state(t *testing.T, id string) model.RunState {
	t.Helper()
	run, err := m.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s) error = %v", id, err)
	}
	return run.State
}

// =========================================================================
// TEST HELPERS
// =========================================================================

const readyURL = "http://localhost:3000"

type runFixture struct {
	svc    *RunService
	repo   *mockRunRepo
	inst   *runtimetest.Instance
	tokens *auth.TokenService
}

// newTestRunService wires a RunService to a real orchestrator over the
// in-memory runtime. The fake server reports ready right after it spawns.
func newTestRunService(t *testing.T) *runFixture {
	t.Helper()
	reg, err := registry.Default()
	if err != nil {
		t.Fatalf("registry.Default() error = %v", err)
	}
	tokens, err := auth.NewTokenService("test-secret-at-least-16", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}

	host := runtimetest.NewHost()
	host.Instance.ReadyURL = readyURL
	orch := runtime.NewOrchestrator(runtime.NewSession(host), runtime.Config{
		ReadyTimeout: 200 * time.Millisecond,
		GracePeriod:  time.Millisecond,
	}, testLogger())

	repo := newMockRepo()
	svc := NewRunService(reg, orch, repo, tokens, testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return &runFixture{svc: svc, repo: repo, inst: host.Instance, tokens: tokens}
}

var errSeen = errors.New("seen")

// waitFor collects the run's events until one of the given types arrives.
func waitFor(t *testing.T, svc *RunService, id string, types ...stream.Type) []stream.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got []stream.Event
	err := svc.Events(ctx, id, 0, func(ev stream.Event) error {
		got = append(got, ev)
		for _, typ := range types {
			if ev.Type == typ {
				return errSeen
			}
		}
		return nil
	})
	if !errors.Is(err, errSeen) {
		t.Fatalf("waiting for %v on run %s: %v (got %v)", types, id, err, eventTypes(got))
	}
	return got
}

func eventTypes(evs []stream.Event) []stream.Type {
	out := make([]stream.Type, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func hasType(evs []stream.Event, typ stream.Type) bool {
	for _, ev := range evs {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

// =========================================================================
// START TESTS
// =========================================================================

func TestStart_BackendReady(t *testing.T) {
	f := newTestRunService(t)

	res, err := f.svc.Start(context.Background(), RunRequest{Framework: "express"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if res.Run.ID == "" {
		t.Fatal("expected the run to have an ID")
	}
	if res.Run.State != model.RunRunning {
		t.Errorf("State = %q, want %q", res.Run.State, model.RunRunning)
	}
	subject, err := f.tokens.Validate(res.Token)
	if err != nil || subject != res.Run.ID {
		t.Errorf("token subject = %q (err %v), want %q", subject, err, res.Run.ID)
	}

	evs := waitFor(t, f.svc, res.Run.ID, stream.TypeReady)
	last := evs[len(evs)-1]
	if last.URL != readyURL {
		t.Errorf("ready URL = %q, want %q", last.URL, readyURL)
	}
	if !hasType(evs, stream.TypeOutput) {
		t.Errorf("expected terminal output before ready, got %v", eventTypes(evs))
	}

	// the execution records its state after the ready event
	deadline := time.Now().Add(time.Second)
	for f.repo.state(t, res.Run.ID) != model.RunReady && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	run, _ := f.repo.GetByID(context.Background(), res.Run.ID)
	if run.State != model.RunReady {
		t.Errorf("recorded state = %q, want %q", run.State, model.RunReady)
	}
	if run.URL != readyURL {
		t.Errorf("recorded URL = %q, want %q", run.URL, readyURL)
	}
	if id, ok := f.svc.Current(); !ok || id != res.Run.ID {
		t.Errorf("Current() = %q, %v; want %q", id, ok, res.Run.ID)
	}
}

func TestStart_ConflictWhileInFlight(t *testing.T) {
	f := newTestRunService(t)
	f.inst.ReadyDelay = 100 * time.Millisecond

	first, err := f.svc.Start(context.Background(), RunRequest{Framework: "express"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_, err = f.svc.Start(context.Background(), RunRequest{Framework: "express"})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("second Start() error = %v, want ErrConflict", err)
	}

	waitFor(t, f.svc, first.Run.ID, stream.TypeReady)
}

func TestStart_SupersedesResolvedRun(t *testing.T) {
	f := newTestRunService(t)

	first, err := f.svc.Start(context.Background(), RunRequest{Framework: "express"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, f.svc, first.Run.ID, stream.TypeReady)
	waitResolved(t, f.svc)

	second, err := f.svc.Start(context.Background(), RunRequest{Framework: "fastify"})
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	evs := waitFor(t, f.svc, first.Run.ID, stream.TypeDone)
	if got := evs[len(evs)-1].State; got != string(model.RunStopped) {
		t.Errorf("first run done state = %q, want %q", got, model.RunStopped)
	}
	if got := f.repo.state(t, first.Run.ID); got != model.RunStopped {
		t.Errorf("first run recorded state = %q, want %q", got, model.RunStopped)
	}

	waitFor(t, f.svc, second.Run.ID, stream.TypeReady)
	procs := f.inst.Processes()
	if !procs[1].Killed() {
		t.Errorf("the first run's server should have been preempted")
	}
}

func TestStart_InstallFailure(t *testing.T) {
	f := newTestRunService(t)
	f.inst.ExitCodes["npm install"] = 1

	res, err := f.svc.Start(context.Background(), RunRequest{Framework: "express"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	evs := waitFor(t, f.svc, res.Run.ID, stream.TypeDone)
	if !hasType(evs, stream.TypeError) {
		t.Errorf("expected an error event, got %v", eventTypes(evs))
	}
	done := evs[len(evs)-1]
	if done.State != string(model.RunFailed) || !strings.Contains(done.Message, "exit code 1") {
		t.Errorf("done = %+v, want failed with the exit code", done)
	}

	run, _ := f.repo.GetByID(context.Background(), res.Run.ID)
	if run.State != model.RunFailed {
		t.Errorf("recorded state = %q, want %q", run.State, model.RunFailed)
	}
	if run.FinishedAt == nil {
		t.Error("a failed run should have a finish time")
	}
	if _, ok := f.svc.Current(); ok {
		t.Error("a failed run should not stay current")
	}

	// a failed run does not block the next one
	f.inst.ExitCodes["npm install"] = 0
	next, err := f.svc.Start(context.Background(), RunRequest{Framework: "express"})
	if err != nil {
		t.Fatalf("Start() after failure error = %v", err)
	}
	waitFor(t, f.svc, next.Run.ID, stream.TypeReady)
}

func TestStart_Timeout(t *testing.T) {
	f := newTestRunService(t)
	f.inst.ReadyURL = ""

	res, err := f.svc.Start(context.Background(), RunRequest{Framework: "express"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitResolved(t, f.svc)

	if got := f.repo.state(t, res.Run.ID); got != model.RunTimeout {
		t.Errorf("recorded state = %q, want %q", got, model.RunTimeout)
	}
	evs, _ := collect(f.svc, res.Run.ID)
	if hasType(evs, stream.TypeReady) || hasType(evs, stream.TypeDone) {
		t.Errorf("a timed out run keeps streaming, got %v", eventTypes(evs))
	}
}

func TestStart_Fullstack(t *testing.T) {
	f := newTestRunService(t)

	res, err := f.svc.Start(context.Background(), RunRequest{Framework: "react-express"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	evs := waitFor(t, f.svc, res.Run.ID, stream.TypeFrontend)
	types := eventTypes(evs)
	if !hasType(evs, stream.TypeReady) {
		t.Fatalf("expected backend ready before frontend, got %v", types)
	}
	if evs[len(evs)-1].URL != readyURL {
		t.Errorf("frontend URL = %q, want %q", evs[len(evs)-1].URL, readyURL)
	}

	doc, ok := f.inst.Mounted().Lookup("public/index.html")
	if !ok {
		t.Fatal("the prepared frontend should be mounted with the backend")
	}
	if strings.Contains(doc, "__BACKEND_URL__") {
		t.Error("the mounted frontend still contains the backend placeholder")
	}
}

func TestStart_CustomFiles(t *testing.T) {
	f := newTestRunService(t)

	files := fstree.Template{
		"package.json": fstree.File(`{"scripts":{"dev":"node server.js"}}`),
		"server.js":    fstree.File(`require("http").createServer().listen(3000)`),
	}
	res, err := f.svc.Start(context.Background(), RunRequest{Framework: "express", Files: files})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, f.svc, res.Run.ID, stream.TypeReady)

	if _, ok := f.inst.Mounted().Lookup("server.js"); !ok {
		t.Error("the caller's files should be mounted")
	}
	if _, ok := f.inst.Mounted().Lookup("index.js"); ok {
		t.Error("the starter template should not be mixed in")
	}
}

func TestStart_Validation(t *testing.T) {
	manyFiles := fstree.Template{"package.json": fstree.File("{}")}
	for i := 0; i < MaxFileCount; i++ {
		manyFiles[fmt.Sprintf("f%d.js", i)] = fstree.File("")
	}

	tests := []struct {
		name    string
		req     RunRequest
		wantErr error
	}{
		{"unknown framework", RunRequest{Framework: "rails"}, apperror.ErrNotFound},
		{"frontend framework", RunRequest{Framework: "react"}, apperror.ErrValidation},
		{"missing manifest", RunRequest{Framework: "express", Files: fstree.Template{"index.js": fstree.File("")}}, apperror.ErrValidation},
		{"manifest in a directory", RunRequest{Framework: "express", Files: fstree.Template{
			"src": fstree.Directory(fstree.Template{"package.json": fstree.File("{}")}),
		}}, apperror.ErrValidation},
		{"escaping path", RunRequest{Framework: "express", Files: fstree.Template{
			"package.json": fstree.File("{}"),
			"..":           fstree.File("x"),
		}}, apperror.ErrValidation},
		{"too many files", RunRequest{Framework: "express", Files: manyFiles}, apperror.ErrValidation},
		{"oversized frontend", RunRequest{Framework: "react-express", Frontend: fstree.Template{
			"App.jsx": fstree.File(strings.Repeat("a", MaxFilesSize+1)),
		}}, apperror.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestRunService(t)
			_, err := f.svc.Start(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Start() error = %v, want %v", err, tt.wantErr)
			}
			if len(f.repo.runs) != 0 {
				t.Error("a rejected request should not be recorded")
			}
		})
	}
}

func TestStart_RepositoryError(t *testing.T) {
	f := newTestRunService(t)
	f.repo.createErr = errors.New("disk full")

	_, err := f.svc.Start(context.Background(), RunRequest{Framework: "express"})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("Start() error = %v, want the repository error", err)
	}
	if _, ok := f.svc.Current(); ok {
		t.Error("no run should be current after a failed Start")
	}
}

// =========================================================================
// STOP TESTS
// =========================================================================

func TestStop_Success(t *testing.T) {
	f := newTestRunService(t)

	res, err := f.svc.Start(context.Background(), RunRequest{Framework: "express"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, f.svc, res.Run.ID, stream.TypeReady)
	waitResolved(t, f.svc)

	run, err := f.svc.Stop(context.Background(), res.Run.ID)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if run.State != model.RunStopped {
		t.Errorf("State = %q, want %q", run.State, model.RunStopped)
	}
	if !f.inst.Processes()[1].Killed() {
		t.Error("Stop should kill the server process")
	}

	evs, err := collect(f.svc, res.Run.ID)
	if err != nil {
		t.Fatalf("stream should be closed after Stop: %v", err)
	}
	if last := evs[len(evs)-1]; last.Type != stream.TypeDone || last.State != string(model.RunStopped) {
		t.Errorf("last event = %+v, want done(stopped)", last)
	}
	if _, ok := f.svc.Current(); ok {
		t.Error("no run should be current after Stop")
	}
}

func TestStop_Errors(t *testing.T) {
	f := newTestRunService(t)
	f.inst.ReadyDelay = 100 * time.Millisecond

	if _, err := f.svc.Stop(context.Background(), "nope"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Stop(unknown) error = %v, want ErrNotFound", err)
	}

	first, err := f.svc.Start(context.Background(), RunRequest{Framework: "express"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := f.svc.Stop(context.Background(), first.Run.ID); !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("Stop(in flight) error = %v, want ErrConflict", err)
	}
	waitFor(t, f.svc, first.Run.ID, stream.TypeReady)
	waitResolved(t, f.svc)

	second, err := f.svc.Start(context.Background(), RunRequest{Framework: "express"})
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	waitFor(t, f.svc, second.Run.ID, stream.TypeReady)
	waitResolved(t, f.svc)

	if _, err := f.svc.Stop(context.Background(), first.Run.ID); !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("Stop(superseded) error = %v, want ErrConflict", err)
	}
}

// =========================================================================
// EVENTS / HISTORY TESTS
// =========================================================================

func TestEvents_UnknownRun(t *testing.T) {
	f := newTestRunService(t)

	err := f.svc.Events(context.Background(), "nope", 0, func(stream.Event) error { return nil })
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Events() error = %v, want ErrNotFound", err)
	}
}

func TestEvents_ResumeFromSequence(t *testing.T) {
	f := newTestRunService(t)

	res, err := f.svc.Start(context.Background(), RunRequest{Framework: "express"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	all := waitFor(t, f.svc, res.Run.ID, stream.TypeReady)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var resumed []stream.Event
	_ = f.svc.Events(ctx, res.Run.ID, 2, func(ev stream.Event) error {
		resumed = append(resumed, ev)
		return nil
	})
	if len(resumed) < len(all)-2 {
		t.Fatalf("resumed %d events, want at least %d", len(resumed), len(all)-2)
	}
	if resumed[0].Seq != 2 {
		t.Errorf("resumed from seq %d, want 2", resumed[0].Seq)
	}
}

func TestList(t *testing.T) {
	f := newTestRunService(t)
	f.inst.ExitCodes["npm install"] = 1

	for _, fw := range []string{"express", "fastify", "express"} {
		res, err := f.svc.Start(context.Background(), RunRequest{Framework: fw})
		if err != nil {
			t.Fatalf("Start(%s) error = %v", fw, err)
		}
		waitFor(t, f.svc, res.Run.ID, stream.TypeDone)
	}

	runs, err := f.svc.List(context.Background(), "", 0, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 3 {
		t.Errorf("List() returned %d runs, want 3", len(runs))
	}

	runs, _ = f.svc.List(context.Background(), "express", 0, 0)
	if len(runs) != 2 {
		t.Errorf("List(express) returned %d runs, want 2", len(runs))
	}

	runs, _ = f.svc.List(context.Background(), "", 1, -5)
	if len(runs) != 1 || runs[0].Framework != "express" {
		t.Errorf("List(limit 1) = %+v, want the newest run", runs)
	}
}

func TestGet(t *testing.T) {
	f := newTestRunService(t)

	if _, err := f.svc.Get(context.Background(), "nope"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestRecover(t *testing.T) {
	f := newTestRunService(t)
	orphan := &model.Run{Framework: "express", Kind: "backend"}
	if err := f.repo.Create(context.Background(), orphan); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := f.svc.Recover(context.Background()); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	run, _ := f.repo.GetByID(context.Background(), orphan.ID)
	if run.State != model.RunFailed || run.Error == "" {
		t.Errorf("orphan = %+v, want failed with a reason", run)
	}
}

func TestShutdown_ClosesStreams(t *testing.T) {
	f := newTestRunService(t)

	res, err := f.svc.Start(context.Background(), RunRequest{Framework: "express"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, f.svc, res.Run.ID, stream.TypeReady)
	waitResolved(t, f.svc)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	evs, err := collect(f.svc, res.Run.ID)
	if err != nil {
		t.Fatalf("stream should be closed after Shutdown: %v", err)
	}
	if last := evs[len(evs)-1]; last.Type != stream.TypeDone {
		t.Errorf("last event = %+v, want done", last)
	}
	if got := f.repo.state(t, res.Run.ID); got != model.RunStopped {
		t.Errorf("recorded state = %q, want %q", got, model.RunStopped)
	}
}

// waitResolved blocks until the current run is no longer in flight.
func waitResolved(t *testing.T, svc *RunService) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		svc.mu.Lock()
		busy := svc.current != nil && svc.current.inflight
		svc.mu.Unlock()
		if !busy {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not resolve in time")
}

// collect returns the events recorded so far; the error is non-nil when the
// stream is still open.
func collect(svc *RunService, id string) ([]stream.Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var evs []stream.Event
	err := svc.Events(ctx, id, 0, func(ev stream.Event) error {
		evs = append(evs, ev)
		return nil
	})
	return evs, err
}

func TestStart_AfterShutdown(t *testing.T) {
	f := newTestRunService(t)
	if err := f.svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	_, err := f.svc.Start(context.Background(), RunRequest{Framework: "express"})
	if !errors.Is(err, apperror.ErrUnavailable) {
		t.Errorf("Start() after Shutdown error = %v, want ErrUnavailable", err)
	}
}
