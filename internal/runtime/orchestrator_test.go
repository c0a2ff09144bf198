package runtime_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/live-playground/internal/apperror"
	"github.com/sakif/live-playground/internal/executor"
	"github.com/sakif/live-playground/internal/fstree"
	"github.com/sakif/live-playground/internal/runtime"
	"github.com/sakif/live-playground/internal/runtime/runtimetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() runtime.Config {
	cfg := runtime.DefaultConfig()
	cfg.ReadyTimeout = 100 * time.Millisecond
	cfg.GracePeriod = time.Millisecond
	return cfg
}

func newOrchestrator(t *testing.T) (*runtime.Orchestrator, *runtimetest.Host, *runtime.Session) {
	t.Helper()
	host := runtimetest.NewHost()
	session := runtime.NewSession(host)
	return runtime.NewOrchestrator(session, testConfig(), testLogger()), host, session
}

func expressFiles(manifest string) fstree.Template {
	return fstree.Template{
		"package.json": fstree.File(manifest),
		"index.js":     fstree.File("require('express')().listen(3000)"),
		"src": fstree.Directory(fstree.Template{
			"routes": fstree.Directory(fstree.Template{"api.js": fstree.File("module.exports = {}")}),
		}),
	}
}

// recorder collects output events; callbacks may arrive from other goroutines.
type recorder struct {
	mu     sync.Mutex
	events []executor.OutputEvent
	urls   []string
}

func (r *recorder) output(ev executor.OutputEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ready(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, url)
}

func (r *recorder) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for _, ev := range r.events {
		b.WriteString(ev.Text)
	}
	return b.String()
}

func indexOf(ops []string, op string, from int) int {
	for i := from; i < len(ops); i++ {
		if ops[i] == op {
			return i
		}
	}
	return -1
}

func TestExecute_Ready(t *testing.T) {
	orch, host, session := newOrchestrator(t)
	host.Instance.ReadyURL = "http://localhost:49153"
	host.Instance.Output["npm install"] = []executor.OutputEvent{
		{Kind: executor.Stdout, Text: "added 57 packages\n"},
		{Kind: executor.Stderr, Text: "npm warn deprecated\n"},
	}
	rec := &recorder{}

	state, err := orch.Execute(context.Background(), expressFiles(`{"scripts":{"dev":"node --watch index.js"}}`), rec.output, rec.ready)
	require.NoError(t, err)

	assert.Equal(t, runtime.StateReady, state)
	assert.Equal(t, runtime.StateReady, orch.State())
	assert.Equal(t, []string{"http://localhost:49153"}, rec.urls)
	assert.Equal(t, []string{"mount", "spawn npm install", "spawn npm run dev"}, host.Instance.Ops())
	assert.Equal(t, 0, host.Instance.Listeners(), "readiness listener is unsubscribed")
	assert.NotNil(t, session.CurrentProcess())

	out := rec.text()
	install := strings.Index(out, "$ npm install")
	added := strings.Index(out, "added 57 packages")
	status := strings.Index(out, `Starting server with "dev" script`)
	ready := strings.Index(out, "Server ready on port 3000 at http://localhost:49153")
	assert.True(t, install >= 0 && install < added && added < status && status < ready, "output in emission order:\n%s", out)
}

func TestExecute_MountsNestedFilesIntact(t *testing.T) {
	orch, host, _ := newOrchestrator(t)
	host.Instance.ReadyURL = "http://localhost:1"
	files := expressFiles(`{}`)

	_, err := orch.Execute(context.Background(), files, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, fstree.Flatten(files), fstree.Flatten(host.Instance.Mounted()))
}

func TestExecute_InstallFailureIsFatal(t *testing.T) {
	orch, host, session := newOrchestrator(t)
	host.Instance.ExitCodes["npm install"] = 1
	host.Instance.ReadyURL = "http://localhost:1"
	rec := &recorder{}

	state, err := orch.Execute(context.Background(), expressFiles(`{"scripts":{"start":"node index.js"}}`), rec.output, rec.ready)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrInstallFailed))
	assert.Contains(t, err.Error(), "exit code 1")
	assert.Equal(t, runtime.StateFailed, state)
	assert.Equal(t, runtime.StateFailed, orch.State())
	assert.Equal(t, []string{"mount", "spawn npm install"}, host.Instance.Ops(), "no start command after a failed install")
	assert.Empty(t, rec.urls)
	assert.Nil(t, session.CurrentProcess())
}

func TestExecute_StartCommandFromManifest(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		want     string
	}{
		{"dev script wins", `{"scripts":{"dev":"x","start":"y"}}`, "spawn npm run dev"},
		{"start script", `{"scripts":{"start":"y"}}`, "spawn npm run start"},
		{"no scripts", `{"name":"app"}`, "spawn node index.js"},
		{"unparsable manifest", `{not json`, "spawn node index.js"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch, host, _ := newOrchestrator(t)
			host.Instance.ReadyURL = "http://localhost:1"

			_, err := orch.Execute(context.Background(), expressFiles(tt.manifest), nil, nil)
			require.NoError(t, err)

			ops := host.Instance.Ops()
			assert.Equal(t, tt.want, ops[len(ops)-1])
		})
	}
}

func TestExecute_PreemptsPreviousProcessBeforeMounting(t *testing.T) {
	orch, host, session := newOrchestrator(t)
	host.Instance.ReadyURL = "http://localhost:1"
	files := expressFiles(`{"scripts":{"dev":"x"}}`)

	_, err := orch.Execute(context.Background(), files, nil, nil)
	require.NoError(t, err)
	first := session.CurrentProcess()
	require.NotNil(t, first)

	_, err = orch.Execute(context.Background(), files, nil, nil)
	require.NoError(t, err)

	ops := host.Instance.Ops()
	secondRun := indexOf(ops, "spawn npm run dev", 0) + 1
	kill := indexOf(ops, "kill npm run dev", secondRun)
	mount := indexOf(ops, "mount", secondRun)
	require.NotEqual(t, -1, kill, "previous process killed: %v", ops)
	assert.Less(t, kill, mount, "kill happens before the new mount: %v", ops)

	procs := host.Instance.Processes()
	assert.True(t, procs[1].Killed(), "first server process")
	assert.False(t, procs[len(procs)-1].Killed(), "current server process")
	assert.NotSame(t, first, session.CurrentProcess())
	assert.Equal(t, 1, host.Boots(), "instance is booted once and reused")
}

func TestExecute_KillFailureDuringPreemptionIsNotFatal(t *testing.T) {
	orch, host, _ := newOrchestrator(t)
	host.Instance.ReadyURL = "http://localhost:1"

	_, err := orch.Execute(context.Background(), expressFiles(`{}`), nil, nil)
	require.NoError(t, err)

	host.Instance.KillErr = errors.New("no such process")
	state, err := orch.Execute(context.Background(), expressFiles(`{}`), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, runtime.StateReady, state)
}

func TestExecute_ReadinessTimeoutIsSoft(t *testing.T) {
	orch, host, session := newOrchestrator(t)
	rec := &recorder{}

	start := time.Now()
	state, err := orch.Execute(context.Background(), expressFiles(`{"scripts":{"start":"node index.js"}}`), rec.output, rec.ready)

	require.NoError(t, err, "a timeout resolves, it does not fail")
	assert.Equal(t, runtime.StateTimeout, state)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Empty(t, rec.urls, "onReady is never called")
	assert.Contains(t, rec.text(), "Server did not report ready within 100ms")
	assert.Equal(t, 0, host.Instance.Listeners())

	server := session.CurrentProcess()
	require.NotNil(t, server, "the process keeps running after the wait times out")
	assert.False(t, server.(*runtimetest.Process).Killed())
}

func TestExecute_LateReadinessAfterTimeoutIsIgnored(t *testing.T) {
	orch, host, _ := newOrchestrator(t)
	rec := &recorder{}

	_, err := orch.Execute(context.Background(), expressFiles(`{}`), rec.output, rec.ready)
	require.NoError(t, err)

	host.Instance.Fire(3000, "http://localhost:9")
	assert.Empty(t, rec.urls)
}

func TestExecute_DelayedReadiness(t *testing.T) {
	orch, host, _ := newOrchestrator(t)
	host.Instance.ReadyURL = "http://localhost:5"
	host.Instance.ReadyDelay = 20 * time.Millisecond
	rec := &recorder{}

	state, err := orch.Execute(context.Background(), expressFiles(`{}`), rec.output, rec.ready)
	require.NoError(t, err)
	assert.Equal(t, runtime.StateReady, state)
	assert.Equal(t, []string{"http://localhost:5"}, rec.urls)
}

func TestExecute_BootFailure(t *testing.T) {
	host := runtimetest.NewHost()
	host.BootErr = apperror.Unavailable("docker daemon not reachable")
	orch := runtime.NewOrchestrator(runtime.NewSession(host), testConfig(), testLogger())

	state, err := orch.Execute(context.Background(), expressFiles(`{}`), nil, nil)
	assert.True(t, errors.Is(err, apperror.ErrUnavailable))
	assert.Equal(t, runtime.StateFailed, state)
	assert.Empty(t, host.Instance.Ops())
}

func TestExecute_MountFailure(t *testing.T) {
	orch, host, _ := newOrchestrator(t)
	host.Instance.MountErr = errors.New("disk full")

	_, err := orch.Execute(context.Background(), expressFiles(`{}`), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mounting files")
	assert.Equal(t, []string{"mount"}, host.Instance.Ops())
}

func TestExecute_InvalidTemplate(t *testing.T) {
	orch, host, _ := newOrchestrator(t)

	_, err := orch.Execute(context.Background(), fstree.Template{"../escape.js": fstree.File("x")}, nil, nil)
	assert.ErrorIs(t, err, fstree.ErrInvalidPath)
	assert.Empty(t, host.Instance.Ops())
}

func TestExecute_SpawnFailureAfterBoot(t *testing.T) {
	orch, host, _ := newOrchestrator(t)
	host.Instance.SpawnErr = errors.New("exec failed")

	_, err := orch.Execute(context.Background(), expressFiles(`{}`), nil, nil)
	assert.Error(t, err)
	assert.Equal(t, runtime.StateFailed, orch.State())
}

func TestCleanup(t *testing.T) {
	orch, host, session := newOrchestrator(t)
	host.Instance.ReadyURL = "http://localhost:1"

	require.NoError(t, orch.Cleanup(context.Background()), "nothing to clean up")

	_, err := orch.Execute(context.Background(), expressFiles(`{}`), nil, nil)
	require.NoError(t, err)

	host.Instance.KillErr = errors.New("already gone")
	require.NoError(t, orch.Cleanup(context.Background()), "kill errors are swallowed")
	assert.Nil(t, session.CurrentProcess())
	assert.Equal(t, runtime.StateIdle, orch.State())
	assert.True(t, session.Booted(), "cleanup keeps the instance for reuse")

	require.NoError(t, orch.Close(context.Background()))
	assert.True(t, host.Instance.Closed())
	assert.False(t, session.Booted())
}

func TestStartCommand(t *testing.T) {
	cmd, why := runtime.StartCommand(`{"scripts":{"dev":"vite"}}`, "")
	assert.Equal(t, "npm run dev", cmd.String())
	assert.Contains(t, why, `"dev"`)

	cmd, _ = runtime.StartCommand(`{"scripts":{"start":"node server.js"}}`, "")
	assert.Equal(t, runtime.Command{Name: "npm", Args: []string{"run", "start"}}, cmd)

	cmd, why = runtime.StartCommand(`{"scripts":{"dev":"  "}}`, "server.js")
	assert.Equal(t, "node server.js", cmd.String())
	assert.Contains(t, why, "No dev or start script")

	cmd, _ = runtime.StartCommand("", "")
	assert.Equal(t, "node index.js", cmd.String())
}
