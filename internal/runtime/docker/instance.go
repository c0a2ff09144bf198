package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/live-playground/internal/executor"
	"github.com/sakif/live-playground/internal/fstree"
	"github.com/sakif/live-playground/internal/runtime"
)

const removeTimeout = 10 * time.Second

// Instance is one running sandbox container.
type Instance struct {
	cli    *client.Client
	id     string
	config Config
	logger *slog.Logger

	subs     *subscribers
	stop     context.CancelFunc
	runs     atomic.Int64
	closeErr error
	closed   sync.Once
}

func newInstance(cli *client.Client, id string, cfg Config, targets []target, logger *slog.Logger) *Instance {
	ctx, cancel := context.WithCancel(context.Background())
	inst := &Instance{
		cli:    cli,
		id:     id,
		config: cfg,
		logger: logger.With(slog.String("container", shortID(id))),
		subs:   newSubscribers(),
		stop:   cancel,
	}

	p := &prober{
		targets:  targets,
		interval: cfg.ProbeInterval,
		check:    httpCheck(&http.Client{Timeout: cfg.ProbeInterval}),
		subs:     inst.subs,
		logger:   inst.logger,
	}
	go p.run(ctx)
	return inst
}

// Mount replaces the working directory contents with tree. node_modules
// survives so a remount only installs what changed.
func (i *Instance) Mount(ctx context.Context, tree fstree.Template) error {
	script, err := clearScript(i.config.WorkDir)
	if err != nil {
		return err
	}
	code, out, err := i.run(ctx, []string{"sh", "-c", script})
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("clearing %s: exit code %d: %s", i.config.WorkDir, code, bytes.TrimSpace(out))
	}

	var buf bytes.Buffer
	if err := fstree.WriteTar(&buf, tree, fstree.TarOptions{UID: i.config.UID, GID: i.config.GID}); err != nil {
		return fmt.Errorf("archiving files: %w", err)
	}
	err = i.cli.CopyToContainer(ctx, i.id, i.config.WorkDir, &buf, container.CopyToContainerOptions{
		CopyUIDGID: true,
	})
	if err != nil {
		return fmt.Errorf("CopyToContainer failed: %w", err)
	}
	i.logger.Debug("files mounted", slog.Int("files", tree.Size()))
	return nil
}

// Spawn starts cmd inside the working directory and streams its output
// until it exits.
func (i *Instance) Spawn(ctx context.Context, cmd runtime.Command, out runtime.OutputFunc) (runtime.Process, error) {
	if out == nil {
		out = func(executor.OutputEvent) {}
	}

	n := i.runs.Add(1)
	pidFile := fmt.Sprintf("/tmp/run-%d.pid", n)
	script, err := runScript(pidFile, cmd.Argv())
	if err != nil {
		return nil, err
	}

	execResp, err := i.cli.ContainerExecCreate(ctx, i.id, i.execOptions([]string{"sh", "-c", script}))
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}
	// the stream outlives the caller's context; Kill ends it
	attachResp, err := i.cli.ContainerExecAttach(context.WithoutCancel(ctx), execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}

	p := &process{
		inst:    i,
		execID:  execResp.ID,
		pidFile: pidFile,
		cmd:     cmd,
		done:    make(chan struct{}),
	}
	go p.pump(attachResp, out)

	i.logger.Debug("process spawned", slog.String("cmd", cmd.String()), slog.Int64("run", n))
	return p, nil
}

func (i *Instance) OnServerReady(fn runtime.ServerReadyFunc) func() {
	return i.subs.add(fn)
}

// Close stops probing and force removes the container.
func (i *Instance) Close(ctx context.Context) error {
	i.closed.Do(func() {
		i.stop()
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
		defer cancel()
		if err := i.cli.ContainerRemove(rmCtx, i.id, container.RemoveOptions{Force: true}); err != nil {
			i.closeErr = fmt.Errorf("failed to remove container: %w", err)
			return
		}
		i.logger.Info("runtime container removed")
	})
	return i.closeErr
}

func (i *Instance) execOptions(cmd []string) container.ExecOptions {
	env := []string{"NODE_ENV=development"}
	if len(i.config.Ports) > 0 {
		env = append(env, "PORT="+strconv.Itoa(i.config.Ports[0]))
	}
	return container.ExecOptions{
		User:         i.config.User,
		WorkingDir:   i.config.WorkDir,
		Env:          env,
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	}
}

// run executes cmd to completion and returns its exit code and combined output.
func (i *Instance) run(ctx context.Context, cmd []string) (int, []byte, error) {
	execResp, err := i.cli.ContainerExecCreate(ctx, i.id, i.execOptions(cmd))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create exec: %w", err)
	}
	attachResp, err := i.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attachResp.Close()

	var output bytes.Buffer
	if _, err := stdcopy.StdCopy(&output, &output, attachResp.Reader); err != nil {
		return 0, nil, fmt.Errorf("reading exec output: %w", err)
	}
	code, err := i.exitCode(ctx, execResp.ID)
	return code, output.Bytes(), err
}

// exitCode inspects a finished exec. The daemon can report the stream closed
// slightly before it marks the exec as stopped.
func (i *Instance) exitCode(ctx context.Context, execID string) (int, error) {
	for attempt := 0; ; attempt++ {
		inspect, err := i.cli.ContainerExecInspect(ctx, execID)
		if err != nil {
			return 0, fmt.Errorf("failed to inspect exec: %w", err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		if attempt >= 20 {
			return 0, fmt.Errorf("exec %s still running after its output closed", shortID(execID))
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// process is a command running through docker exec.
type process struct {
	inst    *Instance
	execID  string
	pidFile string
	cmd     runtime.Command
	done    chan struct{}
}

func (p *process) pump(resp types.HijackedResponse, out runtime.OutputFunc) {
	defer close(p.done)
	defer resp.Close()

	_, err := stdcopy.StdCopy(streamWriter{kind: executor.Stdout, out: out}, streamWriter{kind: executor.Stderr, out: out}, resp.Reader)
	if err != nil && !errors.Is(err, io.EOF) {
		p.inst.logger.Debug("output stream ended", slog.String("cmd", p.cmd.String()), slog.String("error", err.Error()))
	}
}

func (p *process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return p.inst.exitCode(ctx, p.execID)
}

// Kill sends SIGTERM to the process tree, escalating to SIGKILL when it has
// not exited within the kill timeout.
func (p *process) Kill(ctx context.Context) error {
	for _, signal := range []string{"TERM", "KILL"} {
		select {
		case <-p.done:
			return nil
		default:
		}

		script, err := killScript(p.pidFile, signal)
		if err != nil {
			return err
		}
		if _, _, err := p.inst.run(ctx, []string{"sh", "-c", script}); err != nil {
			return fmt.Errorf("signalling %s: %w", p.cmd, err)
		}

		timer := time.NewTimer(p.inst.config.KillTimeout)
		select {
		case <-p.done:
			timer.Stop()
			return nil
		case <-timer.C:
			p.inst.logger.Warn("process ignored signal", slog.String("cmd", p.cmd.String()), slog.String("signal", signal))
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return fmt.Errorf("process %s did not exit after SIGKILL", p.cmd)
}

// streamWriter forwards one demultiplexed stream as output events.
type streamWriter struct {
	kind executor.StreamKind
	out  runtime.OutputFunc
}

func (w streamWriter) Write(b []byte) (int, error) {
	w.out(executor.OutputEvent{Kind: w.kind, Text: string(b)})
	return len(b), nil
}
