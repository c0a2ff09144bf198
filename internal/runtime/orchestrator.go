package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/live-playground/internal/apperror"
	"github.com/sakif/live-playground/internal/executor"
	"github.com/sakif/live-playground/internal/fstree"
)

// Config tunes the orchestrator.
type Config struct {
	// ReadyTimeout bounds the wait for the server-ready notification.
	ReadyTimeout time.Duration
	// GracePeriod is waited after killing a process so its port is released.
	GracePeriod time.Duration
	// Install is the dependency install command.
	Install Command
	// Entry is started directly when the manifest has no dev/start script.
	Entry string
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		ReadyTimeout: 30 * time.Second,
		GracePeriod:  500 * time.Millisecond,
		Install:      Command{Name: "npm", Args: []string{"install"}},
		Entry:        EntryFile,
	}
}

// Orchestrator runs backend templates in its session's instance.
type Orchestrator struct {
	session *Session
	config  Config
	logger  *slog.Logger

	mu    sync.Mutex
	state State
}

func NewOrchestrator(session *Session, cfg Config, logger *slog.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = def.ReadyTimeout
	}
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = def.GracePeriod
	}
	if cfg.Install.Name == "" {
		cfg.Install = def.Install
	}
	if cfg.Entry == "" {
		cfg.Entry = def.Entry
	}
	return &Orchestrator{
		session: session,
		config:  cfg,
		logger:  logger,
		state:   StateIdle,
	}
}

// State reports the step the latest execution reached.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	o.mu.Unlock()
	o.logger.Debug("runtime state", slog.String("from", string(prev)), slog.String("to", string(s)))
}

// Execute boots (or reuses) the instance, preempts the previous process, mounts
// files, installs dependencies and starts the server.
//
// It returns StateReady after onReady was called, or StateTimeout when no
// readiness arrived in time; a timeout is not an error and the process keeps
// running. Any other failure kills the tracked process and is returned.
func (o *Orchestrator) Execute(ctx context.Context, files fstree.Template, onOutput OutputFunc, onReady ReadyFunc) (State, error) {
	if onOutput == nil {
		onOutput = func(executor.OutputEvent) {}
	}
	if onReady == nil {
		onReady = func(string) {}
	}

	state, err := o.execute(ctx, files, onOutput, onReady)
	if err != nil {
		o.logger.Error("runtime execution failed", slog.String("error", err.Error()))
		if cerr := o.cleanup(context.WithoutCancel(ctx)); cerr != nil {
			o.logger.Warn("cleanup after failure", slog.String("error", cerr.Error()))
		}
		o.setState(StateFailed)
		return StateFailed, err
	}
	o.setState(state)
	return state, nil
}

func (o *Orchestrator) execute(ctx context.Context, files fstree.Template, onOutput OutputFunc, onReady ReadyFunc) (State, error) {
	o.setState(StateBooting)
	inst, err := o.session.Boot(ctx)
	if err != nil {
		return "", err
	}

	if prev := o.session.TakeProcess(); prev != nil {
		o.logger.Info("preempting previous process")
		if err := prev.Kill(ctx); err != nil {
			o.logger.Warn("failed to kill previous process", slog.String("error", err.Error()))
		}
		if err := sleep(ctx, o.config.GracePeriod); err != nil {
			return "", err
		}
	}

	o.setState(StateMounting)
	flat := fstree.Flatten(files)
	tree, err := fstree.Build(flat)
	if err != nil {
		return "", fmt.Errorf("preparing files: %w", err)
	}
	if err := inst.Mount(ctx, tree); err != nil {
		return "", fmt.Errorf("mounting files: %w", err)
	}

	o.setState(StateInstalling)
	onOutput(stdout(fmt.Sprintf("$ %s\n", o.config.Install)))
	install, err := inst.Spawn(ctx, o.config.Install, onOutput)
	if err != nil {
		return "", fmt.Errorf("spawning install: %w", err)
	}
	code, err := install.Wait(ctx)
	if err != nil {
		_ = install.Kill(context.WithoutCancel(ctx))
		return "", fmt.Errorf("waiting for install: %w", err)
	}
	if code != 0 {
		return "", fmt.Errorf("installing dependencies: %w", apperror.InstallFailed(code))
	}

	o.setState(StateStarting)
	cmd, why := StartCommand(flat[ManifestFile], o.config.Entry)
	onOutput(stdout(why + "\n"))

	waiter := armReady(inst)
	defer waiter.cancel()

	proc, err := inst.Spawn(ctx, cmd, onOutput)
	if err != nil {
		return "", fmt.Errorf("spawning %s: %w", cmd, err)
	}
	if displaced := o.session.ReplaceProcess(proc); displaced != nil {
		// an overlapping Execute slipped a process in after our preemption
		o.logger.Warn("displaced a process started by an overlapping execution")
		if err := displaced.Kill(ctx); err != nil {
			o.logger.Warn("failed to kill displaced process", slog.String("error", err.Error()))
		}
	}

	o.setState(StateAwaitingReady)
	res, ok, err := waiter.wait(ctx, o.config.ReadyTimeout)
	if err != nil {
		return "", err
	}
	if !ok {
		onOutput(stdout(fmt.Sprintf("Server did not report ready within %s\n", o.config.ReadyTimeout)))
		o.logger.Warn("server readiness timed out", slog.Duration("timeout", o.config.ReadyTimeout))
		return StateTimeout, nil
	}

	onOutput(stdout(fmt.Sprintf("Server ready on port %d at %s\n", res.Port, res.URL)))
	o.logger.Info("server ready", slog.Int("port", res.Port), slog.String("url", res.URL))
	onReady(res.URL)
	return StateReady, nil
}

// Cleanup kills the tracked process, if any, and waits the grace period.
// Kill failures are logged, not returned.
func (o *Orchestrator) Cleanup(ctx context.Context) error {
	err := o.cleanup(ctx)
	o.setState(StateIdle)
	return err
}

func (o *Orchestrator) cleanup(ctx context.Context) error {
	proc := o.session.TakeProcess()
	if proc == nil {
		return nil
	}
	if err := proc.Kill(ctx); err != nil {
		o.logger.Warn("failed to kill process", slog.String("error", err.Error()))
	}
	return sleep(ctx, o.config.GracePeriod)
}

// Close tears down the session: process and instance.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.setState(StateIdle)
	return o.session.Teardown(ctx)
}
