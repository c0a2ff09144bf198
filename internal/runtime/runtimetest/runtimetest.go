// Package runtimetest provides an in-memory runtime.Host for tests.
package runtimetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sakif/live-playground/internal/executor"
	"github.com/sakif/live-playground/internal/fstree"
	"github.com/sakif/live-playground/internal/runtime"
)

// Host boots one shared fake Instance.
type Host struct {
	mu       sync.Mutex
	BootErr  error
	boots    int
	Instance *Instance
}

func NewHost() *Host {
	return &Host{Instance: NewInstance()}
}

func (h *Host) Boot(ctx context.Context) (runtime.Instance, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.BootErr != nil {
		return nil, h.BootErr
	}
	h.boots++
	return h.Instance, nil
}

func (h *Host) Boots() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.boots
}

// Instance records every operation in order.
//
// Commands listed in ExitCodes exit immediately with that code; any other
// command runs until killed. When ReadyURL is set, spawning a long-running
// command fires server-ready after ReadyDelay.
type Instance struct {
	mu sync.Mutex

	ExitCodes  map[string]int
	Output     map[string][]executor.OutputEvent
	MountErr   error
	SpawnErr   error
	KillErr    error
	ReadyPort  int
	ReadyURL   string
	ReadyDelay time.Duration

	ops       []string
	mounted   fstree.Template
	listeners map[int]runtime.ServerReadyFunc
	nextID    int
	procs     []*Process
	closed    bool
}

func NewInstance() *Instance {
	return &Instance{
		ExitCodes: map[string]int{"npm install": 0},
		Output:    map[string][]executor.OutputEvent{},
		ReadyPort: 3000,
		listeners: map[int]runtime.ServerReadyFunc{},
	}
}

func (i *Instance) record(op string) {
	i.ops = append(i.ops, op)
}

// Ops returns the recorded operations, e.g. "mount", "spawn npm install", "kill npm run dev".
func (i *Instance) Ops() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.ops...)
}

func (i *Instance) Mounted() fstree.Template {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.mounted
}

func (i *Instance) Processes() []*Process {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]*Process(nil), i.procs...)
}

// Listeners is the number of live server-ready subscriptions.
func (i *Instance) Listeners() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.listeners)
}

func (i *Instance) Closed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

func (i *Instance) Mount(ctx context.Context, tree fstree.Template) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.record("mount")
	if i.MountErr != nil {
		return i.MountErr
	}
	i.mounted = tree
	return nil
}

func (i *Instance) Spawn(ctx context.Context, cmd runtime.Command, out runtime.OutputFunc) (runtime.Process, error) {
	i.mu.Lock()
	name := cmd.String()
	i.record("spawn " + name)
	if i.SpawnErr != nil {
		i.mu.Unlock()
		return nil, i.SpawnErr
	}
	code, exits := i.ExitCodes[name]
	p := &Process{inst: i, Cmd: cmd, exitCode: code, done: make(chan struct{})}
	if exits {
		close(p.done)
	}
	i.procs = append(i.procs, p)
	events := i.Output[name]
	readyURL, readyPort, delay := i.ReadyURL, i.ReadyPort, i.ReadyDelay
	i.mu.Unlock()

	for _, ev := range events {
		out(ev)
	}
	if !exits && readyURL != "" {
		go func() {
			if delay > 0 {
				time.Sleep(delay)
			}
			i.Fire(readyPort, readyURL)
		}()
	}
	return p, nil
}

// Fire delivers a server-ready notification to every subscriber.
func (i *Instance) Fire(port int, url string) {
	i.mu.Lock()
	fns := make([]runtime.ServerReadyFunc, 0, len(i.listeners))
	for _, fn := range i.listeners {
		fns = append(fns, fn)
	}
	i.mu.Unlock()
	for _, fn := range fns {
		fn(port, url)
	}
}

func (i *Instance) OnServerReady(fn runtime.ServerReadyFunc) func() {
	i.mu.Lock()
	defer i.mu.Unlock()
	id := i.nextID
	i.nextID++
	i.listeners[id] = fn
	return func() {
		i.mu.Lock()
		defer i.mu.Unlock()
		delete(i.listeners, id)
	}
}

func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.record("close")
	i.closed = true
	return nil
}

// Process is a fake spawned command.
type Process struct {
	inst     *Instance
	Cmd      runtime.Command
	exitCode int

	mu     sync.Mutex
	done   chan struct{}
	killed bool
}

func (p *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.exitCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (p *Process) Kill(ctx context.Context) error {
	p.inst.mu.Lock()
	p.inst.record("kill " + p.Cmd.String())
	killErr := p.inst.KillErr
	p.inst.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.killed {
		p.killed = true
		select {
		case <-p.done:
		default:
			close(p.done)
		}
	}
	if killErr != nil {
		return fmt.Errorf("fake kill: %w", killErr)
	}
	return nil
}

func (p *Process) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}
