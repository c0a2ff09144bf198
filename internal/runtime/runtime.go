// Package runtime orchestrates backend code inside an ephemeral sandboxed runtime.
//
// A Host boots an Instance (one sandbox, reused across executions). The
// Orchestrator mounts a file template into it, installs dependencies, starts the
// server process and waits for the instance's server-ready notification. Only
// one process is current at a time: every execution preempts the previous one.
package runtime

import (
	"context"
	"strings"

	"github.com/sakif/live-playground/internal/executor"
	"github.com/sakif/live-playground/internal/fstree"
)

// Host creates runtime instances.
type Host interface {
	Boot(ctx context.Context) (Instance, error)
}

// Instance is one booted sandbox.
type Instance interface {
	// Mount writes the tree into the instance's working directory.
	Mount(ctx context.Context, tree fstree.Template) error
	// Spawn starts cmd and streams its output through out until it exits.
	Spawn(ctx context.Context, cmd Command, out OutputFunc) (Process, error)
	// OnServerReady registers fn for server-ready notifications and returns
	// the matching unsubscribe.
	OnServerReady(fn ServerReadyFunc) (unsubscribe func())
	// Close destroys the instance.
	Close(ctx context.Context) error
}

// Process is a spawned command.
type Process interface {
	// Wait blocks until the process exits and its output is drained.
	Wait(ctx context.Context) (exitCode int, err error)
	// Kill terminates the process and its children.
	Kill(ctx context.Context) error
}

// Command is an argv.
type Command struct {
	Name string
	Args []string
}

func (c Command) Argv() []string { return append([]string{c.Name}, c.Args...) }

func (c Command) String() string { return strings.Join(c.Argv(), " ") }

// ServerReadyEvent is the name of the readiness notification.
const ServerReadyEvent = "server-ready"

// ServerReadyFunc receives the port a server bound and the URL it is reachable at.
type ServerReadyFunc func(port int, url string)

// OutputFunc receives terminal output in emission order.
type OutputFunc func(executor.OutputEvent)

// ReadyFunc receives the URL of a ready server.
type ReadyFunc func(url string)

func stdout(text string) executor.OutputEvent {
	return executor.OutputEvent{Kind: executor.Stdout, Text: text}
}
