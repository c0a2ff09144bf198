package docker

import (
	"time"
)

// Config holds the configuration for the Docker runtime.
type Config struct {
	// Image is the Node.js image the sandbox container runs.
	Image string
	// WorkDir is where templates are mounted and commands run.
	WorkDir string
	// User runs every command in the container; UID and GID own mounted files.
	User string
	UID  int
	GID  int
	// Ports are the container ports published to 127.0.0.1 and probed for readiness.
	Ports []int
	// MemoryLimit is the maximum amount of memory the container can use (in bytes).
	MemoryLimit int64
	// CPULimit is the number of CPUs the container can use.
	CPULimit float64
	// NetworkMode is empty for the daemon default; npm install needs the registry.
	NetworkMode string
	// ProbeInterval is how often published ports are polled.
	ProbeInterval time.Duration
	// KillTimeout bounds the wait after SIGTERM before SIGKILL is sent.
	KillTimeout time.Duration
	// PullTimeout bounds the image pull on first boot.
	PullTimeout time.Duration
}

// DefaultConfig provides the defaults for a Node.js sandbox.
func DefaultConfig() Config {
	return Config{
		Image:   "node:20-alpine",
		WorkDir: "/home/node/app",
		// the image ships an unprivileged "node" user with uid/gid 1000
		User: "node",
		UID:  1000,
		GID:  1000,
		// Express and Fastify templates listen on 3000
		Ports: []int{3000},
		// 512 MB memory limit
		MemoryLimit:   512 * 1024 * 1024,
		CPULimit:      1,
		ProbeInterval: 250 * time.Millisecond,
		KillTimeout:   5 * time.Second,
		PullTimeout:   5 * time.Minute,
	}
}
