// Package docker implements runtime.Host with one long-lived Docker container
// per booted instance.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/sakif/live-playground/internal/apperror"
	"github.com/sakif/live-playground/internal/runtime"
)

// Host boots sandbox containers.
type Host struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
}

// New creates a Docker client from the environment. The daemon is not
// contacted until the first Boot.
func New(cfg Config, logger *slog.Logger) (*Host, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Host{cli: cli, config: cfg, logger: logger}, nil
}

// Close releases the docker client. Booted instances are closed separately.
func (h *Host) Close() error {
	return h.cli.Close()
}

// Boot makes sure the image is present, then creates and starts a container
// that idles until commands are executed in it.
func (h *Host) Boot(ctx context.Context) (runtime.Instance, error) {
	if _, err := h.cli.Ping(ctx); err != nil {
		return nil, apperror.Unavailable(fmt.Sprintf("docker daemon not reachable: %v", err))
	}
	if err := h.ensureImage(ctx); err != nil {
		return nil, err
	}

	cfg, hostCfg := containerConfig(h.config)
	resp, err := h.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("ContainerCreate failed: %w", err)
	}
	if err := h.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		h.removeContainer(resp.ID)
		return nil, fmt.Errorf("ContainerStart failed: %w", err)
	}

	targets, err := h.publishedPorts(ctx, resp.ID)
	if err != nil {
		h.removeContainer(resp.ID)
		return nil, err
	}

	h.logger.Info("runtime container started", slog.String("id", shortID(resp.ID)), slog.String("image", h.config.Image))
	return newInstance(h.cli, resp.ID, h.config, targets, h.logger), nil
}

func (h *Host) ensureImage(ctx context.Context) error {
	if _, err := h.cli.ImageInspect(ctx, h.config.Image); err == nil {
		return nil
	}

	pullCtx, cancel := context.WithTimeout(ctx, h.config.PullTimeout)
	defer cancel()

	h.logger.Info("pulling docker image", slog.String("image", h.config.Image))
	reader, err := h.cli.ImagePull(pullCtx, h.config.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	// Read everything to block until the pull is complete
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	h.logger.Info("docker image is ready")
	return nil
}

// containerConfig starts a container running `sleep infinity` as the
// unprivileged user, with every configured port bound to a random port on
// the host loopback.
func containerConfig(cfg Config) (*container.Config, *container.HostConfig) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range cfg.Ports {
		port := containerPort(p)
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}}
	}

	config := &container.Config{
		Image:        cfg.Image,
		Cmd:          []string{"sh", "-c", "mkdir -p " + cfg.WorkDir + " && exec sleep infinity"},
		User:         cfg.User,
		WorkingDir:   "/home/" + cfg.User,
		ExposedPorts: exposed,
		Tty:          false,
	}
	hostConfig := &container.HostConfig{
		NetworkMode: container.NetworkMode(cfg.NetworkMode),
		Resources: container.Resources{
			Memory:   cfg.MemoryLimit,
			NanoCPUs: int64(cfg.CPULimit * 1e9),
		},
		PortBindings: bindings,
		AutoRemove:   false,
		// tini reaps the orphans left behind by killed npm process trees
		Init: boolPtr(true),
	}
	return config, hostConfig
}

// publishedPorts reads back the host ports the daemon assigned.
func (h *Host) publishedPorts(ctx context.Context, id string) ([]target, error) {
	info, err := h.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ContainerInspect failed: %w", err)
	}
	if info.NetworkSettings == nil {
		return nil, fmt.Errorf("container %s has no network settings", shortID(id))
	}

	targets := make([]target, 0, len(h.config.Ports))
	for _, p := range h.config.Ports {
		bound := info.NetworkSettings.Ports[containerPort(p)]
		if len(bound) == 0 {
			return nil, fmt.Errorf("container port %d was not published", p)
		}
		hostPort, err := strconv.Atoi(bound[0].HostPort)
		if err != nil {
			return nil, fmt.Errorf("container port %d: bad host port %q", p, bound[0].HostPort)
		}
		targets = append(targets, target{containerPort: p, hostPort: hostPort})
	}
	return targets, nil
}

// removeContainer force removes a container by ID.
func (h *Host) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	_ = h.cli.ContainerRemove(ctx, id, container.RemoveOptions{
		Force: true,
	})
}

func containerPort(p int) nat.Port {
	return nat.Port(strconv.Itoa(p) + "/tcp")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func boolPtr(b bool) *bool { return &b }
