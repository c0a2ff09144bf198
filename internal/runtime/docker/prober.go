package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sakif/live-playground/internal/runtime"
)

// target is a container port and the loopback host port it is published on.
type target struct {
	containerPort int
	hostPort      int
}

// url is where the host reaches the published port.
func (t target) url() string {
	return fmt.Sprintf("http://localhost:%d", t.hostPort)
}

// subscribers is the server-ready listener set.
type subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]runtime.ServerReadyFunc
}

func newSubscribers() *subscribers {
	return &subscribers{fns: map[int]runtime.ServerReadyFunc{}}
}

func (s *subscribers) add(fn runtime.ServerReadyFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.fns, id)
	}
}

func (s *subscribers) notify(port int, url string) {
	s.mu.Lock()
	fns := make([]runtime.ServerReadyFunc, 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(port, url)
	}
}

func (s *subscribers) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

type checkFunc func(ctx context.Context, t target) bool

// prober polls every target and fires server-ready when one goes from
// refusing to answering. A port that closes and reopens fires again, which
// is how a restarted server announces itself.
type prober struct {
	targets  []target
	interval time.Duration
	check    checkFunc
	subs     *subscribers
	logger   *slog.Logger
}

func (p *prober) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	open := make([]bool, len(p.targets))
	for {
		for i, t := range p.targets {
			up := p.check(ctx, t)
			if up && !open[i] {
				p.logger.Debug("published port opened", slog.Int("port", t.containerPort), slog.Int("hostPort", t.hostPort))
				p.subs.notify(t.containerPort, t.url())
			}
			open[i] = up
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// httpCheck counts any HTTP response as ready. A bare TCP connect is not
// enough: the docker proxy accepts on a published port even while nothing
// listens inside the container.
func httpCheck(client *http.Client) checkFunc {
	return func(ctx context.Context, t target) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/", t.hostPort), nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return true
	}
}
