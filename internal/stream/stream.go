// Package stream keeps the ordered event log of one run and replays it to any
// number of subscribers, including ones that connect late.
package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/sakif/live-playground/internal/executor"
)

type Type string

const (
	TypeOutput   Type = "output"
	TypeReady    Type = "ready"
	TypeFrontend Type = "frontend"
	TypeError    Type = "error"
	TypeDone     Type = "done"
)

// Event is one entry of a run's log. Seq is its position, starting at 0.
type Event struct {
	Seq     int                   `json:"seq"`
	Type    Type                  `json:"type"`
	Output  *executor.OutputEvent `json:"output,omitempty"`
	URL     string                `json:"url,omitempty"`
	Message string                `json:"message,omitempty"`
	State   string                `json:"state,omitempty"`
}

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("stream closed")

// Log is an append-only event log. Waiters block on a channel that is closed
// and replaced by every Append, so one append wakes all of them.
type Log struct {
	mu      sync.Mutex
	events  []Event
	closed  bool
	changed chan struct{}
}

func New() *Log {
	return &Log{changed: make(chan struct{})}
}

// Append assigns the next sequence number and stores ev.
func (l *Log) Append(ev Event) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Event{}, ErrClosed
	}
	ev.Seq = len(l.events)
	l.events = append(l.events, ev)
	l.wake()
	return ev, nil
}

// Output appends a terminal output event.
func (l *Log) Output(ev executor.OutputEvent) error {
	_, err := l.Append(Event{Type: TypeOutput, Output: &ev})
	return err
}

// Close ends the log. Subscribers drain what is left and return.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.wake()
}

// wake must be called with mu held.
func (l *Log) wake() {
	close(l.changed)
	l.changed = make(chan struct{})
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *Log) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Events returns a copy of everything from seq on.
func (l *Log) Events(from int) []Event {
	evs, _, _ := l.since(from)
	return evs
}

func (l *Log) since(from int) ([]Event, <-chan struct{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if from < 0 {
		from = 0
	}
	var out []Event
	if from < len(l.events) {
		out = append(out, l.events[from:]...)
	}
	return out, l.changed, l.closed
}

// Subscribe calls fn for every event from seq on, in order, then for each new
// one as it is appended. It returns nil once the log is closed and drained,
// ctx's error when ctx ends first, or the first error fn returns.
func (l *Log) Subscribe(ctx context.Context, from int, fn func(Event) error) error {
	next := from
	for {
		evs, changed, closed := l.since(next)
		for _, ev := range evs {
			if err := fn(ev); err != nil {
				return err
			}
			next = ev.Seq + 1
		}
		if closed {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
