// Package link keeps the network link associated and runs a task only while
// it is up.
package link

import (
	"context"
	"sync"
	"time"

	appLog "epaper/internal/log"
)

// Event is a link state change.
type Event int

const (
	// EventStart is delivered once when supervision begins.
	EventStart Event = iota
	// EventConnected means the link came up.
	EventConnected
	// EventDisconnected means the link went down.
	EventDisconnected
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Station (re)associates the network interface.
type Station interface {
	Connect(ctx context.Context) error
}

// Task is work that should run only while the link is up.
type Task interface {
	Start()
	Stop()
}

// DefaultRetry is the minimum time between connect attempts while the link
// stays down.
const DefaultRetry = 30 * time.Second

// Supervisor reacts to link events: it asks the station to connect on start
// and after every disconnect, keeps retrying while the link stays down, and
// starts or stops the task as the link comes and goes.
type Supervisor struct {
	station Station
	task    Task
	retry   time.Duration
	now     func() time.Time

	mu          sync.Mutex
	up          bool
	ups         int
	lastAttempt time.Time
}

// NewSupervisor returns a supervisor for station and task. retry <= 0 means
// DefaultRetry.
func NewSupervisor(station Station, task Task, retry time.Duration) *Supervisor {
	if retry <= 0 {
		retry = DefaultRetry
	}
	return &Supervisor{station: station, task: task, retry: retry, now: time.Now}
}

// Handle processes one event.
func (s *Supervisor) Handle(ctx context.Context, ev Event) {
	appLog.Debug("link event", "event", ev)
	switch ev {
	case EventStart:
		s.connect(ctx)
	case EventConnected:
		s.mu.Lock()
		wasUp := s.up
		s.up = true
		if !wasUp {
			s.ups++
		}
		s.mu.Unlock()
		if !wasUp {
			appLog.Info("link up")
			s.task.Start()
		}
	case EventDisconnected:
		s.mu.Lock()
		wasUp := s.up
		s.up = false
		s.mu.Unlock()
		if wasUp {
			appLog.Warn("link down")
			s.task.Stop()
			s.connect(ctx)
			return
		}
		s.retryIfDue(ctx)
	}
}

func (s *Supervisor) connect(ctx context.Context) {
	s.mu.Lock()
	s.lastAttempt = s.now()
	s.mu.Unlock()
	if err := s.station.Connect(ctx); err != nil {
		appLog.Error("link connect failed", err)
	}
}

// retryIfDue connects again when the link is down and the last attempt is
// at least retry old.
func (s *Supervisor) retryIfDue(ctx context.Context) {
	s.mu.Lock()
	due := !s.up && (s.lastAttempt.IsZero() || s.now().Sub(s.lastAttempt) >= s.retry)
	s.mu.Unlock()
	if due {
		appLog.Debug("link still down, retrying connect")
		s.connect(ctx)
	}
}

// Run handles events until ctx is done or events is closed, then stops the
// task if it is running. While the link is down it reconnects every retry
// interval.
func (s *Supervisor) Run(ctx context.Context, events <-chan Event) {
	t := time.NewTicker(s.retry)
	defer t.Stop()

	defer func() {
		s.mu.Lock()
		wasUp := s.up
		s.up = false
		s.mu.Unlock()
		if wasUp {
			s.task.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.retryIfDue(ctx)
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.Handle(ctx, ev)
		}
	}
}

// Up reports whether the link is currently considered up.
func (s *Supervisor) Up() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.up
}

// Connects returns how many times the link has come up.
func (s *Supervisor) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ups
}
