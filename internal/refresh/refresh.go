// Package refresh drives the panel: it fetches the frame image, packs it
// into planes and pushes them to the display, either on demand or on a cron
// schedule.
package refresh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"epaper/internal/frame"
	appLog "epaper/internal/log"
	"epaper/internal/source"
)

// Panel is the subset of *epd.Dev the service needs.
type Panel interface {
	Init() error
	DisplayFrame(black, red []byte) error
	Clear() error
	Sleep() error
	Bounds() image.Rectangle
}

// Options configures a Service.
type Options struct {
	// Cron is a standard 5-field schedule. Empty disables scheduling.
	Cron string
	// SleepAfter puts the panel into deep sleep after every update.
	SleepAfter bool
	// PreviewDir, if set, receives preview.png after each refresh.
	PreviewDir string
	// DumpDir, if set, receives black.bin, red.bin and preview.png.
	DumpDir string
	// Fit scales mismatched images to the panel instead of failing.
	Fit bool
	// RunOnStart triggers an immediate update whenever Start schedules.
	RunOnStart bool
}

// Status is a snapshot of the service state.
type Status struct {
	Scheduled bool      `json:"scheduled"`
	Source    string    `json:"source"`
	Runs      int       `json:"runs"`
	LastRun   time.Time `json:"last_run,omitzero"`
	LastOK    time.Time `json:"last_ok,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	FromCache bool      `json:"from_cache"`
	NextRun   time.Time `json:"next_run,omitzero"`
}

// ErrBusy is returned by TryRunOnce while another update is in progress.
var ErrBusy = errors.New("refresh: update already in progress")

// Service serializes all access to the panel.
type Service struct {
	panel Panel
	src   source.Source
	opts  Options
	sched cron.Schedule

	// run serializes panel access; mu guards the fields below.
	run sync.Mutex
	mu  sync.Mutex

	cron    *cron.Cron
	entry   cron.EntryID
	status  Status
	preview *frame.Planes
}

// New returns a service that draws images from src onto panel.
func New(panel Panel, src source.Source, opts Options) (*Service, error) {
	if panel == nil || src == nil {
		return nil, errors.New("refresh: panel and source are required")
	}
	s := &Service{panel: panel, src: src, opts: opts}
	if opts.Cron != "" {
		sched, err := cron.ParseStandard(opts.Cron)
		if err != nil {
			return nil, fmt.Errorf("refresh: cron %q: %w", opts.Cron, err)
		}
		s.sched = sched
	}
	s.status.Source = src.String()
	return s, nil
}

// RunOnce performs one full update, waiting for any update in progress.
func (s *Service) RunOnce(ctx context.Context) error {
	s.run.Lock()
	defer s.run.Unlock()
	return s.runLocked(ctx)
}

// TryRunOnce is RunOnce but returns ErrBusy instead of waiting.
func (s *Service) TryRunOnce(ctx context.Context) error {
	if !s.run.TryLock() {
		return ErrBusy
	}
	defer s.run.Unlock()
	return s.runLocked(ctx)
}

func (s *Service) runLocked(ctx context.Context) error {
	start := time.Now()
	res, planes, err := s.render(ctx)
	if err == nil {
		err = s.show(planes)
	}

	s.mu.Lock()
	s.status.Runs++
	s.status.LastRun = start
	s.status.FromCache = res.FromCache
	if err != nil {
		s.status.LastError = err.Error()
	} else {
		s.status.LastError = ""
		s.status.LastOK = start
		s.preview = planes
	}
	s.mu.Unlock()

	if err != nil {
		appLog.Error("refresh failed", err, "source", s.src.String())
		return err
	}
	appLog.Info("refresh done", "source", s.src.String(), "from_cache", res.FromCache, "took", time.Since(start).Round(time.Millisecond))
	s.writeArtifacts(planes)
	return nil
}

func (s *Service) render(ctx context.Context) (source.Result, *frame.Planes, error) {
	res, err := s.src.Fetch(ctx)
	if err != nil {
		return res, nil, fmt.Errorf("fetch: %w", err)
	}
	img, err := frame.Decode(bytes.NewReader(res.Body))
	if err != nil {
		return res, nil, err
	}
	b := s.panel.Bounds()
	if s.opts.Fit {
		img = frame.Fit(img, b.Dx(), b.Dy())
	}
	planes, err := frame.Pack(img, b.Dx(), b.Dy())
	if err != nil {
		return res, nil, err
	}
	return res, planes, nil
}

func (s *Service) show(planes *frame.Planes) error {
	if err := s.panel.Init(); err != nil {
		return fmt.Errorf("panel init: %w", err)
	}
	if err := s.panel.DisplayFrame(planes.Black, planes.Red); err != nil {
		return fmt.Errorf("display: %w", err)
	}
	if s.opts.SleepAfter {
		if err := s.panel.Sleep(); err != nil {
			return fmt.Errorf("sleep: %w", err)
		}
	}
	return nil
}

func (s *Service) writeArtifacts(planes *frame.Planes) {
	if s.opts.PreviewDir != "" {
		if err := os.MkdirAll(s.opts.PreviewDir, 0o755); err != nil {
			appLog.Warn("preview dir", "dir", s.opts.PreviewDir, "err", err)
		} else if err := planes.WritePNG(filepath.Join(s.opts.PreviewDir, "preview.png")); err != nil {
			appLog.Warn("preview write failed", "err", err)
		}
	}
	if s.opts.DumpDir != "" {
		if err := planes.Dump(s.opts.DumpDir); err != nil {
			appLog.Warn("dump failed", "dir", s.opts.DumpDir, "err", err)
		}
	}
}

// Clear blanks the panel.
func (s *Service) Clear(_ context.Context) error {
	s.run.Lock()
	defer s.run.Unlock()

	err := s.panel.Init()
	if err == nil {
		err = s.panel.Clear()
	}
	if err == nil && s.opts.SleepAfter {
		err = s.panel.Sleep()
	}
	if err != nil {
		appLog.Error("clear failed", err)
		return err
	}

	b := s.panel.Bounds()
	blank, err := frame.NewPlanes(b.Dx(), b.Dy())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.preview = blank
	s.mu.Unlock()
	appLog.Info("panel cleared")
	return nil
}

// Sleep puts the panel into deep sleep.
func (s *Service) Sleep() error {
	s.run.Lock()
	defer s.run.Unlock()
	return s.panel.Sleep()
}

// Start schedules updates. It is a no-op when already started or when no
// schedule is configured.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil || s.sched == nil {
		return
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{})))
	s.entry = c.Schedule(s.sched, cron.FuncJob(func() {
		_ = s.RunOnce(context.Background())
	}))
	c.Start()
	s.cron = c
	s.status.Scheduled = true
	appLog.Info("refresh schedule started", "cron", s.opts.Cron)
	if s.opts.RunOnStart {
		go func() { _ = s.RunOnce(context.Background()) }()
	}
}

// Stop cancels the schedule and waits for a running update to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.status.Scheduled = false
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	appLog.Info("refresh schedule stopped")
}

// Status returns a snapshot of the service state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	if s.cron != nil {
		st.NextRun = s.cron.Entry(s.entry).Next
	}
	return st
}

// Preview returns the planes last shown, or nil before the first update.
func (s *Service) Preview() *frame.Planes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview
}

// cronLogger routes cron's own messages through the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) { appLog.Debug("cron: "+msg, kv...) }

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
