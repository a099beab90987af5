package refresh

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"epaper/internal/frame"
	"epaper/internal/source"
)

type fakePanel struct {
	mu      sync.Mutex
	calls   []string
	black   []byte
	red     []byte
	failOn  string
	w, h    int
	blockCh chan struct{}
}

func (p *fakePanel) record(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, name)
	if p.failOn == name {
		return errors.New(name + " failed")
	}
	return nil
}

func (p *fakePanel) Init() error {
	if p.blockCh != nil {
		<-p.blockCh
	}
	return p.record("init")
}

func (p *fakePanel) DisplayFrame(black, red []byte) error {
	p.mu.Lock()
	p.black, p.red = black, red
	p.mu.Unlock()
	return p.record("display")
}

func (p *fakePanel) Clear() error            { return p.record("clear") }
func (p *fakePanel) Sleep() error            { return p.record("sleep") }
func (p *fakePanel) Bounds() image.Rectangle { return image.Rect(0, 0, p.w, p.h) }

func (p *fakePanel) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type fakeSource struct {
	body []byte
	err  error
}

func (s fakeSource) Fetch(context.Context) (source.Result, error) {
	return source.Result{Body: s.body, FromCache: true}, s.err
}

func (fakeSource) String() string { return "fake" }

// pngFrame returns a w x h white PNG with a black pixel at (0,0) and a red
// one at (1,0).
func pngFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xFF
	}
	img.SetNRGBA(0, 0, color.NRGBA{A: 0xFF})
	img.SetNRGBA(1, 0, color.NRGBA{R: 0xFF, A: 0xFF})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestRunOnce(t *testing.T) {
	dir := t.TempDir()
	panel := &fakePanel{w: 16, h: 2}
	s, err := New(panel, fakeSource{body: pngFrame(t, 16, 2)}, Options{SleepAfter: true, PreviewDir: dir})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() failed: %v", err)
	}

	if diff := cmp.Diff(panel.Calls(), []string{"init", "display", "sleep"}); diff != "" {
		t.Errorf("panel calls difference (-got +want):\n%s", diff)
	}
	want, _ := frame.NewPlanes(16, 2)
	want.Set(0, 0, frame.Black)
	want.Set(1, 0, frame.Red)
	if diff := cmp.Diff(panel.black, want.Black); diff != "" {
		t.Errorf("black plane difference (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff(panel.red, want.Red); diff != "" {
		t.Errorf("red plane difference (-got +want):\n%s", diff)
	}

	st := s.Status()
	if st.Runs != 1 || st.LastError != "" || st.LastOK.IsZero() || !st.FromCache || st.Source != "fake" {
		t.Errorf("Status() = %+v", st)
	}
	if s.Preview() == nil {
		t.Error("Preview() = nil after successful run")
	}
	if _, err := os.Stat(filepath.Join(dir, "preview.png")); err != nil {
		t.Errorf("preview.png not written: %v", err)
	}
}

func TestRunOnceErrors(t *testing.T) {
	for _, tc := range []struct {
		name      string
		src       fakeSource
		failOn    string
		wantCalls []string
	}{
		{name: "fetch", src: fakeSource{err: errors.New("offline")}},
		{name: "decode", src: fakeSource{body: []byte("not an image")}},
		{name: "init", failOn: "init", wantCalls: []string{"init"}},
		{name: "display", failOn: "display", wantCalls: []string{"init", "display"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if tc.src.body == nil && tc.src.err == nil {
				tc.src.body = pngFrame(t, 8, 1)
			}
			panel := &fakePanel{w: 8, h: 1, failOn: tc.failOn}
			s, err := New(panel, tc.src, Options{SleepAfter: true})
			if err != nil {
				t.Fatal(err)
			}
			if err := s.RunOnce(context.Background()); err == nil {
				t.Fatal("RunOnce() succeeded")
			}
			if diff := cmp.Diff(panel.Calls(), tc.wantCalls); diff != "" {
				t.Errorf("panel calls difference (-got +want):\n%s", diff)
			}
			st := s.Status()
			if st.Runs != 1 || st.LastError == "" || !st.LastOK.IsZero() {
				t.Errorf("Status() = %+v", st)
			}
			if s.Preview() != nil {
				t.Error("Preview() set after failed run")
			}
		})
	}
}

func TestWrongImageSize(t *testing.T) {
	panel := &fakePanel{w: 16, h: 4}
	s, err := New(panel, fakeSource{body: pngFrame(t, 8, 4)}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("RunOnce() with wrong width succeeded")
	}
	if calls := panel.Calls(); len(calls) != 0 {
		t.Errorf("panel touched on bad image: %v", calls)
	}
}

func TestClear(t *testing.T) {
	panel := &fakePanel{w: 8, h: 2}
	s, err := New(panel, fakeSource{}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(panel.Calls(), []string{"init", "clear"}); diff != "" {
		t.Errorf("panel calls difference (-got +want):\n%s", diff)
	}
	p := s.Preview()
	if p == nil || p.At(0, 0) != frame.White {
		t.Errorf("Preview() after Clear = %+v, want blank", p)
	}
}

func TestTryRunOnceBusy(t *testing.T) {
	panel := &fakePanel{w: 8, h: 1, blockCh: make(chan struct{})}
	s, err := New(panel, fakeSource{body: pngFrame(t, 8, 1)}, Options{})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error)
	go func() { done <- s.RunOnce(context.Background()) }()

	// Wait until the first run holds the lock.
	for s.run.TryLock() {
		s.run.Unlock()
	}
	if err := s.TryRunOnce(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("TryRunOnce() = %v, want ErrBusy", err)
	}
	close(panel.blockCh)
	if err := <-done; err != nil {
		t.Errorf("RunOnce() = %v", err)
	}
}

func TestSchedule(t *testing.T) {
	if _, err := New(&fakePanel{}, fakeSource{}, Options{Cron: "every tuesday"}); err == nil {
		t.Error("New() with bad cron succeeded")
	}
	if _, err := New(nil, fakeSource{}, Options{}); err == nil {
		t.Error("New() with nil panel succeeded")
	}

	s, err := New(&fakePanel{w: 8, h: 1}, fakeSource{}, Options{Cron: "0 3 * * *"})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	s.Start()
	st := s.Status()
	if !st.Scheduled || st.NextRun.IsZero() {
		t.Errorf("Status() after Start = %+v", st)
	}
	s.Stop()
	s.Stop()
	if st := s.Status(); st.Scheduled || !st.NextRun.IsZero() {
		t.Errorf("Status() after Stop = %+v", st)
	}

	unscheduled, err := New(&fakePanel{}, fakeSource{}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	unscheduled.Start()
	if unscheduled.Status().Scheduled {
		t.Error("Start() without cron scheduled updates")
	}
}

func TestRunOnStart(t *testing.T) {
	panel := &fakePanel{w: 8, h: 1}
	s, err := New(panel, fakeSource{body: pngFrame(t, 8, 1)}, Options{Cron: "0 3 * * *", RunOnStart: true})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for s.Status().Runs == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no update after Start")
		}
		time.Sleep(time.Millisecond)
	}
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestFit(t *testing.T) {
	panel := &fakePanel{w: 16, h: 4}
	s, err := New(panel, fakeSource{body: pngFrame(t, 8, 2)}, Options{Fit: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() with Fit = %v", err)
	}
	if diff := cmp.Diff(panel.Calls(), []string{"init", "display"}); diff != "" {
		t.Errorf("panel calls difference (-got +want):\n%s", diff)
	}
}
