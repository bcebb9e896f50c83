package frameworker_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nasa-jpl/liveview/frameworker"
	"github.com/nasa-jpl/liveview/interlace"
)

// scripted is a camera.Source that hands out a fixed list of raw frames,
// optionally gated on a channel, then returns io.EOF
type scripted struct {
	rows, cols int
	frames     [][]uint16
	gate       chan struct{}
	initFails  int

	mu        sync.Mutex
	inits     int
	finalized bool
	next      int
}

func (s *scripted) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inits++
	if s.inits <= s.initFails {
		return errors.New("grabber not ready")
	}
	return nil
}

func (s *scripted) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = true
	return nil
}

func (s *scripted) GetRes() ([2]int, error) { return [2]int{s.rows, s.cols}, nil }

func (s *scripted) ReadFrame(ctx context.Context, buf []uint16) error {
	if s.gate != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.gate:
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.frames) {
		return io.EOF
	}
	copy(buf, s.frames[s.next])
	s.next++
	return nil
}

func TestRunDeinterlacesAndPublishes(t *testing.T) {
	src := &scripted{rows: 1, cols: 8, frames: [][]uint16{
		{0, 0, 0, 0, 0, 0, 0, 0},
		{0, 2, 4, 6, 1, 3, 5, 7},
	}}
	w, err := frameworker.New(src, frameworker.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Latest(); !errors.Is(err, frameworker.ErrNoFrame) {
		t.Errorf("expected ErrNoFrame before Run, got %v", err)
	}
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("expected nil from Run at EOF, got %v", err)
	}
	f, err := w.Latest()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint16{0, 1, 2, 3, 4, 5, 6, 7}, f.Pix); diff != "" {
		t.Errorf("published frame mismatch (-want +got):\n%s", diff)
	}
	if f.Seq != 2 || w.FrameCount() != 2 {
		t.Errorf("expected sequence 2, got frame seq %d count %d", f.Seq, w.FrameCount())
	}
	if f.Rows != 1 || f.Cols != 8 {
		t.Errorf("expected 1x8 frame, got %dx%d", f.Rows, f.Cols)
	}
	if !src.finalized {
		t.Error("expected the source to be finalized when Run returns")
	}
}

func TestLatestIsACopy(t *testing.T) {
	src := &scripted{rows: 1, cols: 4, frames: [][]uint16{{1, 2, 3, 4}}}
	w, err := frameworker.New(src, frameworker.Options{})
	if err != nil {
		t.Fatal(err)
	}
	w.Run(context.Background())
	f, _ := w.Latest()
	f.Pix[0] = 99
	g, _ := w.Latest()
	if g.Pix[0] == 99 {
		t.Error("mutating a returned frame changed the published frame")
	}
}

func TestNextWaitsForNewFrame(t *testing.T) {
	src := &scripted{rows: 1, cols: 4, gate: make(chan struct{}), frames: [][]uint16{
		{1, 1, 1, 1},
		{2, 2, 2, 2},
	}}
	w, err := frameworker.New(src, frameworker.Options{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	got := make(chan uint64, 1)
	go func() {
		f, err := w.Next(ctx, 1)
		if err != nil {
			t.Error(err)
		}
		got <- f.Seq
	}()
	src.gate <- struct{}{}
	src.gate <- struct{}{}
	select {
	case seq := <-got:
		if seq != 2 {
			t.Errorf("expected Next(1) to return frame 2, got %d", seq)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not return")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled from Run, got %v", err)
	}
}

func TestNextHonorsContext(t *testing.T) {
	src := &scripted{rows: 1, cols: 4}
	w, err := frameworker.New(src, frameworker.Options{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := w.Next(ctx, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestMaskCollectionThenSubtraction(t *testing.T) {
	dark := []uint16{10, 10, 10, 10}
	src := &scripted{rows: 1, cols: 4, frames: [][]uint16{dark, dark, {15, 20, 25, 30}}}
	w, err := frameworker.New(src, frameworker.Options{MaskFrames: 2})
	if err != nil {
		t.Fatal(err)
	}
	w.CollectMask()
	if on, _ := w.MaskCollecting(); !on {
		t.Fatal("expected mask collection to be on")
	}
	w.Run(context.Background())
	select {
	case <-w.MaskCollected():
	default:
		t.Error("expected a mask collected notification")
	}
	if valid, _ := w.MaskValid(); !valid {
		t.Fatal("expected a valid mask")
	}
	f, _ := w.Latest()
	if diff := cmp.Diff([]uint16{5, 10, 15, 20}, f.Pix); diff != "" {
		t.Errorf("dark subtracted frame mismatch (-want +got):\n%s", diff)
	}
}

func TestToggleMask(t *testing.T) {
	w, err := frameworker.New(&scripted{rows: 1, cols: 4}, frameworker.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !w.ToggleMask() {
		t.Error("expected first toggle to start collecting")
	}
	if w.ToggleMask() {
		t.Error("expected second toggle to stop collecting")
	}
}

func TestInitializeIsRetried(t *testing.T) {
	src := &scripted{rows: 1, cols: 4, initFails: 1, frames: [][]uint16{{1, 2, 3, 4}}}
	w, err := frameworker.New(src, frameworker.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if src.inits != 2 {
		t.Errorf("expected two initialization attempts, got %d", src.inits)
	}
}

func TestInitializeGivesUp(t *testing.T) {
	src := &scripted{rows: 1, cols: 4, initFails: 100}
	w, err := frameworker.New(src, frameworker.Options{InitRetries: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Run(context.Background()); err == nil {
		t.Error("expected Run to fail when the source never initializes")
	}
}

func TestNewRejectsUnsupportedGeometry(t *testing.T) {
	_, err := frameworker.New(&scripted{rows: 2, cols: 10}, frameworker.Options{})
	if !errors.Is(err, interlace.ErrTapMismatch) {
		t.Errorf("expected ErrTapMismatch, got %v", err)
	}
	_, err = frameworker.New(&scripted{rows: 4096, cols: 4096}, frameworker.Options{})
	if !errors.Is(err, interlace.ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestFPSIsNegativeWithoutFrames(t *testing.T) {
	w, err := frameworker.New(&scripted{rows: 1, cols: 4}, frameworker.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if fps := w.FPS(); fps != -1 {
		t.Errorf("expected -1 with no frames, got %v", fps)
	}
}

func TestReportFPS(t *testing.T) {
	w, err := frameworker.New(&scripted{rows: 1, cols: 4}, frameworker.Options{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan float64, 1)
	go w.ReportFPS(ctx, time.Millisecond, func(f float64) {
		select {
		case got <- f:
		default:
		}
	})
	defer cancel()
	select {
	case f := <-got:
		if f != -1 {
			t.Errorf("expected -1, got %v", f)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ReportFPS never reported")
	}
}
