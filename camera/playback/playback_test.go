package playback_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nasa-jpl/liveview/camera"
	"github.com/nasa-jpl/liveview/camera/playback"
)

var frames = [][]uint16{
	{1, 2, 3, 4, 5, 6, 7, 8},
	{10, 20, 30, 40, 50, 60, 70, 80},
	{65535, 0, 65535, 0, 1, 1, 1, 1},
}

func writeFile(t *testing.T, frames ...[]uint16) string {
	t.Helper()
	fn := filepath.Join(t.TempDir(), "frames.raw")
	f, err := os.Create(fn)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := playback.WriteFrames(f, frames...); err != nil {
		t.Fatal(err)
	}
	return fn
}

// interface guard
var _ camera.Source = (*playback.Player)(nil)

func TestPlayerReadsFramesInOrderThenEOF(t *testing.T) {
	p := playback.New(writeFile(t, frames...), 2, 4, 0, false)
	if err := p.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer p.Finalize()
	if p.Frames() != 3 {
		t.Errorf("expected 3 frames in file, got %d", p.Frames())
	}
	buf := make([]uint16, 8)
	for i, expected := range frames {
		if err := p.ReadFrame(context.Background(), buf); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if diff := cmp.Diff(expected, buf); diff != "" {
			t.Errorf("frame %d mismatch (-want +got):\n%s", i, diff)
		}
	}
	if err := p.ReadFrame(context.Background(), buf); err != io.EOF {
		t.Errorf("expected io.EOF after the last frame, got %v", err)
	}
}

func TestPlayerLoops(t *testing.T) {
	p := playback.New(writeFile(t, frames...), 2, 4, 0, true)
	if err := p.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer p.Finalize()
	buf := make([]uint16, 8)
	for i := 0; i < len(frames)+1; i++ {
		if err := p.ReadFrame(context.Background(), buf); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}
	if diff := cmp.Diff(frames[0], buf); diff != "" {
		t.Errorf("expected to wrap to the first frame (-want +got):\n%s", diff)
	}
}

func TestPlayerRejectsPartialFrame(t *testing.T) {
	fn := writeFile(t, frames[0], []uint16{1, 2, 3})
	err := playback.New(fn, 2, 4, 0, false).Initialize()
	if !errors.Is(err, playback.ErrShortFrame) {
		t.Errorf("expected ErrShortFrame, got %v", err)
	}
}

func TestPlayerRejectsEmptyFile(t *testing.T) {
	fn := writeFile(t)
	err := playback.New(fn, 2, 4, 0, false).Initialize()
	if !errors.Is(err, playback.ErrNoFrames) {
		t.Errorf("expected ErrNoFrames, got %v", err)
	}
}

func TestPlayerMissingFile(t *testing.T) {
	err := playback.New(filepath.Join(t.TempDir(), "nope.raw"), 2, 4, 0, false).Initialize()
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected a not-exist error, got %v", err)
	}
}

func TestPlayerReadBeforeInitialize(t *testing.T) {
	p := playback.New("unused", 2, 4, 0, false)
	err := p.ReadFrame(context.Background(), make([]uint16, 8))
	if !errors.Is(err, camera.ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestPlayerShortBuffer(t *testing.T) {
	p := playback.New(writeFile(t, frames...), 2, 4, 0, false)
	if err := p.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer p.Finalize()
	err := p.ReadFrame(context.Background(), make([]uint16, 4))
	if !errors.Is(err, camera.ErrShortBuffer) {
		t.Errorf("expected ErrShortBuffer, got %v", err)
	}
}

func TestPlayerHonorsCancelledContext(t *testing.T) {
	p := playback.New(writeFile(t, frames...), 2, 4, 1, false)
	if err := p.Initialize(); err != nil {
		t.Fatal(err)
	}
	defer p.Finalize()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.ReadFrame(ctx, make([]uint16, 8)); err == nil {
		t.Error("expected an error reading with a cancelled context")
	}
}
