// Package playback replays raw frames recorded from a sensor.
//
// The file format is the bare readout stream: consecutive frames of H*W
// little endian uint16 samples in tap-interleaved order, with no header.
package playback

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nasa-jpl/liveview/camera"
)

var (
	// ErrNoFrames is returned when the file holds less than one frame
	ErrNoFrames = errors.New("playback: file contains no frames")

	// ErrShortFrame is returned when the file ends part way through a frame
	ErrShortFrame = errors.New("playback: file size is not a whole number of frames")
)

// Player is a camera.Source reading from a raw file
type Player struct {
	// Path is the file to replay
	Path string

	// Rows and Cols are the frame geometry
	Rows, Cols int

	// FPS paces ReadFrame.  Zero replays as fast as the consumer reads
	FPS float64

	// Loop rewinds to the first frame at EOF instead of returning io.EOF
	Loop bool

	mu      sync.Mutex
	f       *os.File
	r       *bufio.Reader
	lim     *rate.Limiter
	raw     []byte
	nFrames int64
}

// New returns a Player, it does not touch the file until Initialize
func New(path string, rows, cols int, fps float64, loop bool) *Player {
	return &Player{Path: path, Rows: rows, Cols: cols, FPS: fps, Loop: loop}
}

func (p *Player) frameBytes() int64 {
	return 2 * int64(p.Rows) * int64(p.Cols)
}

// Initialize opens the file and checks it holds whole frames
func (p *Player) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Rows <= 0 || p.Cols <= 0 {
		return fmt.Errorf("playback: invalid geometry %dx%d", p.Rows, p.Cols)
	}
	f, err := os.Open(p.Path)
	if err != nil {
		return err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	fb := p.frameBytes()
	size := stat.Size()
	if size < fb {
		f.Close()
		return fmt.Errorf("%w: %s is %d bytes, one frame is %d", ErrNoFrames, p.Path, size, fb)
	}
	if size%fb != 0 {
		f.Close()
		return fmt.Errorf("%w: %s is %d bytes, one frame is %d", ErrShortFrame, p.Path, size, fb)
	}
	if p.f != nil {
		p.f.Close()
	}
	p.f = f
	p.r = bufio.NewReaderSize(f, int(fb))
	p.raw = make([]byte, fb)
	p.nFrames = size / fb
	if p.FPS > 0 {
		p.lim = rate.NewLimiter(rate.Limit(p.FPS), 1)
	} else {
		p.lim = nil
	}
	return nil
}

// Finalize closes the file
func (p *Player) Finalize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	p.r = nil
	return err
}

// GetRes returns (Rows, Cols)
func (p *Player) GetRes() ([2]int, error) {
	return [2]int{p.Rows, p.Cols}, nil
}

// Frames returns the number of frames in the file, valid after Initialize
func (p *Player) Frames() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nFrames
}

// ReadFrame copies the next frame into buf
func (p *Player) ReadFrame(ctx context.Context, buf []uint16) error {
	p.mu.Lock()
	lim := p.lim
	p.mu.Unlock()
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.f == nil {
		return camera.ErrNotInitialized
	}
	n := p.Rows * p.Cols
	if len(buf) < n {
		return fmt.Errorf("%w: got %d, want %d", camera.ErrShortBuffer, len(buf), n)
	}
	_, err := io.ReadFull(p.r, p.raw)
	if err == io.EOF && p.Loop {
		if _, err = p.f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		p.r.Reset(p.f)
		_, err = io.ReadFull(p.r, p.raw)
	}
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		buf[i] = binary.LittleEndian.Uint16(p.raw[2*i:])
	}
	return nil
}

// WriteFrames appends frames to w in the format Player reads.  It is the
// inverse of ReadFrame and is used to capture streams for later replay.
func WriteFrames(w io.Writer, frames ...[]uint16) error {
	var raw []byte
	for _, f := range frames {
		if cap(raw) < 2*len(f) {
			raw = make([]byte, 2*len(f))
		}
		raw = raw[:2*len(f)]
		for i, v := range f {
			binary.LittleEndian.PutUint16(raw[2*i:], v)
		}
		if _, err := w.Write(raw); err != nil {
			return err
		}
	}
	return nil
}
