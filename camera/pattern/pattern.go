// Package pattern provides a synthetic camera.Source for running without
// hardware.  Frames are a horizontal ramp with a bright bar sweeping across
// it, emitted in tap-interleaved order as a real multi-tap sensor would.
package pattern

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nasa-jpl/liveview/camera"
	"github.com/nasa-jpl/liveview/interlace"
)

// BarValue is the brightness of the sweeping bar
const BarValue = 65535

// Render writes the spatial (row-major) test image for frame seq into dst
func Render(dst []uint16, g interlace.Geometry, seq uint64) {
	bar := int(seq % uint64(g.Cols))
	maxRamp := 60000
	for r := 0; r < g.Rows; r++ {
		row := dst[r*g.Cols : (r+1)*g.Cols]
		for c := range row {
			if c == bar {
				row[c] = BarValue
				continue
			}
			if g.Cols > 1 {
				row[c] = uint16(c * maxRamp / (g.Cols - 1))
			} else {
				row[c] = 0
			}
		}
	}
}

// Generator is a camera.Source producing test frames
type Generator struct {
	geom interlace.Geometry
	fps  float64

	mu      sync.Mutex
	lim     *rate.Limiter
	spatial []uint16
	seq     uint64
	ready   bool
}

// New returns a Generator for geometry g paced at fps frames per second
// (zero for unpaced)
func New(g interlace.Geometry, fps float64) (*Generator, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Generator{geom: g, fps: fps}, nil
}

// Initialize allocates the render buffer and resets the sequence
func (g *Generator) Initialize() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spatial = make([]uint16, g.geom.FrameSize())
	g.seq = 0
	if g.fps > 0 {
		g.lim = rate.NewLimiter(rate.Limit(g.fps), 1)
	}
	g.ready = true
	return nil
}

// Finalize marks the generator as closed
func (g *Generator) Finalize() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ready = false
	return nil
}

// GetRes returns (Rows, Cols)
func (g *Generator) GetRes() ([2]int, error) {
	return [2]int{g.geom.Rows, g.geom.Cols}, nil
}

// ReadFrame renders the next frame and interleaves it into buf
func (g *Generator) ReadFrame(ctx context.Context, buf []uint16) error {
	g.mu.Lock()
	lim := g.lim
	g.mu.Unlock()
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.ready {
		return camera.ErrNotInitialized
	}
	n := g.geom.FrameSize()
	if len(buf) < n {
		return fmt.Errorf("%w: got %d, want %d", camera.ErrShortBuffer, len(buf), n)
	}
	Render(g.spatial, g.geom, g.seq)
	g.seq++
	return interlace.Interleave(buf[:n], g.spatial, g.geom)
}
