/*Package interlace restores the spatial pixel order of frames read out of
multi-tap imaging sensors.

A sensor with N parallel readout taps emits each row column-group interleaved:
the first sample of every tap, then the second sample of every tap, and so on.
Tap t owns the spatial columns [t*tapWidth, (t+1)*tapWidth) of the row.  For a
row of 8 columns and 4 taps (A, B, C, D) the sensor emits

	A0 B0 C0 D0 A1 B1 C1 D1

and the image is

	A0 A1 B0 B1 C0 C1 D0 D1

Deinterlacer performs this conversion in place from the caller's point of
view, using a scratch buffer allocated once at construction.
*/
package interlace

import (
	"errors"
	"fmt"
)

const (
	// DefaultTaps is the readout channel count of the supported sensor family
	DefaultTaps = 4

	// MaxSize is the largest frame, in samples, a Deinterlacer will accept
	MaxSize = 2048 * 2048
)

var (
	// ErrBadGeometry is returned when rows, cols, or taps is not positive
	ErrBadGeometry = errors.New("interlace: rows, cols, and taps must be positive")

	// ErrFrameTooLarge is returned when rows*cols exceeds MaxSize
	ErrFrameTooLarge = errors.New("interlace: frame exceeds the maximum supported size")

	// ErrTapMismatch is returned when cols is not evenly divisible by taps
	ErrTapMismatch = errors.New("interlace: cols is not a multiple of taps")

	// ErrBufferSize is returned when a buffer does not hold exactly one frame
	ErrBufferSize = errors.New("interlace: buffer length does not match the frame size")
)

// Geometry describes the readout layout of a sensor
type Geometry struct {
	// Rows is the number of sensor rows
	Rows int `json:"rows"`

	// Cols is the number of sensor columns
	Cols int `json:"cols"`

	// Taps is the number of parallel readout channels
	Taps int `json:"taps"`
}

// FrameSize is the number of samples in one frame
func (g Geometry) FrameSize() int {
	return g.Rows * g.Cols
}

// TapWidth is the number of spatial columns each tap contributes per row
func (g Geometry) TapWidth() int {
	if g.Taps == 0 {
		return 0
	}
	return g.Cols / g.Taps
}

// Validate returns nil if g can be handled by a Deinterlacer
func (g Geometry) Validate() error {
	if g.Rows <= 0 || g.Cols <= 0 || g.Taps <= 0 {
		return fmt.Errorf("%w: got %dx%d with %d taps", ErrBadGeometry, g.Rows, g.Cols, g.Taps)
	}
	// rows*cols can overflow for absurd inputs, compare by division
	if g.Rows > MaxSize/g.Cols {
		return fmt.Errorf("%w: %dx%d > %d samples", ErrFrameTooLarge, g.Rows, g.Cols, MaxSize)
	}
	if g.Cols%g.Taps != 0 {
		return fmt.Errorf("%w: %d cols, %d taps", ErrTapMismatch, g.Cols, g.Taps)
	}
	return nil
}

// Deinterlacer converts tap-interleaved frames to row-major spatial order.
// It is not safe for concurrent use; give each capture stream its own.
type Deinterlacer struct {
	geom     Geometry
	frSize   int
	tapWidth int
	scratch  []uint16
}

// New returns a Deinterlacer for a rows x cols sensor with DefaultTaps taps
func New(rows, cols int) (*Deinterlacer, error) {
	return NewWithGeometry(Geometry{Rows: rows, Cols: cols, Taps: DefaultTaps})
}

// NewWithGeometry returns a Deinterlacer for an arbitrary tap count.
// The geometry is validated here, so Apply never needs to bounds check
// beyond the length of the buffer it is given.
func NewWithGeometry(g Geometry) (*Deinterlacer, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Deinterlacer{
		geom:     g,
		frSize:   g.FrameSize(),
		tapWidth: g.TapWidth(),
		scratch:  make([]uint16, g.FrameSize()),
	}, nil
}

// Geometry returns the geometry the Deinterlacer was built with
func (d *Deinterlacer) Geometry() Geometry {
	return d.geom
}

// FrameSize is the number of samples Apply expects
func (d *Deinterlacer) FrameSize() int {
	return d.frSize
}

// Apply rewrites buf, a tap-interleaved frame, in row-major spatial order.
//
// Apply is a one way conversion.  Calling it again on its own output does not
// restore the input; use Interleave for that.
func (d *Deinterlacer) Apply(buf []uint16) error {
	if len(buf) != d.frSize {
		return fmt.Errorf("%w: got %d, want %d", ErrBufferSize, len(buf), d.frSize)
	}
	var (
		nCols = d.geom.Cols
		nTaps = d.geom.Taps
		out   = d.scratch
	)
	for rowOffset := 0; rowOffset < d.frSize; rowOffset += nCols {
		row := buf[rowOffset : rowOffset+nCols]
		for tap := 0; tap < nTaps; tap++ {
			dst := out[rowOffset+tap*d.tapWidth : rowOffset+(tap+1)*d.tapWidth]
			for x := range dst {
				dst[x] = row[nTaps*x+tap]
			}
		}
	}
	copy(buf, out)
	return nil
}

// Interleave is the inverse of Deinterlacer.Apply.  It writes the spatial
// frame src into dst in the order a sensor with geometry g reads it out.
// dst and src must not overlap.
func Interleave(dst, src []uint16, g Geometry) error {
	if err := g.Validate(); err != nil {
		return err
	}
	n := g.FrameSize()
	if len(src) != n || len(dst) != n {
		return fmt.Errorf("%w: got src=%d dst=%d, want %d", ErrBufferSize, len(src), len(dst), n)
	}
	tapWidth := g.TapWidth()
	for rowOffset := 0; rowOffset < n; rowOffset += g.Cols {
		row := dst[rowOffset : rowOffset+g.Cols]
		for tap := 0; tap < g.Taps; tap++ {
			seg := src[rowOffset+tap*tapWidth : rowOffset+(tap+1)*tapWidth]
			for x, v := range seg {
				row[g.Taps*x+tap] = v
			}
		}
	}
	return nil
}
