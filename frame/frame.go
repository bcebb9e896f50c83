// Package frame holds de-interlaced sensor frames and encodes them for
// display and archival
package frame

import (
	"encoding/binary"
	"errors"
	"image"
	"time"

	"github.com/snksoft/crc"
)

// ErrEmpty is returned when there is no pixel data to work with
var ErrEmpty = errors.New("frame: no pixel data")

// Frame is one row-major image read from the sensor
type Frame struct {
	// Rows is the frame height in pixels
	Rows int

	// Cols is the frame width in pixels
	Cols int

	// Seq is the sequence number assigned by the acquisition loop, starting at 1
	Seq uint64

	// Time is when the frame was received
	Time time.Time

	// Pix holds Rows*Cols samples, strided by Cols
	Pix []uint16
}

// Bounds returns the image rectangle of the frame
func (f Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Cols, f.Rows)
}

// Gray16 converts the frame to an image.Gray16, which stores big endian bytes
func (f Frame) Gray16() *image.Gray16 {
	im := image.NewGray16(f.Bounds())
	for i, v := range f.Pix {
		binary.BigEndian.PutUint16(im.Pix[2*i:], v)
	}
	return im
}

// Gray8 maps the frame onto 8 bits for preview.  floor maps to black and
// ceiling to white; values outside the range saturate.  If ceiling <= floor
// the full 16-bit range is used.
func (f Frame) Gray8(floor, ceiling uint16) *image.Gray {
	if ceiling <= floor {
		floor, ceiling = 0, 65535
	}
	im := image.NewGray(f.Bounds())
	span := uint32(ceiling - floor)
	for i, v := range f.Pix {
		switch {
		case v <= floor:
			im.Pix[i] = 0
		case v >= ceiling:
			im.Pix[i] = 255
		default:
			im.Pix[i] = uint8(uint32(v-floor) * 255 / span)
		}
	}
	return im
}

// Checksum is the CRC-32 of the little endian pixel data, recorded alongside
// archived frames so corruption on disk can be detected
func (f Frame) Checksum() uint64 {
	buf := make([]byte, 2*len(f.Pix))
	for i, v := range f.Pix {
		binary.LittleEndian.PutUint16(buf[2*i:], v)
	}
	return crc.CalculateCRC(crc.CRC32, buf)
}

// Copy returns a deep copy of the frame
func (f Frame) Copy() Frame {
	out := f
	out.Pix = append([]uint16(nil), f.Pix...)
	return out
}
