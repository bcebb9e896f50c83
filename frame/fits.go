package frame

import (
	"fmt"
	"io"

	"github.com/astrogo/fitsio"
)

// FITSCards returns the per-frame header cards
func FITSCards(f Frame) []fitsio.Card {
	return []fitsio.Card{
		{Name: "FRAMESEQ", Value: int(f.Seq), Comment: "acquisition sequence number"},
		{Name: "DATE-OBS", Value: f.Time.UTC().Format("2006-01-02T15:04:05.000"), Comment: "frame receive time, UTC"},
		{Name: "FRAMECRC", Value: int(f.Checksum()), Comment: "CRC-32 of little endian pixel data"},
	}
}

// WriteFITS streams a fits file to w.  A single frame produces a 2D image,
// more than one produces a cube with the frame index on the third axis.
// All frames must have the same shape.
func WriteFITS(w io.Writer, metadata []fitsio.Card, frames ...Frame) error {
	if len(frames) == 0 || len(frames[0].Pix) == 0 {
		return ErrEmpty
	}
	width, height := frames[0].Cols, frames[0].Rows
	for i, f := range frames {
		if f.Cols != width || f.Rows != height || len(f.Pix) != width*height {
			return fmt.Errorf("frame %d is %dx%d with %d samples, want %dx%d", i, f.Rows, f.Cols, len(f.Pix), height, width)
		}
	}
	metadata = append(metadata,
		fitsio.Card{Name: "BZERO", Value: 32768},
		fitsio.Card{Name: "BSCALE", Value: 1.0})
	if len(frames) == 1 {
		metadata = append(metadata, FITSCards(frames[0])...)
	}

	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{width, height}
	if len(frames) > 1 {
		dims = append(dims, len(frames))
	}
	im := fitsio.NewImage(16, dims)
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}

	// FITS has no unsigned 16-bit type; shift into int16 and let BZERO undo it
	bufOut := make([]int16, 0, width*height*len(frames))
	for _, f := range frames {
		for _, v := range f.Pix {
			bufOut = append(bufOut, int16(v-32768))
		}
	}
	err = im.Write(bufOut)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
