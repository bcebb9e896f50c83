// this file contains a few small image orientation utilities
package frame

import (
	"errors"
	"image"
	"image/draw"

	"github.com/disintegration/gift"
)

// ErrBadRotation is returned for rotations other than multiples of 90 degrees
var ErrBadRotation = errors.New("frame: rotation must be 0, 90, 180, or 270 degrees")

// Orient rotates img clockwise by rot degrees and then optionally mirrors it
// left to right.  Sensors are often mounted sideways in the optical path.
// Gray and Gray16 images keep their pixel type.
func Orient(img image.Image, rot int, flip bool) (image.Image, error) {
	var filters []gift.Filter
	switch ((rot % 360) + 360) % 360 {
	case 0:
	case 90:
		// gift rotates counter-clockwise
		filters = append(filters, gift.Rotate270())
	case 180:
		filters = append(filters, gift.Rotate180())
	case 270:
		filters = append(filters, gift.Rotate90())
	default:
		return nil, ErrBadRotation
	}
	if flip {
		filters = append(filters, gift.FlipHorizontal())
	}
	if len(filters) == 0 {
		return img, nil
	}
	g := gift.New(filters...)
	bounds := g.Bounds(img.Bounds())
	var dst draw.Image
	switch img.(type) {
	case *image.Gray16:
		dst = image.NewGray16(bounds)
	case *image.Gray:
		dst = image.NewGray(bounds)
	default:
		dst = image.NewRGBA(bounds)
	}
	g.Draw(dst, img)
	return dst, nil
}
