package bitmap

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// ErrInvalidCrop is returned when a crop rectangle is empty or falls outside
// the (rotated) bitmap.
var ErrInvalidCrop = errors.New("invalid crop rectangle")

// Transform is the operator's rotate/crop choice for one scan. Rotation is
// applied first; Crop is expressed in the coordinates of the rotated bitmap.
type Transform struct {
	// Rotate is the counter-clockwise rotation in degrees.
	Rotate float64
	// Crop is the region to keep. The zero rectangle keeps everything.
	Crop image.Rectangle
}

// IsZero reports whether applying t would leave the bitmap unchanged.
func (t Transform) IsZero() bool {
	return math.Mod(t.Rotate, 360) == 0 && t.Crop.Empty()
}

// Apply returns the rotated and cropped bitmap. Uncovered corners left by an
// arbitrary-angle rotation are filled with white.
func (t Transform) Apply(b *Bitmap) (*Bitmap, error) {
	if b.Empty() {
		return nil, ErrEmpty
	}
	img := b.img
	mode := b.mode

	if angle := math.Mod(t.Rotate, 360); angle != 0 {
		img = imaging.Rotate(img, angle, color.White)
		if math.Mod(angle, 90) != 0 && mode == Binary {
			mode = Gray
		}
	}

	if !t.Crop.Empty() {
		if !t.Crop.In(img.Bounds()) {
			return nil, fmt.Errorf("%w: %v not within %v", ErrInvalidCrop, t.Crop, img.Bounds())
		}
		img = imaging.Crop(img, t.Crop)
	} else if img == b.img {
		return b, nil
	}

	return FromNRGBA(img, mode), nil
}

// ParseCrop parses "x,y,w,h". An empty string yields the zero rectangle.
func ParseCrop(s string) (image.Rectangle, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return image.Rectangle{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("%w: want x,y,w,h, got %q", ErrInvalidCrop, s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("%w: %q: %v", ErrInvalidCrop, p, err)
		}
		v[i] = n
	}
	if v[2] <= 0 || v[3] <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: width and height must be positive", ErrInvalidCrop)
	}
	return image.Rect(v[0], v[1], v[0]+v[2], v[1]+v[3]), nil
}
