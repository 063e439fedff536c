package bitmap

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
)

var (
	// ErrBinaryInput is returned when a tonal filter is handed a bitmap that
	// has already been thresholded.
	ErrBinaryInput = errors.New("bitmap is already binary")
	// ErrNotGrayscale is returned when a filter that works on a single luma
	// channel is handed a color bitmap.
	ErrNotGrayscale = errors.New("bitmap is not grayscale")
	// ErrEmpty is returned for bitmaps with no pixels.
	ErrEmpty = errors.New("bitmap is empty")
)

// Mode describes what the pixels of a Bitmap are allowed to contain.
type Mode int

const (
	// Color pixels carry independent R, G and B values.
	Color Mode = iota
	// Gray pixels carry the same value in R, G and B.
	Gray
	// Binary pixels are exactly black or white.
	Binary
)

func (m Mode) String() string {
	switch m {
	case Color:
		return "color"
	case Gray:
		return "gray"
	case Binary:
		return "binary"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Bitmap is an immutable 8-bit RGBA raster. Filters never modify a Bitmap
// they are given; they return a new one.
type Bitmap struct {
	img  *image.NRGBA
	mode Mode
}

// FromImage copies img into a new color Bitmap.
func FromImage(img image.Image) *Bitmap {
	return &Bitmap{img: imaging.Clone(img), mode: Color}
}

// FromNRGBA wraps img without copying. The caller gives up ownership of img.
func FromNRGBA(img *image.NRGBA, mode Mode) *Bitmap {
	if img.Rect.Min != (image.Point{}) {
		img = imaging.Clone(img)
	}
	return &Bitmap{img: img, mode: mode}
}

// FromPlane builds a Bitmap from a single channel of w*h values, replicating
// each value across R, G and B with full alpha.
func FromPlane(w, h int, plane []uint8, mode Mode) *Bitmap {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i, v := range plane[:w*h] {
		o := i * 4
		img.Pix[o] = v
		img.Pix[o+1] = v
		img.Pix[o+2] = v
		img.Pix[o+3] = 0xff
	}
	return &Bitmap{img: img, mode: mode}
}

func (b *Bitmap) Width() int  { return b.img.Rect.Dx() }
func (b *Bitmap) Height() int { return b.img.Rect.Dy() }
func (b *Bitmap) Mode() Mode  { return b.mode }

// Empty reports whether the bitmap has no pixels.
func (b *Bitmap) Empty() bool {
	return b == nil || b.img == nil || b.img.Rect.Empty()
}

// RGBA returns the channel values of the pixel at (x, y).
func (b *Bitmap) RGBA(x, y int) (r, g, bl, a uint8) {
	o := b.img.PixOffset(x, y)
	p := b.img.Pix[o : o+4 : o+4]
	return p[0], p[1], p[2], p[3]
}

// Image exposes the bitmap as an image.Image. The result must be treated as
// read-only.
func (b *Bitmap) Image() image.Image { return b.img }

// NRGBA returns a private copy of the underlying pixels.
func (b *Bitmap) NRGBA() *image.NRGBA { return imaging.Clone(b.img) }

// Plane returns the luma of every pixel, row-major. For Gray and Binary
// bitmaps this is just the red channel.
func (b *Bitmap) Plane() []uint8 {
	w, h := b.Width(), b.Height()
	plane := make([]uint8, w*h)
	for i := range plane {
		o := i * 4
		if b.mode == Color {
			plane[i] = Luma(b.img.Pix[o], b.img.Pix[o+1], b.img.Pix[o+2])
		} else {
			plane[i] = b.img.Pix[o]
		}
	}
	return plane
}

// Luma is the 0.299/0.587/0.114 weighted average of r, g and b.
func Luma(r, g, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b) + 500) / 1000)
}

// Require returns an error unless the bitmap is non-empty and in one of the
// allowed modes.
func (b *Bitmap) Require(allowed ...Mode) error {
	if b.Empty() {
		return ErrEmpty
	}
	for _, m := range allowed {
		if b.mode == m {
			return nil
		}
	}
	if b.mode == Binary {
		return ErrBinaryInput
	}
	return fmt.Errorf("%w: mode is %s", ErrNotGrayscale, b.mode)
}

// IsTwoLevel scans every pixel and reports whether each one is pure black or
// pure white.
func (b *Bitmap) IsTwoLevel() bool {
	p := b.img.Pix
	for o := 0; o < len(p); o += 4 {
		v := p[o]
		if (v != 0 && v != 0xff) || p[o+1] != v || p[o+2] != v {
			return false
		}
	}
	return true
}

// EncodePNG encodes the bitmap as PNG.
func (b *Bitmap) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, b.img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}
