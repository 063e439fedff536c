package preprocess

import (
	"context"
	"math"
	"runtime"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/docscan/internal/bitmap"
)

// ResizeBitmap scales b so that its width is at least minWidth and neither
// side exceeds maxDimension. Zero disables either bound. Aspect ratio is kept.
func ResizeBitmap(b *bitmap.Bitmap, minWidth, maxDimension int) (*bitmap.Bitmap, error) {
	if err := b.Require(bitmap.Color, bitmap.Gray, bitmap.Binary); err != nil {
		return nil, err
	}
	w, h := b.Width(), b.Height()
	nw, nh := float64(w), float64(h)

	if minWidth > 0 && nw < float64(minWidth) {
		scale := float64(minWidth) / nw
		nw, nh = float64(minWidth), nh*scale
	}
	if longest := math.Max(nw, nh); maxDimension > 0 && longest > float64(maxDimension) {
		scale := float64(maxDimension) / longest
		nw, nh = nw*scale, nh*scale
	}

	tw := max(1, int(math.Round(nw)))
	th := max(1, int(math.Round(nh)))
	if tw == w && th == h {
		return b, nil
	}

	mode := b.Mode()
	if mode == bitmap.Binary {
		mode = bitmap.Gray
	}
	return bitmap.FromNRGBA(imaging.Resize(b.Image(), tw, th, imaging.Lanczos), mode), nil
}

// EqualizeLocal applies contrast-limited histogram equalization tile by
// tile. The bitmap is split into a tiles x tiles grid; each tile gets a
// lookup table built from the histogram of its luma, with bins clipped at
// clipFactor*area/256 and the excess spread evenly over all bins. The table
// is applied to R, G and B. Rows of tiles are processed concurrently.
func EqualizeLocal(ctx context.Context, b *bitmap.Bitmap, tiles int, clipFactor float64) (*bitmap.Bitmap, error) {
	if err := b.Require(bitmap.Color, bitmap.Gray); err != nil {
		return nil, err
	}
	if tiles < 1 {
		tiles = DefaultTiles
	}
	if clipFactor <= 0 {
		clipFactor = DefaultClipFactor
	}

	w, h := b.Width(), b.Height()
	tileW := max(1, (w+tiles-1)/tiles)
	tileH := max(1, (h+tiles-1)/tiles)
	luma := b.Plane()
	out := b.NRGBA()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for y0 := 0; y0 < h; y0 += tileH {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			y1 := min(y0+tileH, h)
			var lut [256]uint8
			for x0 := 0; x0 < w; x0 += tileW {
				x1 := min(x0+tileW, w)
				blockLUT(&lut, luma, w, x0, y0, x1, y1, clipFactor)
				for y := y0; y < y1; y++ {
					o := out.PixOffset(x0, y)
					for x := x0; x < x1; x++ {
						out.Pix[o] = lut[out.Pix[o]]
						out.Pix[o+1] = lut[out.Pix[o+1]]
						out.Pix[o+2] = lut[out.Pix[o+2]]
						o += 4
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return bitmap.FromNRGBA(out, b.Mode()), nil
}

// blockLUT fills lut with the clipped-histogram CDF of the block [x0,x1)x[y0,y1).
func blockLUT(lut *[256]uint8, luma []uint8, stride, x0, y0, x1, y1 int, clipFactor float64) {
	var hist [256]float64
	for y := y0; y < y1; y++ {
		row := luma[y*stride+x0 : y*stride+x1]
		for _, v := range row {
			hist[v]++
		}
	}

	area := float64((x1 - x0) * (y1 - y0))
	limit := clipFactor * area / 256
	var excess float64
	for i, n := range hist {
		if n > limit {
			excess += n - limit
			hist[i] = limit
		}
	}
	bonus := excess / 256

	var cdf float64
	for i, n := range hist {
		cdf += n + bonus
		lut[i] = clampByte(cdf / area * 255)
	}
}

// ToGray replaces every pixel with its luma.
func ToGray(b *bitmap.Bitmap) (*bitmap.Bitmap, error) {
	if err := b.Require(bitmap.Color, bitmap.Gray); err != nil {
		return nil, err
	}
	if b.Mode() == bitmap.Gray {
		return b, nil
	}
	return bitmap.FromPlane(b.Width(), b.Height(), b.Plane(), bitmap.Gray), nil
}

// gaussian3 is the 3x3 binomial kernel; weights sum to 16.
var gaussian3 = [3][3]int{
	{1, 2, 1},
	{2, 4, 2},
	{1, 2, 1},
}

// UnsharpMask pushes every pixel away from its 3x3 Gaussian-blurred value by
// amount. Edge pixels reuse the nearest row or column.
func UnsharpMask(b *bitmap.Bitmap, amount float64) (*bitmap.Bitmap, error) {
	if err := b.Require(bitmap.Gray); err != nil {
		return nil, err
	}
	w, h := b.Width(), b.Height()
	src := b.Plane()
	dst := make([]uint8, len(src))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum int
			for ky := -1; ky <= 1; ky++ {
				row := clampInt(y+ky, h) * w
				for kx := -1; kx <= 1; kx++ {
					sum += gaussian3[ky+1][kx+1] * int(src[row+clampInt(x+kx, w)])
				}
			}
			blurred := float64(sum) / 16
			v := float64(src[y*w+x])
			dst[y*w+x] = clampByte(v + amount*(v-blurred))
		}
	}

	return bitmap.FromPlane(w, h, dst, bitmap.Gray), nil
}

// MedianFilter replaces every pixel with the median of its 3x3 neighborhood.
func MedianFilter(b *bitmap.Bitmap) (*bitmap.Bitmap, error) {
	if err := b.Require(bitmap.Gray, bitmap.Binary); err != nil {
		return nil, err
	}
	w, h := b.Width(), b.Height()
	src := b.Plane()
	dst := make([]uint8, len(src))

	var win [9]uint8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := 0
			for ky := -1; ky <= 1; ky++ {
				row := clampInt(y+ky, h) * w
				for kx := -1; kx <= 1; kx++ {
					win[n] = src[row+clampInt(x+kx, w)]
					n++
				}
			}
			// insertion sort; nine elements
			for i := 1; i < len(win); i++ {
				for j := i; j > 0 && win[j] < win[j-1]; j-- {
					win[j], win[j-1] = win[j-1], win[j]
				}
			}
			dst[y*w+x] = win[4]
		}
	}

	return bitmap.FromPlane(w, h, dst, b.Mode()), nil
}

// Erode replaces every pixel with the minimum of its 3x3 neighborhood.
func Erode(b *bitmap.Bitmap) (*bitmap.Bitmap, error) {
	return morph(b, func(a, c uint8) bool { return c < a })
}

// Dilate replaces every pixel with the maximum of its 3x3 neighborhood.
func Dilate(b *bitmap.Bitmap) (*bitmap.Bitmap, error) {
	return morph(b, func(a, c uint8) bool { return c > a })
}

// Open is an erosion followed by a dilation.
func Open(b *bitmap.Bitmap) (*bitmap.Bitmap, error) {
	eroded, err := Erode(b)
	if err != nil {
		return nil, err
	}
	return Dilate(eroded)
}

func morph(b *bitmap.Bitmap, better func(cur, cand uint8) bool) (*bitmap.Bitmap, error) {
	if err := b.Require(bitmap.Gray, bitmap.Binary); err != nil {
		return nil, err
	}
	w, h := b.Width(), b.Height()
	src := b.Plane()
	dst := make([]uint8, len(src))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := src[y*w+x]
			for ky := -1; ky <= 1; ky++ {
				row := clampInt(y+ky, h) * w
				for kx := -1; kx <= 1; kx++ {
					if c := src[row+clampInt(x+kx, w)]; better(v, c) {
						v = c
					}
				}
			}
			dst[y*w+x] = v
		}
	}

	return bitmap.FromPlane(w, h, dst, b.Mode()), nil
}

// OtsuThreshold returns the lowest intensity classed as white by Otsu's
// method over the whole bitmap. A bitmap with a single intensity yields 128.
func OtsuThreshold(b *bitmap.Bitmap) (uint8, error) {
	if err := b.Require(bitmap.Gray); err != nil {
		return 0, err
	}
	return otsu(b.Plane()), nil
}

func otsu(plane []uint8) uint8 {
	var hist [256]float64
	for _, v := range plane {
		hist[v]++
	}
	total := float64(len(plane))
	var sum float64
	for i, n := range hist {
		sum += float64(i) * n
	}

	var (
		sumB, wB float64
		maxVar   float64
		best     = -1
	)
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * hist[t]
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > maxVar {
			maxVar = between
			best = t
		}
	}
	if best < 0 {
		return 128
	}
	return uint8(best + 1)
}

// Binarize thresholds b with Otsu's method: pixels below the threshold become
// black, the rest white.
func Binarize(b *bitmap.Bitmap) (*bitmap.Bitmap, uint8, error) {
	t, err := OtsuThreshold(b)
	if err != nil {
		return nil, 0, err
	}
	plane := b.Plane()
	for i, v := range plane {
		if v < t {
			plane[i] = 0
		} else {
			plane[i] = 0xff
		}
	}
	return bitmap.FromPlane(b.Width(), b.Height(), plane, bitmap.Binary), t, nil
}

func clampInt(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}
