package preprocess

import (
	"context"
	"errors"
	"image"
	"image/color"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/docscan/internal/bitmap"
)

// documentBitmap is a light page with one dark text bar across rows 20-29.
func documentBitmap() *bitmap.Bitmap {
	img := image.NewNRGBA(image.Rect(0, 0, 100, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 100; x++ {
			c := color.NRGBA{R: 235, G: 228, B: 215, A: 255}
			if y >= 20 && y < 30 && x >= 10 && x < 90 {
				c = color.NRGBA{R: 40, G: 40, B: 60, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return bitmap.FromImage(img)
}

var _ = Describe("Pipeline", func() {
	Describe("New", func() {
		It("should accept stages in order with gaps", func() {
			p, err := New(nil, Grayscale(), Denoise(), Threshold())
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Steps()).To(Equal([]Step{StepGrayscale, StepDenoise, StepThreshold}))
		})

		It("should reject thresholding before denoising", func() {
			_, err := New(nil, Grayscale(), Threshold(), Denoise())
			Expect(err).To(MatchError(ErrStageOrder))
			Expect(err.Error()).To(ContainSubstring("denoise after threshold"))
		})

		It("should reject sharpening before grayscale", func() {
			_, err := New(nil, Sharpen(0.8), Grayscale())
			Expect(err).To(MatchError(ErrStageOrder))
		})

		It("should reject repeated stages", func() {
			_, err := New(nil, Denoise(), Denoise())
			Expect(err).To(MatchError(ErrStageOrder))
		})
	})

	Describe("Standard", func() {
		It("should run every stage in the required order", func() {
			p := Standard(nil, DefaultConfig())
			Expect(p.Steps()).To(Equal([]Step{
				StepResize, StepContrast, StepGrayscale, StepSharpen,
				StepDenoise, StepMorphology, StepThreshold,
			}))
		})
	})

	Describe("Process", func() {
		var (
			pipeline *Pipeline
			input    *bitmap.Bitmap
			ctx      context.Context
			out      *bitmap.Bitmap
			err      error
		)

		BeforeEach(func() {
			pipeline = Standard(nil, DefaultConfig())
			input = documentBitmap()
			ctx = context.Background()
		})

		JustBeforeEach(func() {
			out, err = pipeline.Process(ctx, input)
		})

		When("processing a document photo", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should scale up to the minimum width", func() {
				Expect(out.Width()).To(Equal(DefaultMinWidth))
				Expect(out.Height()).To(Equal(900))
			})

			It("should produce a two-level binary bitmap", func() {
				Expect(out.Mode()).To(Equal(bitmap.Binary))
				Expect(out.IsTwoLevel()).To(BeTrue())
			})

			It("should render text black and paper white", func() {
				Expect(at(out, 750, 375)).To(Equal(uint8(0)))
				Expect(at(out, 750, 750)).To(Equal(uint8(255)))
			})

			It("should not modify the input", func() {
				Expect(input.Mode()).To(Equal(bitmap.Color))
				Expect(input.Width()).To(Equal(100))
				r, g, b, _ := input.RGBA(0, 0)
				Expect([]uint8{r, g, b}).To(Equal([]uint8{235, 228, 215}))
			})
		})

		When("the context is cancelled", func() {
			BeforeEach(func() {
				c, cancel := context.WithCancel(context.Background())
				cancel()
				ctx = c
			})

			It("should return the context error and no bitmap", func() {
				Expect(err).To(MatchError(context.Canceled))
				Expect(out).To(BeNil())
			})
		})

		When("a stage fails", func() {
			BeforeEach(func() {
				failing := Stage{Step: StepSharpen, Apply: func(context.Context, *bitmap.Bitmap) (*bitmap.Bitmap, error) {
					return nil, errors.New("canvas unavailable")
				}}
				var buildErr error
				pipeline, buildErr = New(nil, Grayscale(), failing, Threshold())
				Expect(buildErr).NotTo(HaveOccurred())
			})

			It("should abort with the stage name", func() {
				Expect(err).To(MatchError(ContainSubstring("sharpen stage: canvas unavailable")))
				Expect(out).To(BeNil())
			})
		})

		When("the input is already binary", func() {
			BeforeEach(func() {
				pipeline = Standard(nil, Config{Tiles: 8, ClipFactor: 2, SharpenAmount: 0.8})
				input = bitmap.FromPlane(4, 4, make([]uint8, 16), bitmap.Binary)
			})

			It("should refuse to run tonal filters on it", func() {
				Expect(err).To(MatchError(bitmap.ErrBinaryInput))
			})
		})

		When("the input is empty", func() {
			BeforeEach(func() {
				input = nil
			})

			It("should return ErrEmpty", func() {
				Expect(err).To(MatchError(bitmap.ErrEmpty))
			})
		})
	})
})
