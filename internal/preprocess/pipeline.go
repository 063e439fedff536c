package preprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zombor/docscan/internal/bitmap"
)

// ErrStageOrder is returned when a pipeline is assembled with stages out of
// the required order.
var ErrStageOrder = errors.New("preprocessing stages out of order")

const (
	DefaultMinWidth      = 1500
	DefaultMaxDimension  = 4000
	DefaultTiles         = 8
	DefaultClipFactor    = 2.0
	DefaultSharpenAmount = 0.8
)

// Step identifies a stage's position in the preprocessing order. A pipeline
// must list its stages with strictly increasing steps.
type Step int

const (
	StepResize Step = iota
	StepContrast
	StepGrayscale
	StepSharpen
	StepDenoise
	StepMorphology
	StepThreshold
)

var stepNames = [...]string{
	StepResize:     "resize",
	StepContrast:   "contrast",
	StepGrayscale:  "grayscale",
	StepSharpen:    "sharpen",
	StepDenoise:    "denoise",
	StepMorphology: "morphology",
	StepThreshold:  "threshold",
}

func (s Step) String() string {
	if s >= 0 && int(s) < len(stepNames) {
		return stepNames[s]
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Stage is one filter in the pipeline.
type Stage struct {
	Step  Step
	Apply func(ctx context.Context, b *bitmap.Bitmap) (*bitmap.Bitmap, error)
}

// Config holds the tunable parameters of the standard pipeline.
type Config struct {
	MinWidth      int
	MaxDimension  int
	Tiles         int // local contrast grid is Tiles x Tiles
	ClipFactor    float64
	SharpenAmount float64
}

// DefaultConfig returns the parameters the recognizer is tuned for.
func DefaultConfig() Config {
	return Config{
		MinWidth:      DefaultMinWidth,
		MaxDimension:  DefaultMaxDimension,
		Tiles:         DefaultTiles,
		ClipFactor:    DefaultClipFactor,
		SharpenAmount: DefaultSharpenAmount,
	}
}

func Resize(minWidth, maxDimension int) Stage {
	return Stage{Step: StepResize, Apply: func(_ context.Context, b *bitmap.Bitmap) (*bitmap.Bitmap, error) {
		return ResizeBitmap(b, minWidth, maxDimension)
	}}
}

func Contrast(tiles int, clipFactor float64) Stage {
	return Stage{Step: StepContrast, Apply: func(ctx context.Context, b *bitmap.Bitmap) (*bitmap.Bitmap, error) {
		return EqualizeLocal(ctx, b, tiles, clipFactor)
	}}
}

func Grayscale() Stage {
	return Stage{Step: StepGrayscale, Apply: func(_ context.Context, b *bitmap.Bitmap) (*bitmap.Bitmap, error) {
		return ToGray(b)
	}}
}

func Sharpen(amount float64) Stage {
	return Stage{Step: StepSharpen, Apply: func(_ context.Context, b *bitmap.Bitmap) (*bitmap.Bitmap, error) {
		return UnsharpMask(b, amount)
	}}
}

func Denoise() Stage {
	return Stage{Step: StepDenoise, Apply: func(_ context.Context, b *bitmap.Bitmap) (*bitmap.Bitmap, error) {
		return MedianFilter(b)
	}}
}

func Morphology() Stage {
	return Stage{Step: StepMorphology, Apply: func(_ context.Context, b *bitmap.Bitmap) (*bitmap.Bitmap, error) {
		return Open(b)
	}}
}

func Threshold() Stage {
	return Stage{Step: StepThreshold, Apply: func(_ context.Context, b *bitmap.Bitmap) (*bitmap.Bitmap, error) {
		out, _, err := Binarize(b)
		return out, err
	}}
}

// Pipeline runs a validated sequence of stages.
type Pipeline struct {
	stages []Stage
	logger *slog.Logger
}

// New assembles a pipeline. Stages may be omitted but never reordered or
// repeated.
func New(logger *slog.Logger, stages ...Stage) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for i := 1; i < len(stages); i++ {
		if stages[i].Step <= stages[i-1].Step {
			return nil, fmt.Errorf("%w: %s after %s", ErrStageOrder, stages[i].Step, stages[i-1].Step)
		}
	}
	return &Pipeline{stages: stages, logger: logger}, nil
}

// Standard builds the full pipeline: resize, local contrast, grayscale,
// sharpen, denoise, morphological opening and global threshold.
func Standard(logger *slog.Logger, cfg Config) *Pipeline {
	p, err := New(logger,
		Resize(cfg.MinWidth, cfg.MaxDimension),
		Contrast(cfg.Tiles, cfg.ClipFactor),
		Grayscale(),
		Sharpen(cfg.SharpenAmount),
		Denoise(),
		Morphology(),
		Threshold(),
	)
	if err != nil {
		panic(err)
	}
	return p
}

// Steps lists the pipeline's stages in execution order.
func (p *Pipeline) Steps() []Step {
	steps := make([]Step, len(p.stages))
	for i, s := range p.stages {
		steps[i] = s.Step
	}
	return steps
}

// Process runs every stage over b and returns the final bitmap. The input is
// never modified. A failing stage aborts the run; no partial result is
// returned. Cancellation is checked between stages.
func (p *Pipeline) Process(ctx context.Context, b *bitmap.Bitmap) (*bitmap.Bitmap, error) {
	if b.Empty() {
		return nil, bitmap.ErrEmpty
	}
	start := time.Now()
	cur := b
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stageStart := time.Now()
		next, err := stage.Apply(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("%s stage: %w", stage.Step, err)
		}
		p.logger.Debug("preprocess stage done",
			"stage", stage.Step.String(),
			"width", next.Width(),
			"height", next.Height(),
			"mode", next.Mode().String(),
			"duration_ms", time.Since(stageStart).Milliseconds(),
		)
		cur = next
	}
	p.logger.Debug("preprocess done",
		"stages", len(p.stages),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return cur, nil
}
