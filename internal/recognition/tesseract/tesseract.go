package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/docscan/internal/bitmap"
	"github.com/zombor/docscan/internal/recognition"
)

const (
	// DefaultLanguages is the language list used when no script hint is given
	DefaultLanguages = "ara+eng"
	// DefaultDPI is forced on the engine; the preprocessed page has no DPI metadata
	DefaultDPI = 300
	// DefaultBlacklist keeps decorative symbols out of the output
	DefaultBlacklist = "©®™§¶•●○◦■□▪▫◆◇★☆※¤¦~^`{}<>"
)

// Options configures an Engine.
type Options struct {
	// TessdataPrefix is the directory holding *.traineddata; empty uses the system default
	TessdataPrefix string
	DPI            int
	Blacklist      string
}

// Engine implements recognition.Engine with a long-lived gosseract client.
type Engine struct {
	opts          Options
	clientFactory func() *gosseract.Client
	client        *gosseract.Client
	languages     []string
}

var _ recognition.Engine = (*Engine)(nil)

// New creates an uninitialized Tesseract engine.
func New(opts Options) *Engine {
	if opts.DPI <= 0 {
		opts.DPI = DefaultDPI
	}
	if opts.Blacklist == "" {
		opts.Blacklist = DefaultBlacklist
	}
	return &Engine{opts: opts, clientFactory: gosseract.NewClient}
}

func (e *Engine) Name() string { return "tesseract" }

// Initialize creates the client, loads the language models for script and
// runs one warm-up recognition so that missing traineddata surfaces here
// rather than on the first real image.
func (e *Engine) Initialize(ctx context.Context, script string) error {
	if e.client != nil {
		return nil
	}
	if script == "" {
		script = DefaultLanguages
	}
	e.languages = strings.Split(script, "+")

	client := e.clientFactory()
	if err := e.configure(client); err != nil {
		client.Close()
		return err
	}
	if err := ctx.Err(); err != nil {
		client.Close()
		return err
	}
	if err := warmUp(client); err != nil {
		client.Close()
		return fmt.Errorf("loading language models %v: %w", e.languages, err)
	}

	e.client = client
	return nil
}

func (e *Engine) configure(c *gosseract.Client) error {
	if e.opts.TessdataPrefix != "" {
		if err := c.SetTessdataPrefix(e.opts.TessdataPrefix); err != nil {
			return fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := c.SetLanguage(e.languages...); err != nil {
		return fmt.Errorf("set languages: %w", err)
	}
	// the preprocessed page is one uniform block of text
	if err := c.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return fmt.Errorf("set page segmentation mode: %w", err)
	}
	vars := map[string]string{
		"tessedit_char_blacklist":   e.opts.Blacklist,
		"user_defined_dpi":          strconv.Itoa(e.opts.DPI),
		"preserve_interword_spaces": "1",
	}
	for k, v := range vars {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return fmt.Errorf("set variable %s: %w", k, err)
		}
	}
	return nil
}

func warmUp(c *gosseract.Client) error {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		return err
	}
	_, err := c.Text()
	return err
}

// Recognize runs Tesseract over b. Confidence is the mean word confidence.
func (e *Engine) Recognize(ctx context.Context, b *bitmap.Bitmap) (recognition.Result, error) {
	if e.client == nil {
		return recognition.Result{}, fmt.Errorf("tesseract engine not initialized")
	}
	if err := ctx.Err(); err != nil {
		return recognition.Result{}, err
	}

	data, err := encodeGray(b)
	if err != nil {
		return recognition.Result{}, err
	}
	if err := e.client.SetImageFromBytes(data); err != nil {
		return recognition.Result{}, fmt.Errorf("set image: %w", err)
	}
	text, err := e.client.Text()
	if err != nil {
		return recognition.Result{}, fmt.Errorf("recognize text: %w", err)
	}

	return recognition.Result{
		Text:       strings.TrimSpace(text),
		Confidence: meanConfidence(e.client),
	}, nil
}

func meanConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, box := range boxes {
		sum += box.Confidence
	}
	return sum / float64(len(boxes)) / 100
}

// encodeGray writes b as an 8-bit grayscale PNG, a quarter of the RGBA size.
func encodeGray(b *bitmap.Bitmap) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, b.Width(), b.Height()))
	copy(img.Pix, b.Plane())

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// Close releases the client.
func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}
