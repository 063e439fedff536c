package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/zombor/docscan/internal/bitmap"
	"github.com/zombor/docscan/internal/recognition"
)

// DefaultModel is used when no model name is configured
const DefaultModel = "gemini-2.5-flash"

// ErrMissingAPIKey is returned by New when no key is configured
var ErrMissingAPIKey = errors.New("gemini api key is required")

// Engine implements recognition.Engine using a Gemini vision model as a
// transcriber. Field extraction is not delegated to the model.
type Engine struct {
	apiKey    string
	modelName string
	timeout   time.Duration
	opts      []option.ClientOption

	client *genai.Client
	model  *genai.GenerativeModel
	prompt string
}

var _ recognition.Engine = (*Engine)(nil)

// New creates an uninitialized Gemini engine
func New(apiKey, modelName string, opts ...option.ClientOption) (*Engine, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	return &Engine{
		apiKey:    apiKey,
		modelName: modelName,
		timeout:   60 * time.Second,
		opts:      opts,
	}, nil
}

func (g *Engine) Name() string { return "gemini" }

// Initialize creates the client and checks that the model exists and the
// key is accepted.
func (g *Engine) Initialize(ctx context.Context, script string) error {
	if g.client != nil {
		return nil
	}

	opts := append([]option.ClientOption{option.WithAPIKey(g.apiKey)}, g.opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(g.modelName)
	model.SetTemperature(0)

	if _, err := model.Info(ctx); err != nil {
		client.Close()
		return fmt.Errorf("loading model %s: %w", g.modelName, err)
	}

	g.client = client
	g.model = model
	g.prompt = recognition.TranscriptionPrompt(script)
	return nil
}

// Recognize sends the page as PNG and returns the transcription. Gemini does
// not report a confidence, so it is zero.
func (g *Engine) Recognize(ctx context.Context, b *bitmap.Bitmap) (recognition.Result, error) {
	if g.model == nil {
		return recognition.Result{}, fmt.Errorf("gemini engine not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	data, err := b.EncodePNG()
	if err != nil {
		return recognition.Result{}, err
	}

	// genai.ImageData expects the format suffix, not the full MIME type
	resp, err := g.model.GenerateContent(ctx, genai.ImageData("png", data), genai.Text(g.prompt))
	if err != nil {
		return recognition.Result{}, fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return recognition.Result{}, fmt.Errorf("no response from gemini")
	}

	return recognition.Result{Text: responseText(resp.Candidates[0].Content.Parts)}, nil
}

// responseText joins the text parts of a reply and strips code fences the
// model sometimes adds despite the prompt.
func responseText(parts []genai.Part) string {
	var sb strings.Builder
	for _, part := range parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return recognition.StripFences(sb.String())
}

// Close closes the Gemini client
func (g *Engine) Close() error {
	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	g.model = nil
	return err
}
