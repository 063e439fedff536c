package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/docscan/internal/bitmap"
	"github.com/zombor/docscan/internal/recognition"
)

const (
	DefaultURL   = "http://localhost:11434"
	DefaultModel = "llava"
)

// Engine implements recognition.Engine using a vision model served by Ollama.
// Models that read Arabic reasonably well include qwen2.5vl and llava:13b.
type Engine struct {
	baseURL string
	model   string
	client  *http.Client
	prompt  string
	ready   bool
}

var _ recognition.Engine = (*Engine)(nil)

// New creates an uninitialized Ollama engine
func New(baseURL, modelName string) *Engine {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	return &Engine{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   modelName,
		client: &http.Client{
			Timeout: 120 * time.Second, // vision models are slow on CPU
		},
	}
}

func (o *Engine) Name() string { return "ollama" }

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

// Initialize checks that the server is reachable and has the model pulled.
func (o *Engine) Initialize(ctx context.Context, script string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("decoding tags: %w", err)
	}
	if !hasModel(tags, o.model) {
		return fmt.Errorf("model %q is not pulled on %s", o.model, o.baseURL)
	}

	o.prompt = recognition.TranscriptionPrompt(script)
	o.ready = true
	return nil
}

// hasModel matches "llava" against "llava:latest" the way the ollama CLI does.
func hasModel(tags tagsResponse, model string) bool {
	want := model
	if !strings.Contains(want, ":") {
		want += ":latest"
	}
	for _, m := range tags.Models {
		if m.Name == model || m.Name == want || m.Model == model || m.Model == want {
			return true
		}
	}
	return false
}

// Recognize sends the page to /api/chat. Ollama reports no confidence.
func (o *Engine) Recognize(ctx context.Context, b *bitmap.Bitmap) (recognition.Result, error) {
	if !o.ready {
		return recognition.Result{}, fmt.Errorf("ollama engine not initialized")
	}

	data, err := b.EncodePNG()
	if err != nil {
		return recognition.Result{}, err
	}

	reqBody := chatRequest{
		Model:  o.model,
		Stream: false,
		Messages: []chatMessage{
			{
				Role:    "system",
				Content: "You are an OCR engine. You transcribe text from document images exactly as printed.",
			},
			{
				Role:    "user",
				Content: o.prompt,
				Images:  []string{base64.StdEncoding.EncodeToString(data)},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return recognition.Result{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return recognition.Result{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return recognition.Result{}, fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return recognition.Result{}, fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return recognition.Result{}, fmt.Errorf("decoding response: %w", err)
	}

	return recognition.Result{Text: recognition.StripFences(chatResp.Message.Content)}, nil
}

// Close is a no-op apart from marking the engine uninitialized
func (o *Engine) Close() error {
	o.ready = false
	return nil
}
