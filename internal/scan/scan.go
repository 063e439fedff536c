package scan

import (
	"errors"
	"time"

	"github.com/zombor/docscan/internal/extract"
)

// ErrNotFound is returned when a scan or its file does not exist
var ErrNotFound = errors.New("scan not found")

// Source says how the image was acquired
type Source string

const (
	SourceUpload Source = "upload"
	SourceCamera Source = "camera"
)

// Scan is one processed document with its recognized text and fields
type Scan struct {
	ID          string                `json:"id"`
	Filename    string                `json:"filename"`
	ContentType string                `json:"content_type"`
	Source      Source                `json:"source"`
	Engine      string                `json:"engine"`
	Confidence  float64               `json:"confidence"`
	Text        string                `json:"text"` // recognized text after glyph correction
	Fields      extract.ExtractedData `json:"fields"`
	Width       int                   `json:"width"` // size of the recognized bitmap
	Height      int                   `json:"height"`
	CreatedAt   time.Time             `json:"created_at"`
}
