package scan

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/zombor/docscan/internal/acquire"
	"github.com/zombor/docscan/internal/bitmap"
	"github.com/zombor/docscan/internal/extract"
	"github.com/zombor/docscan/internal/recognition"
)

// IDGenerator generates unique IDs for scans
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Preprocessor turns a photographed page into a recognizer-ready bitmap
type Preprocessor interface {
	Process(ctx context.Context, b *bitmap.Bitmap) (*bitmap.Bitmap, error)
}

// Recognizer is the recognition session the service shares across scans
type Recognizer interface {
	Recognize(ctx context.Context, b *bitmap.Bitmap) (recognition.Result, error)
	Status() recognition.Status
}

// Upload is one image handed to the service together with the operator's
// crop and rotation.
type Upload struct {
	Filename    string
	Data        []byte
	ContentType string
	Transform   bitmap.Transform
}

// Deps holds the collaborators of a Service. Camera may be nil.
type Deps struct {
	DB           DB
	Storage      Storage
	Preprocessor Preprocessor
	Recognizer   Recognizer
	Camera       acquire.Camera
	IDGenerator  IDGenerator
	TimeSource   TimeSource
	Logger       *slog.Logger
}

// Service runs scans through the pipeline and keeps their history
type Service struct {
	db          DB
	storage     Storage
	pipeline    Preprocessor
	recognizer  Recognizer
	camera      acquire.Camera
	idGenerator IDGenerator
	timeSource  TimeSource
	logger      *slog.Logger
}

// NewService creates a Service, filling in default ID generation, clock and
// logger when deps leaves them empty.
func NewService(deps Deps) *Service {
	s := &Service{
		db:          deps.DB,
		storage:     deps.Storage,
		pipeline:    deps.Preprocessor,
		recognizer:  deps.Recognizer,
		camera:      deps.Camera,
		idGenerator: deps.IDGenerator,
		timeSource:  deps.TimeSource,
		logger:      deps.Logger,
	}
	if s.idGenerator == nil {
		s.idGenerator = &defaultIDGenerator{}
	}
	if s.timeSource == nil {
		s.timeSource = &defaultTimeSource{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

var (
	reFilenameSymbols = regexp.MustCompile(`[^\p{L}\p{N}\s\-_]`)
	reFilenameSpaces  = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up phone-generated names and truncates them
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "." {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = reFilenameSymbols.ReplaceAllString(base, "")
	base = strings.TrimSpace(reFilenameSpaces.ReplaceAllString(base, " "))

	if runes := []rune(base); len(runes) > 50 {
		base = strings.TrimSpace(string(runes[:50]))
	}
	if base == "" || base == "." {
		base = "scan"
	}
	return base + ext
}

// prepare decodes an upload and applies the operator's crop and rotation
func (s *Service) prepare(up Upload) (*bitmap.Bitmap, string, error) {
	contentType := acquire.DetectContentType(up.Data, up.Filename, up.ContentType)
	img, err := acquire.Decode(up.Data, contentType)
	if err != nil {
		return nil, contentType, err
	}
	img, err = up.Transform.Apply(img)
	if err != nil {
		return nil, contentType, err
	}
	return img, contentType, nil
}

// Process runs an upload through decode, crop/rotate, preprocessing,
// recognition and field extraction, then stores the original file and the
// result.
func (s *Service) Process(ctx context.Context, up Upload) (*Scan, error) {
	return s.process(ctx, up, SourceUpload)
}

func (s *Service) process(ctx context.Context, up Upload, source Source) (*Scan, error) {
	start := s.timeSource.Now()
	logFailure := func(stage string, err error) {
		s.logger.Error("Failed to process scan",
			"stage", stage,
			"filename", up.Filename,
			"content_type", up.ContentType,
			"file_size", len(up.Data),
			"error", err,
		)
	}

	img, contentType, err := s.prepare(up)
	if err != nil {
		logFailure("decode", err)
		return nil, fmt.Errorf("reading image: %w", err)
	}

	processed, err := s.pipeline.Process(ctx, img)
	if err != nil {
		logFailure("preprocess", err)
		return nil, fmt.Errorf("preprocessing: %w", err)
	}

	result, err := s.recognizer.Recognize(ctx, processed)
	if err != nil {
		logFailure("recognize", err)
		return nil, fmt.Errorf("recognizing text: %w", err)
	}

	id := s.idGenerator.Generate()
	scan := &Scan{
		ID:          id,
		ContentType: contentType,
		Source:      source,
		Engine:      s.recognizer.Status().Engine,
		Confidence:  result.Confidence,
		Text:        result.Text,
		Fields:      extract.Extract(result.Text),
		Width:       processed.Width(),
		Height:      processed.Height(),
		CreatedAt:   s.timeSource.Now(),
	}

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(up.Filename)), up.Data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}
	scan.Filename = savedPath

	if err := s.db.SaveScan(scan); err != nil {
		// Clean up file if database save fails
		if delErr := s.storage.Delete(savedPath); delErr != nil {
			s.logger.Warn("Failed to delete file", "filename", savedPath, "error", delErr)
		}
		return nil, fmt.Errorf("saving scan to database: %w", err)
	}

	s.logger.Info("Scan processed",
		"id", id,
		"source", string(source),
		"engine", scan.Engine,
		"confidence", scan.Confidence,
		"fields_found", !scan.Fields.Empty(),
		"duration_ms", s.timeSource.Now().Sub(start).Milliseconds(),
	)
	return scan, nil
}

// Capture grabs one frame from the camera and processes it. The camera
// stream is released before preprocessing starts.
func (s *Service) Capture(ctx context.Context, t bitmap.Transform) (*Scan, error) {
	frame, err := acquire.Capture(ctx, s.camera)
	if err != nil {
		s.logger.Error("Failed to capture frame", "error", err)
		return nil, err
	}
	return s.process(ctx, Upload{
		Filename:    "capture" + extensionFor(frame.ContentType),
		Data:        frame.Data,
		ContentType: frame.ContentType,
		Transform:   t,
	}, SourceCamera)
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".jpg"
	}
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}

// HasCamera reports whether Capture can be used
func (s *Service) HasCamera() bool {
	return s.camera != nil
}

// Preview returns the preprocessed bitmap of an upload as PNG, without
// recognizing or storing anything.
func (s *Service) Preview(ctx context.Context, up Upload) ([]byte, error) {
	img, _, err := s.prepare(up)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	processed, err := s.pipeline.Process(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("preprocessing: %w", err)
	}
	return processed.EncodePNG()
}

// ExtractText corrects and extracts fields from text that was recognized
// elsewhere.
func (s *Service) ExtractText(text string) extract.ExtractedData {
	return extract.Extract(recognition.Correct(text))
}

// EngineStatus reports the recognition engine's lifecycle state
func (s *Service) EngineStatus() recognition.Status {
	return s.recognizer.Status()
}

// GetScan retrieves a scan by ID
func (s *Service) GetScan(id string) (*Scan, error) {
	scan, err := s.db.GetScan(id)
	if err != nil {
		return nil, fmt.Errorf("getting scan: %w", err)
	}
	return scan, nil
}

// ListScans returns all scans, newest first
func (s *Service) ListScans() ([]*Scan, error) {
	scans, err := s.db.ListScans()
	if err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}
	return scans, nil
}

// DeleteScan removes a scan and its file
func (s *Service) DeleteScan(id string) error {
	scan, err := s.db.GetScan(id)
	if err != nil {
		return fmt.Errorf("getting scan for deletion: %w", err)
	}

	if err := s.storage.Delete(scan.Filename); err != nil {
		// Log error but continue with database deletion
		s.logger.Warn("Failed to delete file", "filename", scan.Filename, "error", err)
	}

	if err := s.db.DeleteScan(id); err != nil {
		return fmt.Errorf("deleting scan from database: %w", err)
	}
	return nil
}

// GetScanFile returns the original file of a scan and its content type
func (s *Service) GetScanFile(id string) ([]byte, string, error) {
	scan, err := s.db.GetScan(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting scan: %w", err)
	}

	data, err := s.storage.Get(scan.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting scan file: %w", err)
	}
	return data, scan.ContentType, nil
}
