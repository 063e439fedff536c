package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ErrCameraUnavailable is returned when no frame could be captured. Callers
// should fall back to a file upload.
var ErrCameraUnavailable = errors.New("camera unavailable")

// maxFrameSize caps a single captured frame (50MB, same as uploads)
const maxFrameSize = 50 << 20

// Frame is one captured image, still encoded.
type Frame struct {
	Data        []byte
	ContentType string
}

// Camera hands out media streams.
type Camera interface {
	// Open acquires the device and starts a stream
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open media stream. It holds the device until Stop is called.
type Stream interface {
	// Frame reads the next frame
	Frame(ctx context.Context) (Frame, error)
	// Stop releases the device. It must be safe to call more than once.
	Stop() error
}

// Capture opens cam, reads one frame and stops the stream. The stream is
// stopped on every exit path, including errors and panics.
func Capture(ctx context.Context, cam Camera) (Frame, error) {
	if cam == nil {
		return Frame{}, fmt.Errorf("%w: no camera configured", ErrCameraUnavailable)
	}

	stream, err := cam.Open(ctx)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: opening stream: %w", ErrCameraUnavailable, err)
	}
	defer func() {
		if err := stream.Stop(); err != nil {
			slog.Warn("Failed to stop camera stream", "error", err)
		}
	}()

	frame, err := stream.Frame(ctx)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: reading frame: %w", ErrCameraUnavailable, err)
	}
	if len(frame.Data) == 0 {
		return Frame{}, fmt.Errorf("%w: empty frame", ErrCameraUnavailable)
	}
	return frame, nil
}

// HTTPCamera captures from a network camera's snapshot endpoint. Each Open
// issues one GET and the response body is the stream.
type HTTPCamera struct {
	url    string
	client *http.Client
}

// NewHTTPCamera creates a camera reading snapshots from url
func NewHTTPCamera(url string) *HTTPCamera {
	return &HTTPCamera{
		url: url,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Open starts a snapshot request
func (c *HTTPCamera) Open(ctx context.Context) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling camera: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("camera returned status %d", resp.StatusCode)
	}

	return &httpStream{resp: resp}, nil
}

type httpStream struct {
	resp *http.Response
	once sync.Once
	err  error
}

func (s *httpStream) Frame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	data, err := io.ReadAll(io.LimitReader(s.resp.Body, maxFrameSize+1))
	if err != nil {
		return Frame{}, fmt.Errorf("reading snapshot: %w", err)
	}
	if len(data) > maxFrameSize {
		return Frame{}, fmt.Errorf("snapshot exceeds %d bytes", maxFrameSize)
	}
	return Frame{
		Data:        data,
		ContentType: DetectContentType(data, "", s.resp.Header.Get("Content-Type")),
	}, nil
}

func (s *httpStream) Stop() error {
	s.once.Do(func() {
		s.err = s.resp.Body.Close()
	})
	return s.err
}
