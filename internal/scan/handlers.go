package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/zombor/docscan/internal/acquire"
	"github.com/zombor/docscan/internal/bitmap"
	"github.com/zombor/docscan/internal/recognition"
)

// maxUploadSize covers high-resolution phone photos and scanned PDFs (50MB)
const maxUploadSize = int64(50 << 20)

// maxTextSize caps the body of an extraction request
const maxTextSize = int64(1 << 20)

// errBadRequest marks client mistakes that are not image decode failures
var errBadRequest = errors.New("bad request")

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, acquire.ErrDecode), errors.Is(err, bitmap.ErrInvalidCrop), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "Scan not found"
	case errors.Is(err, acquire.ErrCameraUnavailable):
		return http.StatusServiceUnavailable, "Camera is unavailable. Please upload a photo of the document instead."
	case errors.Is(err, recognition.ErrEngineUnavailable), errors.Is(err, recognition.ErrClosed):
		return http.StatusServiceUnavailable, "OCR engine unavailable"
	case errors.Is(err, recognition.ErrRecognitionFailed):
		return http.StatusUnprocessableEntity, "Text could not be recognized. Try again, or crop the image closer to the document."
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Processing timed out"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	writeJSONError(w, message, status)
}

// parseTransform reads the optional rotate and crop form values
func parseTransform(r *http.Request) (bitmap.Transform, error) {
	var t bitmap.Transform
	if v := strings.TrimSpace(r.FormValue("rotate")); v != "" {
		deg, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return t, fmt.Errorf("%w: invalid rotate %q", errBadRequest, v)
		}
		t.Rotate = deg
	}
	crop, err := bitmap.ParseCrop(r.FormValue("crop"))
	if err != nil {
		return t, err
	}
	t.Crop = crop
	return t, nil
}

// readUpload parses a multipart upload with a "file" field
func readUpload(r *http.Request) (Upload, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		if strings.Contains(err.Error(), "request body too large") {
			return Upload{}, fmt.Errorf("%w: file is too large, maximum size is 50MB", errBadRequest)
		}
		return Upload{}, fmt.Errorf("%w: error parsing form", errBadRequest)
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return Upload{}, fmt.Errorf("%w: no file was selected, please choose a file to upload", errBadRequest)
		}
		return Upload{}, fmt.Errorf("%w: no file provided", errBadRequest)
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		return Upload{}, fmt.Errorf("%w: file is too large, maximum size is 50MB", errBadRequest)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return Upload{}, fmt.Errorf("reading file data: %w", err)
	}

	t, err := parseTransform(r)
	if err != nil {
		return Upload{}, err
	}

	return Upload{
		Filename:    header.Filename,
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
		Transform:   t,
	}, nil
}

// handleUploadScan processes an uploaded document
func (s *Server) handleUploadScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+(1<<20))
	up, err := readUpload(r)
	if err != nil {
		writeError(w, err)
		return
	}

	scan, err := s.service.Process(r.Context(), up)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, scan)
}

// handleCapture takes a picture with the configured camera and processes it
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	t, err := parseTransform(r)
	if err != nil {
		writeError(w, err)
		return
	}

	scan, err := s.service.Capture(r.Context(), t)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, scan)
}

// handlePreprocess returns the preprocessed page as PNG
func (s *Server) handlePreprocess(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+(1<<20))
	up, err := readUpload(r)
	if err != nil {
		writeError(w, err)
		return
	}

	png, err := s.service.Preview(r.Context(), up)
	if err != nil {
		slog.Error("Error preprocessing image", "filename", up.Filename, "error", err)
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// handleExtract extracts fields from text recognized elsewhere
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTextSize)).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.service.ExtractText(req.Text))
}

// handleEngineStatus reports whether the recognition engine is ready
func (s *Server) handleEngineStatus(w http.ResponseWriter, r *http.Request) {
	status := struct {
		recognition.Status
		Camera bool `json:"camera"`
	}{s.service.EngineStatus(), s.service.HasCamera()}
	writeJSON(w, http.StatusOK, status)
}

// handleListScans returns all scans, newest first
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	scans, err := s.service.ListScans()
	if err != nil {
		slog.Error("Error listing scans", "error", err)
		writeError(w, err)
		return
	}
	// Ensure we always return an array, not nil
	if scans == nil {
		scans = []*Scan{}
	}
	writeJSON(w, http.StatusOK, scans)
}

// handleGetScan returns a single scan
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	scan, err := s.service.GetScan(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scan)
}

// handleGetScanFile returns the original file of a scan
func (s *Server) handleGetScanFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetScanFile(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteScan deletes a scan and its file
func (s *Server) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteScan(r.PathValue("id")); err != nil {
		slog.Error("Error deleting scan", "id", r.PathValue("id"), "error", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
