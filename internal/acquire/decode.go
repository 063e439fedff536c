package acquire

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"math"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"

	"github.com/zombor/docscan/internal/bitmap"
)

// ErrDecode is returned when uploaded bytes cannot be turned into a bitmap.
// It is recoverable: the caller should ask for another image.
var ErrDecode = errors.New("image could not be decoded")

// pdfRenderDPI is the resolution the first page of a PDF is rasterized at.
const pdfRenderDPI = 300

// MaxPixels bounds the decoded size of an upload. It is checked against the
// image header before any pixel data is decoded.
const MaxPixels = 50_000_000

func checkPixels(width, height int) error {
	if int64(width)*int64(height) > MaxPixels {
		return fmt.Errorf("%w: image is %dx%d, over the %d pixel limit", ErrDecode, width, height, MaxPixels)
	}
	return nil
}

// Decode turns an uploaded file into a single bitmap. PDFs contribute their
// first page.
func Decode(data []byte, contentType string) (*bitmap.Bitmap, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no data", ErrDecode)
	}

	var (
		img image.Image
		err error
	)
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case mimeType == "application/pdf" || isPDFFormat(data):
		img, err = pdfToImage(data)
	case isHEICFormat(data) || isHEICMimeType(mimeType):
		// Go's standard image package doesn't support HEIC
		cfg, cfgErr := heic.DecodeConfig(bytes.NewReader(data))
		if cfgErr == nil {
			if err := checkPixels(cfg.Width, cfg.Height); err != nil {
				return nil, err
			}
		}
		img, err = heic.Decode(bytes.NewReader(data))
		if err != nil {
			err = fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	default:
		// a broken header is reported by the full decode below
		if cfg, _, cfgErr := image.DecodeConfig(bytes.NewReader(data)); cfgErr == nil {
			if err := checkPixels(cfg.Width, cfg.Height); err != nil {
				return nil, err
			}
		}
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			if errors.Is(err, image.ErrFormat) {
				err = fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF: %w", err)
			} else {
				err = fmt.Errorf("decoding image: %w", err)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: image has no pixels", ErrDecode)
	}

	return bitmap.FromImage(img), nil
}

// pdfToImage renders the first page of a PDF
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	img, err := doc.ImageDPI(0, renderDPI(doc))
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// renderDPI lowers the render resolution of oversized pages so the raster
// stays within MaxPixels. Page bounds are in points.
func renderDPI(doc *fitz.Document) float64 {
	bound, err := doc.Bound(0)
	if err != nil {
		return pdfRenderDPI
	}
	return pageDPI(bound.Dx(), bound.Dy())
}

func pageDPI(widthPt, heightPt int) float64 {
	scale := float64(pdfRenderDPI) / 72
	pixels := float64(widthPt) * scale * float64(heightPt) * scale
	if pixels <= MaxPixels {
		return pdfRenderDPI
	}
	return pdfRenderDPI * math.Sqrt(MaxPixels/pixels)
}

// DetectContentType picks the MIME type used to decode an upload. A declared
// type wins unless it is missing or generic; then the file extension and
// finally the leading bytes decide.
func DetectContentType(data []byte, filename, declared string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}

	if isHEICFormat(data) {
		return "image/heic"
	}
	return http.DetectContentType(data)
}

func isPDFFormat(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// isHEICFormat checks for an ftyp box with a HEIC-related brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
