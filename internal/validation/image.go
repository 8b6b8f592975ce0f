// Package validation checks uploaded photos before they reach the
// enhancement pipeline.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"

	_ "golang.org/x/image/webp"

	"scholarpass/internal/imaging"
)

var (
	// ErrEmptyImage is returned for a zero-length upload.
	ErrEmptyImage = errors.New("image is empty")

	// ErrUnsupportedFormat wraps imaging.ErrUnsupportedImage so callers
	// that only know the imaging sentinel still match it.
	ErrUnsupportedFormat = fmt.Errorf("%w: format not accepted", imaging.ErrUnsupportedImage)

	// ErrImageDimensions is returned when the decoded header reports a size
	// outside Limits.
	ErrImageDimensions = errors.New("image dimensions out of range")
)

// acceptedTypes maps sniffed MIME types to image.DecodeConfig format names.
var acceptedTypes = map[string]string{
	"image/jpeg": "jpeg",
	"image/png":  "png",
	"image/webp": "webp",
}

// Limits bound the images ImageValidator accepts.
type Limits struct {
	MinSide   int
	MaxPixels int
}

// DefaultLimits reject thumbnails and anything above 60 megapixels.
func DefaultLimits() Limits {
	return Limits{MinSide: 32, MaxPixels: 60_000_000}
}

// ImageInfo describes an accepted upload.
type ImageInfo struct {
	ContentType string
	Format      string
	Width       int
	Height      int
	Bytes       int
}

// ImageValidator rejects uploads that are empty, not JPEG/PNG/WebP, or
// sized so that decoding them would be pointless or dangerous. Only the
// image header is parsed.
type ImageValidator struct {
	limits Limits
	logger *slog.Logger
}

// NewImageValidator creates a validator with DefaultLimits.
func NewImageValidator(logger *slog.Logger) *ImageValidator {
	return NewImageValidatorWithLimits(DefaultLimits(), logger)
}

// NewImageValidatorWithLimits creates a validator with custom limits. Zero
// fields disable the matching check.
func NewImageValidatorWithLimits(limits Limits, logger *slog.Logger) *ImageValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageValidator{limits: limits, logger: logger}
}

// Validate inspects data and reports what it is.
func (v *ImageValidator) Validate(data []byte) (*ImageInfo, error) {
	if len(data) == 0 {
		v.logger.Warn("Rejected empty image upload")
		return nil, ErrEmptyImage
	}

	contentType := http.DetectContentType(data)
	format, ok := acceptedTypes[contentType]
	if !ok {
		v.logger.Warn("Rejected image upload",
			slog.String("content_type", contentType),
			slog.Int("bytes", len(data)))
		return nil, fmt.Errorf("%w (%s)", ErrUnsupportedFormat, contentType)
	}

	cfg, decoded, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		v.logger.Warn("Failed to read image header",
			slog.String("content_type", contentType),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}
	if decoded != format {
		return nil, fmt.Errorf("%w: content looks like %s but decodes as %s", ErrUnsupportedFormat, format, decoded)
	}

	if err := v.checkDimensions(cfg.Width, cfg.Height); err != nil {
		v.logger.Warn("Rejected image dimensions",
			slog.Int("width", cfg.Width),
			slog.Int("height", cfg.Height))
		return nil, err
	}

	info := &ImageInfo{
		ContentType: contentType,
		Format:      format,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Bytes:       len(data),
	}
	v.logger.Debug("Image validated",
		slog.String("format", format),
		slog.Int("width", cfg.Width),
		slog.Int("height", cfg.Height),
		slog.Int("bytes", len(data)))
	return info, nil
}

func (v *ImageValidator) checkDimensions(w, h int) error {
	if v.limits.MinSide > 0 && (w < v.limits.MinSide || h < v.limits.MinSide) {
		return fmt.Errorf("%w: %dx%d is smaller than %d px per side", ErrImageDimensions, w, h, v.limits.MinSide)
	}
	if v.limits.MaxPixels > 0 && w*h > v.limits.MaxPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageDimensions, w, h, v.limits.MaxPixels)
	}
	return nil
}
