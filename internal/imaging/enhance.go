package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedImage is returned when the upload cannot be decoded.
var ErrUnsupportedImage = errors.New("unsupported image")

// Options control the enhancement pipeline.
type Options struct {
	MaxSide  int
	Contrast float64
	Quality  int
}

// DefaultOptions match what the OCR model reads best: at most 1500 px on
// the longest side, contrast 1.5, JPEG quality 85.
func DefaultOptions() Options {
	return Options{MaxSide: 1500, Contrast: 1.5, Quality: 85}
}

// Enhance prepares a photo for OCR with DefaultOptions.
func Enhance(r io.Reader) ([]byte, error) {
	return EnhanceWith(r, DefaultOptions())
}

// EnhanceWith decodes a JPEG, PNG or WebP image, applies the EXIF
// orientation, downscales it, raises contrast and re-encodes it as JPEG.
func EnhanceWith(r io.Reader, opts Options) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedImage, err)
	}

	if format == "jpeg" {
		img = applyOrientation(img, readOrientation(data))
	}
	img = fit(img, opts.MaxSide)
	if opts.Contrast > 0 && opts.Contrast != 1 {
		img = adjustContrast(img, opts.Contrast)
	}

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fit scales img down so neither side exceeds maxSide, keeping the aspect
// ratio. Smaller images are returned unchanged.
func fit(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return img
	}

	scale := math.Min(float64(maxSide)/float64(w), float64(maxSide)/float64(h))
	tw := max(1, int(math.Round(float64(w)*scale)))
	th := max(1, int(math.Round(float64(h)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// adjustContrast blends every pixel away from the mean luminance by factor.
func adjustContrast(img image.Image, factor float64) image.Image {
	b := img.Bounds()
	src := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(src, src.Bounds(), img, b.Min, draw.Src)

	var sum float64
	pix := src.Pix
	n := len(pix) / 4
	if n == 0 {
		return src
	}
	for i := 0; i < len(pix); i += 4 {
		sum += luminance(pix[i], pix[i+1], pix[i+2])
	}
	mean := math.Round(sum / float64(n))

	for i := 0; i < len(pix); i += 4 {
		pix[i] = clamp(mean + factor*(float64(pix[i])-mean))
		pix[i+1] = clamp(mean + factor*(float64(pix[i+1])-mean))
		pix[i+2] = clamp(mean + factor*(float64(pix[i+2])-mean))
	}
	return src
}

func luminance(r, g, b uint8) float64 {
	return float64(uint32(r)*299+uint32(g)*587+uint32(b)*114) / 1000
}

func clamp(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(math.Round(v))
	}
}
