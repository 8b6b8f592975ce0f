package validation

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholarpass/internal/imaging"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestImageValidator_Validate(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name       string
		limits     Limits
		data       func(t *testing.T) []byte
		wantErr    error
		wantFormat string
	}{
		{
			name:       "png accepted",
			limits:     DefaultLimits(),
			data:       func(t *testing.T) []byte { return encodePNG(t, 120, 80) },
			wantFormat: "png",
		},
		{
			name:       "jpeg accepted",
			limits:     DefaultLimits(),
			data:       func(t *testing.T) []byte { return encodeJPEG(t, 64, 64) },
			wantFormat: "jpeg",
		},
		{
			name:    "empty",
			limits:  DefaultLimits(),
			data:    func(*testing.T) []byte { return nil },
			wantErr: ErrEmptyImage,
		},
		{
			name:    "plain text",
			limits:  DefaultLimits(),
			data:    func(*testing.T) []byte { return []byte("definitely not a photo") },
			wantErr: ErrUnsupportedFormat,
		},
		{
			name:    "pdf",
			limits:  DefaultLimits(),
			data:    func(*testing.T) []byte { return []byte("%PDF-1.7\n%âãÏÓ\n") },
			wantErr: ErrUnsupportedFormat,
		},
		{
			name:   "truncated png header",
			limits: DefaultLimits(),
			data: func(t *testing.T) []byte {
				return encodePNG(t, 64, 64)[:12]
			},
			wantErr: ErrUnsupportedFormat,
		},
		{
			name:    "too small",
			limits:  DefaultLimits(),
			data:    func(t *testing.T) []byte { return encodePNG(t, 8, 200) },
			wantErr: ErrImageDimensions,
		},
		{
			name:    "too many pixels",
			limits:  Limits{MaxPixels: 1000},
			data:    func(t *testing.T) []byte { return encodePNG(t, 50, 50) },
			wantErr: ErrImageDimensions,
		},
		{
			name:       "limits disabled",
			limits:     Limits{},
			data:       func(t *testing.T) []byte { return encodePNG(t, 2, 2) },
			wantFormat: "png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewImageValidatorWithLimits(tt.limits, logger)
			data := tt.data(t)

			info, err := v.Validate(data)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, info)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFormat, info.Format)
			assert.Equal(t, len(data), info.Bytes)
		})
	}
}

func TestUnsupportedFormatMatchesImagingSentinel(t *testing.T) {
	_, err := NewImageValidator(nil).Validate([]byte("GIF89a not really"))
	assert.ErrorIs(t, err, imaging.ErrUnsupportedImage)
}
