package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"scholarpass/internal/config"
	apierrors "scholarpass/internal/errors"
	"scholarpass/internal/imaging"
	"scholarpass/internal/inference"
	"scholarpass/internal/validation"
	"scholarpass/pkg/contracts/events"
)

// MockRecognizer implements Recognizer for testing
type MockRecognizer struct {
	mock.Mock
}

func (m *MockRecognizer) Recognize(ctx context.Context, image []byte, subject string) (string, error) {
	args := m.Called(ctx, image, subject)
	return args.String(0), args.Error(1)
}

func (m *MockRecognizer) Configured() bool {
	return m.Called().Bool(0)
}

// MockExplainer implements Explainer for testing
type MockExplainer struct {
	mock.Mock
}

func (m *MockExplainer) Explain(ctx context.Context, text, subject, task string) (string, error) {
	args := m.Called(ctx, text, subject, task)
	return args.String(0), args.Error(1)
}

func (m *MockExplainer) Configured() bool {
	return m.Called().Bool(0)
}

func newAnalysisFixture() (*AnalysisService, *MockRecognizer, *MockExplainer) {
	ocr := &MockRecognizer{}
	reasoner := &MockExplainer{}
	svc := NewAnalysisService(ocr, reasoner, testLogger())
	svc.enhance = func(r io.Reader) ([]byte, error) {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		if !bytes.HasPrefix(data, []byte("img")) {
			return nil, imaging.ErrUnsupportedImage
		}
		return append([]byte("enhanced:"), data...), nil
	}
	return svc, ocr, reasoner
}

func TestAnalysisService_Analyze(t *testing.T) {
	svc, ocr, reasoner := newAnalysisFixture()

	ocr.On("Recognize", mock.Anything, []byte("enhanced:img-1"), "高等数学").
		Return("求 lim x→0 sin(x)/x", nil)
	reasoner.On("Explain", mock.Anything, "求 lim x→0 sin(x)/x", "高等数学", "导数与微分推导").
		Return("## 解析\n\n结果为 **1**", nil)

	var steps []events.Progress
	resp, err := svc.Analyze(context.Background(), AnalysisInput{
		Subject: "高等数学",
		Task:    "导数与微分推导",
		Image:   strings.NewReader("img-1"),
	}, func(p events.Progress) { steps = append(steps, p) })
	require.NoError(t, err)

	assert.Equal(t, "高等数学", resp.Subject)
	assert.Equal(t, "导数与微分推导", resp.Task)
	assert.Equal(t, "derivation", resp.Strategy)
	assert.Equal(t, "求 lim x→0 sin(x)/x", resp.Recognized)
	assert.Equal(t, "## 解析\n\n结果为 **1**", resp.Explanation)
	assert.Contains(t, resp.ExplanationHTML, "<h2>解析</h2>")
	assert.Contains(t, resp.ExplanationHTML, "<strong>1</strong>")

	percents := make([]int, 0, len(steps))
	for _, s := range steps {
		percents = append(percents, s.Percent)
	}
	assert.Equal(t, []int{0, 30, 70, 100}, percents)
	assert.Equal(t, events.StepDone, steps[len(steps)-1].Step)

	ocr.AssertExpectations(t)
	reasoner.AssertExpectations(t)
}

func TestAnalysisService_DefaultTask(t *testing.T) {
	svc, ocr, reasoner := newAnalysisFixture()

	ocr.On("Recognize", mock.Anything, mock.Anything, "线性代数").Return("det(A)", nil)
	reasoner.On("Explain", mock.Anything, "det(A)", "线性代数", "矩阵运算与求逆").Return("ok", nil)

	resp, err := svc.Analyze(context.Background(), AnalysisInput{
		Subject: "线性代数",
		Image:   strings.NewReader("img"),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "矩阵运算与求逆", resp.Task)
	assert.Equal(t, "analysis", resp.Strategy)
}

func TestAnalysisService_Failures(t *testing.T) {
	tests := []struct {
		name      string
		subject   string
		image     string
		ocrText   string
		ocrErr    error
		reasonErr error
		wantErr   error
		wantSteps int
	}{
		{name: "unknown subject", subject: "天文学", image: "img", wantErr: inference.ErrUnknownSubject},
		{name: "bad image", subject: "高等数学", image: "gif", wantErr: imaging.ErrUnsupportedImage, wantSteps: 1},
		{name: "ocr down", subject: "高等数学", image: "img", ocrErr: fmt.Errorf("ocr: %w", inference.ErrInferenceUnavailable), wantErr: inference.ErrInferenceUnavailable, wantSteps: 2},
		{name: "ocr not configured", subject: "高等数学", image: "img", ocrErr: inference.ErrNotConfigured, wantErr: inference.ErrNotConfigured, wantSteps: 2},
		{name: "blank ocr", subject: "高等数学", image: "img", ocrText: "  \n", wantErr: inference.ErrUnreadableImage, wantSteps: 2},
		{name: "reasoning down", subject: "高等数学", image: "img", ocrText: "x", reasonErr: inference.ErrInferenceUnavailable, wantErr: inference.ErrInferenceUnavailable, wantSteps: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, ocr, reasoner := newAnalysisFixture()
			ocr.On("Recognize", mock.Anything, mock.Anything, mock.Anything).Return(tt.ocrText, tt.ocrErr)
			reasoner.On("Explain", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", tt.reasonErr)

			steps := 0
			_, err := svc.Analyze(context.Background(), AnalysisInput{
				Subject: tt.subject,
				Image:   strings.NewReader(tt.image),
			}, func(events.Progress) { steps++ })

			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Equal(t, tt.wantSteps, steps)
			if tt.wantSteps < 3 {
				reasoner.AssertNotCalled(t, "Explain", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestAnalysisService_OCRProviderOutage(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reply  string
	}{
		{"provider 503", http.StatusServiceUnavailable, `{"error":"overloaded"}`},
		{"provider 500", http.StatusInternalServerError, `oops`},
		{"empty completion", http.StatusOK, `{"choices":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.reply))
			}))
			defer server.Close()

			cfg := config.Default().Inference
			cfg.OCRBaseURL = server.URL
			cfg.OCRAPIKey = "zhipu-key"
			cfg.Timeout = 5 * time.Second

			reasoner := &MockExplainer{}
			svc := NewAnalysisService(inference.NewOCR(cfg, server.Client()), reasoner, testLogger())
			svc.enhance = func(r io.Reader) ([]byte, error) { return io.ReadAll(r) }

			_, err := svc.Analyze(context.Background(), AnalysisInput{
				Subject: "高等数学",
				Image:   strings.NewReader("img"),
			}, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, inference.ErrInferenceUnavailable)
			assert.NotErrorIs(t, err, inference.ErrUnreadableImage)
			reasoner.AssertNotCalled(t, "Explain", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

			problem := apierrors.NewErrorHandler(testLogger(), false).
				ErrorToProblem(err, httptest.NewRequest(http.MethodPost, "/api/analysis", nil))
			assert.Equal(t, http.StatusBadGateway, problem.Status)
			assert.Equal(t, "INFERENCE_UNAVAILABLE", problem.Extensions["error_code"])
		})
	}
}

func TestAnalysisService_RawHTMLEscaped(t *testing.T) {
	svc, ocr, reasoner := newAnalysisFixture()
	ocr.On("Recognize", mock.Anything, mock.Anything, mock.Anything).Return("x", nil)
	reasoner.On("Explain", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("<script>alert(1)</script>\n\ntext", nil)

	resp, err := svc.Analyze(context.Background(), AnalysisInput{Subject: "大学物理", Image: strings.NewReader("img")}, nil)
	require.NoError(t, err)
	assert.NotContains(t, resp.ExplanationHTML, "<script>")
	assert.Contains(t, resp.ExplanationHTML, "<p>text</p>")
}

func TestAnalysisService_SubjectsAndConfigured(t *testing.T) {
	svc, ocr, reasoner := newAnalysisFixture()

	subjects := svc.Subjects().Subjects
	require.Len(t, subjects, len(inference.Catalog()))
	assert.Equal(t, "高等数学", subjects[0].Name)

	ocr.On("Configured").Return(true)
	reasoner.On("Configured").Return(false)
	assert.False(t, svc.Configured())
}

func TestAnalysisService_ValidatesUploadBeforeEnhancing(t *testing.T) {
	tests := []struct {
		name    string
		image   func(t *testing.T) []byte
		wantErr error
	}{
		{name: "empty", image: func(*testing.T) []byte { return nil }, wantErr: validation.ErrEmptyImage},
		{name: "not an image", image: func(*testing.T) []byte { return []byte("hello") }, wantErr: imaging.ErrUnsupportedImage},
		{
			name: "thumbnail",
			image: func(t *testing.T) []byte {
				var buf bytes.Buffer
				require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
				return buf.Bytes()
			},
			wantErr: validation.ErrImageDimensions,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ocr := &MockRecognizer{}
			svc := NewAnalysisService(ocr, &MockExplainer{}, testLogger())

			_, err := svc.Analyze(context.Background(), AnalysisInput{
				Subject: "高等数学",
				Image:   bytes.NewReader(tt.image(t)),
			}, nil)
			assert.ErrorIs(t, err, tt.wantErr)
			ocr.AssertNotCalled(t, "Recognize", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestAnalysisService_RealPipeline(t *testing.T) {
	ocr := &MockRecognizer{}
	reasoner := &MockExplainer{}
	svc := NewAnalysisService(ocr, reasoner, testLogger())

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 200, 100))))

	ocr.On("Recognize", mock.Anything, mock.MatchedBy(func(b []byte) bool {
		return bytes.HasPrefix(b, []byte{0xFF, 0xD8})
	}), "高等数学").Return("∫x dx", nil)
	reasoner.On("Explain", mock.Anything, "∫x dx", "高等数学", mock.Anything).Return("x²/2 + C", nil)

	resp, err := svc.Analyze(context.Background(), AnalysisInput{Subject: "高等数学", Image: &buf}, nil)
	require.NoError(t, err)
	assert.Equal(t, "x²/2 + C", resp.Explanation)
	ocr.AssertExpectations(t)
}
