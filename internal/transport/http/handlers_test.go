package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apierrors "scholarpass/internal/errors"
	"scholarpass/internal/inference"
	"scholarpass/internal/license"
	"scholarpass/internal/middleware"
	"scholarpass/internal/services"
	"scholarpass/internal/session"
	api "scholarpass/pkg/contracts/api/v1"
	"scholarpass/pkg/contracts/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// MockLicenseService is a mock implementation of services.LicenseService
type MockLicenseService struct {
	mock.Mock
}

func (m *MockLicenseService) Activate(ctx context.Context, sess *session.Session, jar session.Jar, clientKey, key string) (*api.LicenseActivateResponse, error) {
	args := m.Called(ctx, sess, jar, clientKey, key)
	if resp := args.Get(0); resp != nil {
		return resp.(*api.LicenseActivateResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLicenseService) Status(ctx context.Context, sess *session.Session, jar session.Jar) *api.LicenseStatusResponse {
	args := m.Called(ctx, sess, jar)
	return args.Get(0).(*api.LicenseStatusResponse)
}

func (m *MockLicenseService) Logout(ctx context.Context, sess *session.Session, jar session.Jar) *api.LogoutResponse {
	args := m.Called(ctx, sess, jar)
	return args.Get(0).(*api.LogoutResponse)
}

// MockAnalyzer is a mock implementation of Analyzer
type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) Analyze(ctx context.Context, in services.AnalysisInput, progress services.ProgressFunc) (*api.AnalysisResponse, error) {
	args := m.Called(ctx, in, progress)
	if progress != nil {
		progress(events.Progress{Step: events.StepRecognize, Percent: 30})
	}
	if resp := args.Get(0); resp != nil {
		return resp.(*api.AnalysisResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAnalyzer) Subjects() *api.SubjectsResponse {
	args := m.Called()
	return args.Get(0).(*api.SubjectsResponse)
}

func decodeProblem(t *testing.T, body io.Reader) map[string]interface{} {
	t.Helper()
	var problem map[string]interface{}
	require.NoError(t, json.NewDecoder(body).Decode(&problem))
	return problem
}

func newLicenseRouter(svc services.LicenseService) http.Handler {
	eh := apierrors.NewErrorHandler(testLogger(), false)
	h := NewLicenseHandler(svc, middleware.NewValidator(1<<10), eh, false, testLogger())
	r := chi.NewRouter()
	r.Mount("/api/license", h.Routes())
	return r
}

func TestLicenseHandler_Activate(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setupMock  func(m *MockLicenseService)
		wantStatus int
		wantCode   string
	}{
		{
			name: "activated",
			body: `{"license_key":"SCHO-1234-ABCD-EFGH"}`,
			setupMock: func(m *MockLicenseService) {
				m.On("Activate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, "SCHO-1234-ABCD-EFGH").
					Return(&api.LicenseActivateResponse{Outcome: "activated", Persisted: true}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "not found",
			body: `{"license_key":"SCHO-0000-0000-0000"}`,
			setupMock: func(m *MockLicenseService) {
				m.On("Activate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(nil, license.ErrLicenseNotFound)
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "LICENSE_NOT_FOUND",
		},
		{
			name: "rate limited",
			body: `{"license_key":"SCHO-0000-0000-0000"}`,
			setupMock: func(m *MockLicenseService) {
				m.On("Activate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(nil, fmt.Errorf("client blocked: %w", license.ErrTooManyAttempts))
			},
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "unknown field",
			body:       `{"key":"x"}`,
			setupMock:  func(m *MockLicenseService) {},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "empty body",
			body:       ``,
			setupMock:  func(m *MockLicenseService) {},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockLicenseService)
			tt.setupMock(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/license/activate", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			newLicenseRouter(svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeProblem(t, rec.Body)["error_code"])
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestLicenseHandler_ActivateRequiresJSON(t *testing.T) {
	svc := new(MockLicenseService)
	req := httptest.NewRequest(http.MethodPost, "/api/license/activate", strings.NewReader("license_key=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	newLicenseRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	svc.AssertNotCalled(t, "Activate")
}

func TestLicenseHandler_UsesContextSession(t *testing.T) {
	sess := session.New()
	svc := new(MockLicenseService)
	svc.On("Status", mock.Anything, sess, mock.Anything).
		Return(&api.LicenseStatusResponse{State: "logged_out", DeviceID: sess.CurrentDeviceID()})
	svc.On("Logout", mock.Anything, sess, mock.Anything).
		Return(&api.LogoutResponse{State: "logged_out"})

	router := newLicenseRouter(svc)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/license/status"},
		{http.MethodPost, "/api/license/logout"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		req = req.WithContext(middleware.WithSession(req.Context(), sess))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, tc.path)
	}

	var status api.LicenseStatusResponse
	req := httptest.NewRequest(http.MethodGet, "/api/license/status", nil)
	req = req.WithContext(middleware.WithSession(req.Context(), sess))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, sess.CurrentDeviceID(), status.DeviceID)
	svc.AssertExpectations(t)
}

func multipartBody(t *testing.T, fields map[string]string, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "photo.jpg")
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func newAnalysisHandler(a Analyzer, maxUpload int64) *AnalysisHandler {
	eh := apierrors.NewErrorHandler(testLogger(), false)
	return NewAnalysisHandler(a, middleware.NewValidator(1<<10), eh, maxUpload, testLogger())
}

func TestAnalysisHandler_Analyze(t *testing.T) {
	tests := []struct {
		name       string
		fields     map[string]string
		image      []byte
		maxUpload  int64
		setupMock  func(m *MockAnalyzer)
		wantStatus int
		wantCode   string
	}{
		{
			name:   "success",
			fields: map[string]string{"subject": "高等数学", "task": "推导证明"},
			image:  []byte("jpeg-bytes"),
			setupMock: func(m *MockAnalyzer) {
				m.On("Analyze", mock.Anything, mock.MatchedBy(func(in services.AnalysisInput) bool {
					data, _ := io.ReadAll(in.Image)
					return in.Subject == "高等数学" && in.Task == "推导证明" && string(data) == "jpeg-bytes"
				}), mock.Anything).Return(&api.AnalysisResponse{Subject: "高等数学", Strategy: "derivation"}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing image",
			fields:     map[string]string{"subject": "高等数学"},
			setupMock:  func(m *MockAnalyzer) {},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:       "missing subject",
			image:      []byte("jpeg-bytes"),
			setupMock:  func(m *MockAnalyzer) {},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:       "too large",
			fields:     map[string]string{"subject": "高等数学"},
			image:      bytes.Repeat([]byte("x"), 4096),
			maxUpload:  512,
			setupMock:  func(m *MockAnalyzer) {},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   "PAYLOAD_TOO_LARGE",
		},
		{
			name:   "unreadable photo",
			fields: map[string]string{"subject": "高等数学"},
			image:  []byte("blurry"),
			setupMock: func(m *MockAnalyzer) {
				m.On("Analyze", mock.Anything, mock.Anything, mock.Anything).
					Return(nil, fmt.Errorf("recognize: %w", inference.ErrUnreadableImage))
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "IMAGE_UNREADABLE",
		},
		{
			name:   "unknown subject",
			fields: map[string]string{"subject": "炼金术"},
			image:  []byte("jpeg-bytes"),
			setupMock: func(m *MockAnalyzer) {
				m.On("Analyze", mock.Anything, mock.Anything, mock.Anything).
					Return(nil, fmt.Errorf("resolve task: %w", inference.ErrUnknownSubject))
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "UNKNOWN_SUBJECT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer := new(MockAnalyzer)
			tt.setupMock(analyzer)

			body, contentType := multipartBody(t, tt.fields, tt.image)
			req := httptest.NewRequest(http.MethodPost, "/api/analysis", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			newAnalysisHandler(analyzer, tt.maxUpload).Analyze(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeProblem(t, rec.Body)["error_code"])
			}
			analyzer.AssertExpectations(t)
		})
	}
}

func TestAnalysisHandler_Subjects(t *testing.T) {
	analyzer := new(MockAnalyzer)
	analyzer.On("Subjects").Return(&api.SubjectsResponse{Subjects: []api.Subject{{Name: "高等数学", Tasks: []string{"推导证明"}}}})

	rec := httptest.NewRecorder()
	newAnalysisHandler(analyzer, 0).Subjects(rec, httptest.NewRequest(http.MethodGet, "/api/subjects", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.SubjectsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Subjects, 1)
	assert.Equal(t, "高等数学", resp.Subjects[0].Name)
}

type stubHealth struct {
	ready bool
}

func (s stubHealth) HealthCheck(context.Context) services.HealthStatus {
	return services.HealthStatus{Status: "ok", Timestamp: time.Now()}
}

func (s stubHealth) ReadinessCheck(context.Context) services.HealthStatus {
	if s.ready {
		return services.HealthStatus{Status: services.StatusReady}
	}
	return services.HealthStatus{Status: services.StatusNotReady}
}

func (s stubHealth) LivenessCheck(context.Context) services.HealthStatus {
	return services.HealthStatus{Status: "alive"}
}

func (s stubHealth) Version() map[string]interface{} {
	return map[string]interface{}{"version": "test"}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		path       string
		wantStatus int
	}{
		{"health", true, "/api/health/", http.StatusOK},
		{"live", false, "/api/health/live", http.StatusOK},
		{"ready", true, "/api/health/ready", http.StatusOK},
		{"not ready", false, "/api/health/ready", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Mount("/api/health", NewHealthHandler(stubHealth{ready: tt.ready}, testLogger()).Routes())

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestDecodeImage(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"raw", "aGVsbG8=", "hello", false},
		{"data url", "data:image/png;base64,aGVsbG8=", "hello", false},
		{"unpadded", "aGVsbG8", "hello", false},
		{"garbage", "!!!", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeImage(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}
