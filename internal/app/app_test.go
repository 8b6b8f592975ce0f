package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholarpass/internal/config"
	"scholarpass/internal/license"
	"scholarpass/internal/session"
	"scholarpass/internal/shared/testutil"
	api "scholarpass/pkg/contracts/api/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testConfig(t *testing.T) (*config.Config, *config.Paths) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Security.RateLimit.Enabled = false
	cfg.Telemetry.EnableTracing = false
	cfg.Ledger.Backend = config.BackendFile
	cfg.Ledger.Timezone = "UTC"

	ledger := testutil.WriteLedgerFile(t, testutil.SampleLedger())
	return cfg, &config.Paths{BaseDir: filepath.Dir(ledger), LedgerFile: ledger}
}

func newTestApp(t *testing.T) *Application {
	t.Helper()
	cfg, paths := testConfig(t)
	a, err := New(context.Background(), cfg, paths, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func do(t *testing.T, h http.Handler, req *http.Request, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_Routes(t *testing.T) {
	a := newTestApp(t)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"health", http.MethodGet, "/api/health/", http.StatusOK},
		{"ready", http.MethodGet, "/api/health/ready", http.StatusOK},
		{"version", http.MethodGet, "/api/version", http.StatusOK},
		{"subjects", http.MethodGet, "/api/subjects", http.StatusOK},
		{"trailing slash", http.MethodGet, "/api/subjects/", http.StatusOK},
		{"status", http.MethodGet, "/api/license/status", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"analysis gated", http.MethodPost, "/api/analysis", http.StatusUnauthorized},
		{"stream gated", http.MethodGet, "/ws/analysis", http.StatusUnauthorized},
		{"unknown", http.MethodGet, "/api/nope", http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/api/subjects", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, a.Router, httptest.NewRequest(tt.method, tt.path, nil), nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestNew_ActivationFlow(t *testing.T) {
	a := newTestApp(t)

	activate := func(key string, cookies []*http.Cookie) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/license/activate",
			strings.NewReader(`{"license_key":"`+key+`"}`))
		req.Header.Set("Content-Type", "application/json")
		return do(t, a.Router, req, cookies)
	}

	rec := activate(testutil.ExpiredKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = activate(testutil.UnusedKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp api.LicenseActivateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, string(license.OutcomeActivated), resp.Outcome)
	assert.True(t, resp.Persisted)

	cookies := rec.Result().Cookies()
	var names []string
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, session.CookieName)
	assert.Contains(t, names, session.TokenCookieName)

	// Past the gate now; the empty form fails validation instead.
	req := httptest.NewRequest(http.MethodPost, "/api/analysis", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	rec = do(t, a.Router, req, cookies)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ledger := testutil.ReadLedgerFile(t, a.Paths.LedgerFile)
	assert.Equal(t, license.StatusUsed, ledger[testutil.UnusedKey].Status)
}

func TestNew_ActivationLimiterIgnoresForwardedFor(t *testing.T) {
	tests := []struct {
		name         string
		trustProxy   bool
		wantLastCode int
	}{
		{"untrusted headers", false, http.StatusTooManyRequests},
		{"trusted proxy", true, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, paths := testConfig(t)
			cfg.Security.MaxFailedActivations = 3
			cfg.Security.TrustProxyHeaders = tt.trustProxy
			a, err := New(context.Background(), cfg, paths, testLogger())
			require.NoError(t, err)
			t.Cleanup(func() { _ = a.Close() })

			var codes []int
			for i := 0; i < 6; i++ {
				req := httptest.NewRequest(http.MethodPost, "/api/license/activate",
					strings.NewReader(`{"license_key":"SCHO-NOPE-0000-000`+string(rune('0'+i))+`"}`))
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("X-Forwarded-For", "198.51.100."+string(rune('1'+i)))
				req.RemoteAddr = "192.0.2.10:40000"
				codes = append(codes, do(t, a.Router, req, nil).Code)
			}

			assert.Equal(t, []int{http.StatusNotFound, http.StatusNotFound, http.StatusNotFound}, codes[:3])
			for _, code := range codes[3:] {
				assert.Equal(t, tt.wantLastCode, code)
			}
		})
	}
}

func TestNew_UnconfiguredLedger(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Ledger.Backend = config.BackendGist
	cfg.Ledger.AccessToken = ""

	a, err := New(context.Background(), cfg, nil, testLogger())
	require.NoError(t, err)
	defer a.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/license/activate", strings.NewReader(`{"license_key":"SCHO-1111-2222-3333"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(t, a.Router, req, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, a.Router, httptest.NewRequest(http.MethodGet, "/api/health/ready", nil), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTokenCodec(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.SessionConfig
		want    string
		wantErr bool
	}{
		{"auto without secret", config.SessionConfig{TokenCodec: "auto"}, "plain", false},
		{"auto with secret", config.SessionConfig{TokenCodec: "auto", TokenSecret: "0123456789abcdef"}, "signed", false},
		{"plain", config.SessionConfig{TokenCodec: "plain", TokenSecret: "0123456789abcdef"}, "plain", false},
		{"signed", config.SessionConfig{TokenCodec: "signed", TokenSecret: "0123456789abcdef"}, "signed", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec, err := tokenCodec(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, codec.Name())
		})
	}
}

func TestNew_LivenessReportsSessions(t *testing.T) {
	a := newTestApp(t)

	rec := do(t, a.Router, httptest.NewRequest(http.MethodGet, "/api/health/live", nil), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status   string         `json:"status"`
		Sessions map[string]any `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "alive", body.Status)
	assert.Contains(t, body.Sessions, "max_size")
}

func TestApplication_ServeAndStop(t *testing.T) {
	a := newTestApp(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/api/health/live"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
