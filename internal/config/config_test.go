package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, BackendGist, cfg.Ledger.Backend)
	assert.Equal(t, "licenses.json", cfg.Ledger.DocumentName)
	assert.Equal(t, "glm-4v", cfg.Inference.OCRModel)
	assert.Equal(t, "deepseek-chat", cfg.Inference.ReasoningModel)
	assert.Equal(t, 0.2, cfg.Inference.Temperature)
	assert.Equal(t, "auto", cfg.Session.TokenCodec)
	assert.Empty(t, cfg.Ledger.AccessToken)
	assert.Empty(t, cfg.Inference.OCRAPIKey)
}

func TestLoadLayers(t *testing.T) {
	tests := []struct {
		name        string
		yaml        string
		env         map[string]string
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "yaml overrides defaults",
			yaml: `
server:
  port: 9090
ledger:
  backend: file
  file_path: /tmp/ledger.json
inference:
  temperature: 0.5
`,
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, BackendFile, cfg.Ledger.Backend)
				assert.Equal(t, "/tmp/ledger.json", cfg.Ledger.FilePath)
				assert.Equal(t, 0.5, cfg.Inference.Temperature)
				// untouched sections keep defaults
				assert.Equal(t, "licenses.json", cfg.Ledger.DocumentName)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
			},
		},
		{
			name: "env overrides yaml",
			yaml: `
server:
  port: 9090
ledger:
  backend: file
`,
			env: map[string]string{
				"SCHOLARPASS_SERVER_PORT":                 "7070",
				"SCHOLARPASS_LEDGER_BACKEND":              "memory",
				"SCHOLARPASS_LEDGER_ACCESS_TOKEN":         "ghp_token",
				"SCHOLARPASS_LEDGER_DOCUMENT_ID":          "abc123",
				"SCHOLARPASS_INFERENCE_OCR_API_KEY":       "zhipu",
				"SCHOLARPASS_INFERENCE_REASONING_API_KEY": "deepseek",
				"SCHOLARPASS_LEDGER_TIMEOUT":              "3s",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 7070, cfg.Server.Port)
				assert.Equal(t, BackendMemory, cfg.Ledger.Backend)
				assert.Equal(t, "ghp_token", cfg.Ledger.AccessToken)
				assert.Equal(t, "abc123", cfg.Ledger.DocumentID)
				assert.Equal(t, "zhipu", cfg.Inference.OCRAPIKey)
				assert.Equal(t, "deepseek", cfg.Inference.ReasoningAPIKey)
				assert.Equal(t, 3*time.Second, cfg.Ledger.Timeout)
			},
		},
		{
			name: "env can switch a bool off",
			env:  map[string]string{"SCHOLARPASS_SECURITY_ENABLE_CORS": "false"},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.Security.EnableCORS)
			},
		},
		{
			name: "proxy headers are untrusted unless enabled",
			env:  map[string]string{"SCHOLARPASS_SECURITY_TRUST_PROXY_HEADERS": "true"},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.False(t, Default().Security.TrustProxyHeaders)
				assert.True(t, cfg.Security.TrustProxyHeaders)
			},
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"SCHOLARPASS_LEDGER_BACKEND": "postgres"},
			wantErr: true,
		},
		{
			name:    "signed codec without secret",
			env:     map[string]string{"SCHOLARPASS_SESSION_TOKEN_CODEC": "signed"},
			wantErr: true,
		},
		{
			name: "signed codec with secret",
			env: map[string]string{
				"SCHOLARPASS_SESSION_TOKEN_CODEC":  "signed",
				"SCHOLARPASS_SESSION_TOKEN_SECRET": "0123456789abcdef",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "signed", cfg.Session.TokenCodec)
			},
		},
		{
			name:    "redis registry without url",
			env:     map[string]string{"SCHOLARPASS_SESSION_REGISTRY": "redis"},
			wantErr: true,
		},
		{
			name:    "bad timezone",
			env:     map[string]string{"SCHOLARPASS_LEDGER_TIMEZONE": "Mars/Olympus"},
			wantErr: true,
		},
		{
			name:    "invalid port",
			yaml:    "server:\n  port: 70000\n",
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			yaml:    "server: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := writeConfigFile(t, tt.yaml)
			cfg, err := Load(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.validateCfg != nil {
				tt.validateCfg(t, cfg)
			}
		})
	}
}

func TestLedgerLocation(t *testing.T) {
	loc, err := LedgerConfig{Timezone: "Local"}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	loc, err = LedgerConfig{Timezone: "UTC"}.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

func TestValidateNormalizesLogOutput(t *testing.T) {
	cfg := Default()
	cfg.Logging.Output = "syslog"
	require.NoError(t, cfg.validate())
	assert.Equal(t, "console", cfg.Logging.Output)
}

func TestResolvePaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv(HomeEnv, home)

	cfg := Default()
	cfg.Ledger.FilePath = "data/licenses.json"
	cfg.Logging.FilePath = "/var/log/scholarpass.log"

	paths, err := ResolvePaths(cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data", "licenses.json"), paths.LedgerFile)
	assert.Equal(t, "/var/log/scholarpass.log", paths.LogFile)

	require.NoError(t, EnsureDir(paths.LedgerFile))
	assert.DirExists(t, filepath.Join(home, "data"))
	assert.False(t, FileExists(paths.LedgerFile))
}

func TestServerAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8080", ServerConfig{Host: "127.0.0.1", Port: 8080}.Addr())
}
