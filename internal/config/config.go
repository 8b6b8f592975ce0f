package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment variable, e.g. SCHOLARPASS_SERVER_PORT.
const EnvPrefix = "SCHOLARPASS"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Ledger    LedgerConfig    `yaml:"ledger" envconfig:"LEDGER"`
	Session   SessionConfig   `yaml:"session" envconfig:"SESSION"`
	Inference InferenceConfig `yaml:"inference" envconfig:"INFERENCE"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" envconfig:"MAX_UPLOAD_BYTES"`
	SecureCookies   bool          `yaml:"secure_cookies" envconfig:"SECURE_COOKIES"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable it only behind a proxy that overwrites them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers" envconfig:"TRUST_PROXY_HEADERS"`
	// Activation attempt limiting per client address.
	MaxFailedActivations int           `yaml:"max_failed_activations" envconfig:"MAX_FAILED_ACTIVATIONS"`
	ActivationWindow     time.Duration `yaml:"activation_window" envconfig:"ACTIVATION_WINDOW"`
	ActivationBlock      time.Duration `yaml:"activation_block" envconfig:"ACTIVATION_BLOCK"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// Ledger backends.
const (
	BackendGist   = "gist"
	BackendSheets = "sheets"
	BackendMinio  = "minio"
	BackendRedis  = "redis"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// LedgerConfig selects and configures the license ledger store.
type LedgerConfig struct {
	Backend      string        `yaml:"backend" envconfig:"BACKEND"`
	DocumentName string        `yaml:"document_name" envconfig:"DOCUMENT_NAME"`
	Timeout      time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	Timezone     string        `yaml:"timezone" envconfig:"TIMEZONE"`

	// AccessToken and DocumentID are the store secrets. For gist they are
	// the GitHub token and gist id, for sheets the spreadsheet id.
	AccessToken string `yaml:"access_token" envconfig:"ACCESS_TOKEN"`
	DocumentID  string `yaml:"document_id" envconfig:"DOCUMENT_ID"`

	GistAPIURL string `yaml:"gist_api_url" envconfig:"GIST_API_URL"`
	FilePath   string `yaml:"file_path" envconfig:"FILE_PATH"`

	SheetName             string `yaml:"sheet_name" envconfig:"SHEET_NAME"`
	SheetsCredentialsFile string `yaml:"sheets_credentials_file" envconfig:"SHEETS_CREDENTIALS_FILE"`
	SheetsEndpoint        string `yaml:"sheets_endpoint" envconfig:"SHEETS_ENDPOINT"`

	MinioEndpoint  string `yaml:"minio_endpoint" envconfig:"MINIO_ENDPOINT"`
	MinioAccessKey string `yaml:"minio_access_key" envconfig:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `yaml:"minio_secret_key" envconfig:"MINIO_SECRET_KEY"`
	MinioBucket    string `yaml:"minio_bucket" envconfig:"MINIO_BUCKET"`
	MinioUseSSL    bool   `yaml:"minio_use_ssl" envconfig:"MINIO_USE_SSL"`

	RedisURL string `yaml:"redis_url" envconfig:"REDIS_URL"`
	RedisKey string `yaml:"redis_key" envconfig:"REDIS_KEY"`
}

// Location resolves Timezone.
func (c LedgerConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// SessionConfig configures session tokens and the session registry.
type SessionConfig struct {
	TokenCodec     string        `yaml:"token_codec" envconfig:"TOKEN_CODEC"`
	TokenSecret    string        `yaml:"token_secret" envconfig:"TOKEN_SECRET"`
	TokenIssuer    string        `yaml:"token_issuer" envconfig:"TOKEN_ISSUER"`
	Registry       string        `yaml:"registry" envconfig:"REGISTRY"`
	IdleTTL        time.Duration `yaml:"idle_ttl" envconfig:"IDLE_TTL"`
	MaxSessions    int           `yaml:"max_sessions" envconfig:"MAX_SESSIONS"`
	RedisURL       string        `yaml:"redis_url" envconfig:"REDIS_URL"`
	RedisKeyPrefix string        `yaml:"redis_key_prefix" envconfig:"REDIS_KEY_PREFIX"`
}

// InferenceConfig configures the OCR and reasoning providers.
type InferenceConfig struct {
	OCRAPIKey  string `yaml:"ocr_api_key" envconfig:"OCR_API_KEY"`
	OCRBaseURL string `yaml:"ocr_base_url" envconfig:"OCR_BASE_URL"`
	OCRModel   string `yaml:"ocr_model" envconfig:"OCR_MODEL"`

	ReasoningAPIKey  string  `yaml:"reasoning_api_key" envconfig:"REASONING_API_KEY"`
	ReasoningBaseURL string  `yaml:"reasoning_base_url" envconfig:"REASONING_BASE_URL"`
	ReasoningModel   string  `yaml:"reasoning_model" envconfig:"REASONING_MODEL"`
	Temperature      float64 `yaml:"temperature" envconfig:"TEMPERATURE"`

	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME"`
	ServiceVersion string `yaml:"service_version" envconfig:"SERVICE_VERSION"`
	Environment    string `yaml:"environment" envconfig:"ENVIRONMENT"`
	EnableMetrics  bool   `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	EnableTracing  bool   `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	MaxMessageBytes int64         `yaml:"max_message_bytes" envconfig:"MAX_MESSAGE_BYTES"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
}

// Load builds the configuration from defaults, an optional YAML file and
// the environment, in increasing precedence. An empty path searches the
// usual locations.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = getConfigFilePath()
	}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnv overlays environment variables onto cfg. Fields carry no
// default tags, so envconfig leaves a field alone unless its variable is set.
func applyEnv(cfg *Config) error {
	return envconfig.Process(EnvPrefix, cfg)
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive")
	}

	if c.Security.EnableCORS && len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	switch c.Ledger.Backend {
	case BackendGist, BackendSheets, BackendMinio, BackendRedis, BackendFile, BackendMemory:
	default:
		return fmt.Errorf("unknown ledger backend: %q", c.Ledger.Backend)
	}

	if c.Ledger.Timeout <= 0 {
		return fmt.Errorf("ledger timeout must be positive")
	}

	if _, err := c.Ledger.Location(); err != nil {
		return fmt.Errorf("invalid ledger timezone %q: %w", c.Ledger.Timezone, err)
	}

	switch c.Session.TokenCodec {
	case "auto", "plain":
	case "signed":
		if len(c.Session.TokenSecret) < 16 {
			return fmt.Errorf("signed token codec needs a secret of at least 16 bytes")
		}
	default:
		return fmt.Errorf("unknown token codec: %q", c.Session.TokenCodec)
	}

	switch c.Session.Registry {
	case "memory":
	case "redis":
		if c.Session.RedisURL == "" {
			return fmt.Errorf("redis session registry needs a redis url")
		}
	default:
		return fmt.Errorf("unknown session registry: %q", c.Session.Registry)
	}

	if c.Inference.Temperature < 0 || c.Inference.Temperature > 2 {
		return fmt.Errorf("inference temperature out of range: %v", c.Inference.Temperature)
	}

	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		c.Logging.Output = "console"
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}

	for _, location := range locations {
		if FileExists(location) {
			return location
		}
	}

	return ""
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    120 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  110 * time.Second,
			MaxUploadBytes:  15 << 20,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   40,
			},
			MaxFailedActivations: 10,
			ActivationWindow:     15 * time.Minute,
			ActivationBlock:      30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/scholarpass.log",
		},
		Ledger: LedgerConfig{
			Backend:      BackendGist,
			DocumentName: "licenses.json",
			Timeout:      10 * time.Second,
			Timezone:     "Local",
			GistAPIURL:   "https://api.github.com",
			FilePath:     "data/licenses.json",
			SheetName:    "Licenses",
			MinioBucket:  "scholarpass",
			MinioUseSSL:  true,
			RedisKey:     "scholarpass:ledger",
		},
		Session: SessionConfig{
			TokenCodec:     "auto",
			TokenIssuer:    "scholarpass",
			Registry:       "memory",
			IdleTTL:        12 * time.Hour,
			MaxSessions:    10000,
			RedisKeyPrefix: "scholarpass:session:",
		},
		Inference: InferenceConfig{
			OCRBaseURL:       "https://open.bigmodel.cn/api/paas/v4",
			OCRModel:         "glm-4v",
			ReasoningBaseURL: "https://api.deepseek.com",
			ReasoningModel:   "deepseek-chat",
			Temperature:      0.2,
			Timeout:          90 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    AppName,
			ServiceVersion: AppVersion,
			Environment:    "development",
			EnableMetrics:  true,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			MaxMessageBytes: 20 << 20,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
		},
	}
}
