package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
)

const (
	DefaultConfigFilename = "config.json"
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 8888
	DefaultAuthHeader     = "api-key"

	DefaultMaxAttempts             = 10
	DefaultBackoffBaseSeconds      = 15
	DefaultBackoffIncrementSeconds = 15
	DefaultBackoffCeilingSeconds   = 300

	DefaultMaxBufferBytes = 32 << 20
	DefaultChunkBytes     = 8192
)

// DefaultErrorMarkers are the substrings treated as an in-stream upstream
// failure. They match the rate-limit and error-envelope shapes OpenAI-style
// endpoints embed in otherwise-streamed bodies.
var DefaultErrorMarkers = []string{
	`"code":"too_many_requests"`,
	`"error":`,
}

// Upstream describes the single target endpoint requests are shielded
// against.
type Upstream struct {
	Endpoint   string `json:"endpoint"`
	APIKey     string `json:"api_key"`
	AuthHeader string `json:"auth_header,omitempty"`
}

// Retry holds the attempt bound and backoff schedule. MaxAttempts of -1
// means unbounded; the backoff ceiling then caps how long any single wait
// can grow.
type Retry struct {
	MaxAttempts             int `json:"max_attempts,omitempty"`
	BackoffBaseSeconds      int `json:"backoff_base_seconds,omitempty"`
	BackoffIncrementSeconds int `json:"backoff_increment_seconds,omitempty"`
	BackoffCeilingSeconds   int `json:"backoff_ceiling_seconds,omitempty"`
}

type Config struct {
	Host         string   `json:"host,omitempty"`
	Port         int      `json:"port,omitempty"`
	Upstream     Upstream `json:"upstream"`
	ForcedModel  string   `json:"forced_model,omitempty"`
	Retry        Retry    `json:"retry"`
	ErrorMarkers []string `json:"error_markers,omitempty"`

	// MaxBufferBytes of -1 means unlimited, like Retry.MaxAttempts.
	MaxBufferBytes int64 `json:"max_buffer_bytes,omitempty"`
	ReadChunkBytes int   `json:"read_chunk_bytes,omitempty"`
	EmitChunkBytes int   `json:"emit_chunk_bytes,omitempty"`
}

// Manager loads and serves the immutable configuration object. Handlers read
// through Get; a reload swaps the whole value atomically.
type Manager struct {
	configPath  string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		configPath: filepath.Join(baseDir, DefaultConfigFilename),
	}
}

func (m *Manager) Load() (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(m.configPath)

	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	case os.IsNotExist(err):
		// Running from environment variables alone is supported.
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	m.configValue.Store(&cfg)

	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		cfg = &Config{}
		applyDefaults(cfg)
	}

	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)

	return nil
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Upstream.Endpoint == "" {
		problems = append(problems, "upstream.endpoint is required")
	}

	if c.Upstream.APIKey == "" {
		problems = append(problems, "upstream.api_key is required")
	}

	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", c.Port))
	}

	if c.Retry.BackoffBaseSeconds < 0 || c.Retry.BackoffIncrementSeconds < 0 || c.Retry.BackoffCeilingSeconds < 0 {
		problems = append(problems, "backoff values must not be negative")
	}

	if c.Retry.BackoffCeilingSeconds > 0 && c.Retry.BackoffCeilingSeconds < c.Retry.BackoffBaseSeconds {
		problems = append(problems, "backoff_ceiling_seconds is below backoff_base_seconds")
	}

	if len(problems) == 0 {
		return nil
	}

	msg := problems[0]
	for _, p := range problems[1:] {
		msg += "; " + p
	}

	return errors.New(msg)
}

// Environment variables override file values, matching how this proxy has
// always been deployed (endpoint and credential live outside the config
// file on shared machines).
func applyEnv(cfg *Config) {
	if v := os.Getenv("LLM_SHIELD_ENDPOINT"); v != "" {
		cfg.Upstream.Endpoint = v
	}

	if v := os.Getenv("LLM_SHIELD_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	}

	if v := os.Getenv("LLM_SHIELD_FORCED_MODEL"); v != "" {
		cfg.ForcedModel = v
	}

	if v := os.Getenv("LLM_SHIELD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}

	if v := os.Getenv("LLM_SHIELD_RETRY_ATTEMPTS"); v != "" {
		if attempts, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxAttempts = attempts
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	if cfg.Upstream.AuthHeader == "" {
		cfg.Upstream.AuthHeader = DefaultAuthHeader
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = DefaultMaxAttempts
	}

	if cfg.Retry.BackoffBaseSeconds == 0 {
		cfg.Retry.BackoffBaseSeconds = DefaultBackoffBaseSeconds
	}

	if cfg.Retry.BackoffIncrementSeconds == 0 {
		cfg.Retry.BackoffIncrementSeconds = DefaultBackoffIncrementSeconds
	}

	if cfg.Retry.BackoffCeilingSeconds == 0 {
		cfg.Retry.BackoffCeilingSeconds = DefaultBackoffCeilingSeconds
	}

	if len(cfg.ErrorMarkers) == 0 {
		cfg.ErrorMarkers = append([]string(nil), DefaultErrorMarkers...)
	}

	if cfg.MaxBufferBytes == 0 {
		cfg.MaxBufferBytes = DefaultMaxBufferBytes
	}

	if cfg.ReadChunkBytes == 0 {
		cfg.ReadChunkBytes = DefaultChunkBytes
	}

	if cfg.EmitChunkBytes == 0 {
		cfg.EmitChunkBytes = DefaultChunkBytes
	}
}
