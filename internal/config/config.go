package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Stream     StreamConfig     `yaml:"stream"`
	Speech     SpeechConfig     `yaml:"speech"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Store      StoreConfig      `yaml:"store"`
	Batch      BatchConfig      `yaml:"batch"`
	Inbox      InboxConfig      `yaml:"inbox"`
	Notify     NotifyConfig     `yaml:"notify"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port         int    `yaml:"port"`
	Address      string `yaml:"address"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// StreamConfig contains meeting stream lifecycle configuration
type StreamConfig struct {
	KeepAliveInterval int    `yaml:"keep_alive_interval"` // seconds
	KeepAlivePayload  string `yaml:"keep_alive_payload"`  // base64
	InactivityTimeout int    `yaml:"inactivity_timeout"`  // seconds
	FinalizeTimeout   int    `yaml:"finalize_timeout"`    // seconds
	ReapAfter         int    `yaml:"reap_after"`          // seconds, 0 disables
	ReapInterval      int    `yaml:"reap_interval"`       // seconds
}

// SpeechConfig contains speech recognition backend configuration
type SpeechConfig struct {
	Backend         string   `yaml:"backend"` // google or http
	CredentialsFile string   `yaml:"credentials_file"`
	Endpoint        string   `yaml:"endpoint"`
	APIKey          string   `yaml:"api_key"`
	Timeout         int      `yaml:"timeout"` // seconds
	MaxRetries      int      `yaml:"max_retries"`
	MaxConcurrent   int      `yaml:"max_concurrent"`
	Encoding        string   `yaml:"encoding"`
	SampleRate      int      `yaml:"sample_rate"`
	LanguageCode    string   `yaml:"language_code"`
	Model           string   `yaml:"model"`
	PhraseHints     []string `yaml:"phrase_hints"`
}

// TeamMember is a company directory entry offered to the summarizer
type TeamMember struct {
	Name string `yaml:"name"`
	Role string `yaml:"role"`
}

// SummarizerConfig contains Gemini summarization configuration
type SummarizerConfig struct {
	APIKeys         []string     `yaml:"api_keys"`
	Model           string       `yaml:"model"`
	Temperature     float32      `yaml:"temperature"`
	TopP            float32      `yaml:"top_p"`
	MaxOutputTokens int32        `yaml:"max_output_tokens"`
	Directory       []TeamMember `yaml:"directory"`
}

// StoreConfig contains meeting store configuration
type StoreConfig struct {
	Driver        string `yaml:"driver"` // memory, redis, sqlite or postgres
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
	SQLitePath    string `yaml:"sqlite_path"`
	PostgresURL   string `yaml:"postgres_url"`
}

// BatchConfig contains secondary processing configuration
type BatchConfig struct {
	ScratchDir         string  `yaml:"scratch_dir"`
	MaxAttempts        int     `yaml:"max_attempts"`
	RetryUnit          float64 `yaml:"retry_unit"` // seconds
	StreamingThreshold int64   `yaml:"streaming_threshold"`
	FetchBaseURL       string  `yaml:"fetch_base_url"`
	FetchRoot          string  `yaml:"fetch_root"`
	FetchTimeout       int     `yaml:"fetch_timeout"` // seconds
}

// InboxConfig contains recording inbox configuration
type InboxConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Dir           string  `yaml:"dir"`
	MaxConcurrent int     `yaml:"max_concurrent"`
	SettleDelay   float64 `yaml:"settle_delay"` // seconds
}

// NotifyConfig contains notification configuration. Every configured target is used.
type NotifyConfig struct {
	WebhookURL     string `yaml:"webhook_url"`
	WebhookToken   string `yaml:"webhook_token"`
	WebhookTimeout int    `yaml:"webhook_timeout"` // seconds
	RedisChannel   string `yaml:"redis_channel"`
	RedisAddr      string `yaml:"redis_addr"` // defaults to store.redis_addr
	MinutesDir     string `yaml:"minutes_dir"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.ApplyDefaults()
	config.ApplyEnv(os.Getenv)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills unset values with the standard settings
func (c *Config) ApplyDefaults() {
	setDefault(&c.HTTP.Port, 8080)
	setDefault(&c.HTTP.Address, "0.0.0.0")
	setDefault(&c.HTTP.ReadTimeout, 30)
	setDefault(&c.HTTP.WriteTimeout, 540)
	setDefault(&c.HTTP.MaxBodyBytes, 32<<20)

	setDefault(&c.Stream.KeepAliveInterval, 5)
	setDefault(&c.Stream.KeepAlivePayload, "AAA=")
	setDefault(&c.Stream.InactivityTimeout, 30)
	setDefault(&c.Stream.FinalizeTimeout, 15)
	setDefault(&c.Stream.ReapInterval, 30)

	setDefault(&c.Speech.Backend, "google")
	setDefault(&c.Speech.Timeout, 120)
	setDefault(&c.Speech.MaxConcurrent, 10)
	setDefault(&c.Speech.Encoding, "WEBM_OPUS")
	setDefault(&c.Speech.SampleRate, 48000)
	setDefault(&c.Speech.LanguageCode, "en-US")
	setDefault(&c.Speech.Model, "latest_long")

	setDefault(&c.Summarizer.Model, "gemini-1.5-pro-001")
	setDefault(&c.Summarizer.Temperature, 0.2)
	setDefault(&c.Summarizer.TopP, 0.8)
	setDefault(&c.Summarizer.MaxOutputTokens, 8192)

	setDefault(&c.Store.Driver, "memory")
	setDefault(&c.Store.KeyPrefix, "meeting:")

	setDefault(&c.Batch.ScratchDir, os.TempDir())
	setDefault(&c.Batch.MaxAttempts, 3)
	setDefault(&c.Batch.RetryUnit, 1.0)
	setDefault(&c.Batch.StreamingThreshold, 10*1024*1024)
	setDefault(&c.Batch.FetchTimeout, 300)

	setDefault(&c.Inbox.MaxConcurrent, 2)
	setDefault(&c.Inbox.SettleDelay, 0.5)

	setDefault(&c.Notify.WebhookTimeout, 10)
	setDefault(&c.Notify.RedisAddr, c.Store.RedisAddr)

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "json")
	setDefault(&c.Logging.Output, "stdout")
}

// ApplyEnv overrides secrets from the environment
func (c *Config) ApplyEnv(getenv func(string) string) {
	if keys := getenv("GEMINI_API_KEY"); keys != "" {
		c.Summarizer.APIKeys = nil
		for _, key := range strings.Split(keys, ",") {
			if key = strings.TrimSpace(key); key != "" {
				c.Summarizer.APIKeys = append(c.Summarizer.APIKeys, key)
			}
		}
	}
	if key := getenv("SPEECH_API_KEY"); key != "" {
		c.Speech.APIKey = key
	}
	if password := getenv("REDIS_PASSWORD"); password != "" {
		c.Store.RedisPassword = password
	}
	if url := getenv("DATABASE_URL"); url != "" {
		c.Store.PostgresURL = url
	}
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}

	if err := c.Speech.Validate(); err != nil {
		return fmt.Errorf("speech config: %w", err)
	}

	if err := c.Summarizer.Validate(); err != nil {
		return fmt.Errorf("summarizer config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	if err := c.Batch.Validate(); err != nil {
		return fmt.Errorf("batch config: %w", err)
	}

	if err := c.Inbox.Validate(); err != nil {
		return fmt.Errorf("inbox config: %w", err)
	}

	if err := c.Notify.Validate(); err != nil {
		return fmt.Errorf("notify config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty")
	}

	if h.ReadTimeout < 1 || h.WriteTimeout < 1 {
		return fmt.Errorf("read_timeout and write_timeout must be at least 1 second")
	}

	if h.MaxBodyBytes < 1024 {
		return fmt.Errorf("max_body_bytes must be at least 1024, got %d", h.MaxBodyBytes)
	}

	return nil
}

// Validate validates stream configuration
func (s *StreamConfig) Validate() error {
	if s.KeepAliveInterval < 1 {
		return fmt.Errorf("keep_alive_interval must be at least 1 second, got %d", s.KeepAliveInterval)
	}

	if s.InactivityTimeout <= s.KeepAliveInterval {
		return fmt.Errorf("inactivity_timeout (%d) must be greater than keep_alive_interval (%d)",
			s.InactivityTimeout, s.KeepAliveInterval)
	}

	if s.FinalizeTimeout < 1 {
		return fmt.Errorf("finalize_timeout must be at least 1 second, got %d", s.FinalizeTimeout)
	}

	if s.ReapAfter < 0 {
		return fmt.Errorf("reap_after cannot be negative, got %d", s.ReapAfter)
	}

	if s.ReapAfter > 0 && s.ReapInterval < 1 {
		return fmt.Errorf("reap_interval must be at least 1 second when reaping is enabled")
	}

	if _, err := s.GetKeepAlivePayload(); err != nil {
		return err
	}

	return nil
}

// Validate validates speech configuration
func (s *SpeechConfig) Validate() error {
	switch s.Backend {
	case "google":
	case "http":
		if s.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http backend")
		}
	default:
		return fmt.Errorf("backend must be 'google' or 'http', got '%s'", s.Backend)
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", s.MaxRetries)
	}

	if s.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", s.MaxConcurrent)
	}

	validEncodings := map[string]bool{"WEBM_OPUS": true, "OGG_OPUS": true, "LINEAR16": true, "FLAC": true}
	if !validEncodings[s.Encoding] {
		return fmt.Errorf("encoding must be one of [WEBM_OPUS, OGG_OPUS, LINEAR16, FLAC], got '%s'", s.Encoding)
	}

	if s.SampleRate < 8000 || s.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", s.SampleRate)
	}

	if s.LanguageCode == "" {
		return fmt.Errorf("language_code cannot be empty")
	}

	return nil
}

// Validate validates summarizer configuration
func (s *SummarizerConfig) Validate() error {
	if len(s.APIKeys) == 0 {
		return fmt.Errorf("api_keys cannot be empty (set GEMINI_API_KEY)")
	}

	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", s.Temperature)
	}

	if s.TopP < 0 || s.TopP > 1 {
		return fmt.Errorf("top_p must be between 0 and 1, got %f", s.TopP)
	}

	for i, member := range s.Directory {
		if member.Name == "" {
			return fmt.Errorf("directory entry %d has no name", i+1)
		}
	}

	return nil
}

// Validate validates store configuration
func (s *StoreConfig) Validate() error {
	switch s.Driver {
	case "memory":
	case "redis":
		if s.RedisAddr == "" {
			return fmt.Errorf("redis_addr cannot be empty for the redis driver")
		}
	case "sqlite":
		if s.SQLitePath == "" {
			return fmt.Errorf("sqlite_path cannot be empty for the sqlite driver")
		}
	case "postgres":
		if s.PostgresURL == "" {
			return fmt.Errorf("postgres_url cannot be empty for the postgres driver (set DATABASE_URL)")
		}
	default:
		return fmt.Errorf("driver must be one of [memory, redis, sqlite, postgres], got '%s'", s.Driver)
	}

	return nil
}

// Validate validates batch configuration
func (b *BatchConfig) Validate() error {
	if b.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", b.MaxAttempts)
	}

	if b.RetryUnit <= 0 {
		return fmt.Errorf("retry_unit must be positive, got %f", b.RetryUnit)
	}

	if b.StreamingThreshold < 1 {
		return fmt.Errorf("streaming_threshold must be positive, got %d", b.StreamingThreshold)
	}

	return nil
}

// Validate validates inbox configuration
func (i *InboxConfig) Validate() error {
	if !i.Enabled {
		return nil
	}

	if i.Dir == "" {
		return fmt.Errorf("dir cannot be empty when the inbox is enabled")
	}

	if i.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", i.MaxConcurrent)
	}

	return nil
}

// Validate validates notification configuration
func (n *NotifyConfig) Validate() error {
	if n.RedisChannel != "" && n.RedisAddr == "" {
		return fmt.Errorf("redis_addr cannot be empty when redis_channel is set")
	}

	if n.WebhookURL != "" && n.WebhookTimeout < 1 {
		return fmt.Errorf("webhook_timeout must be at least 1 second, got %d", n.WebhookTimeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetReadTimeoutDuration returns the HTTP read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the HTTP write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetKeepAliveDuration returns the keep-alive interval as a time.Duration
func (s *StreamConfig) GetKeepAliveDuration() time.Duration {
	return time.Duration(s.KeepAliveInterval) * time.Second
}

// GetInactivityDuration returns the inactivity timeout as a time.Duration
func (s *StreamConfig) GetInactivityDuration() time.Duration {
	return time.Duration(s.InactivityTimeout) * time.Second
}

// GetFinalizeDuration returns the finalize timeout as a time.Duration
func (s *StreamConfig) GetFinalizeDuration() time.Duration {
	return time.Duration(s.FinalizeTimeout) * time.Second
}

// GetReapAfterDuration returns the reap window as a time.Duration
func (s *StreamConfig) GetReapAfterDuration() time.Duration {
	return time.Duration(s.ReapAfter) * time.Second
}

// GetReapIntervalDuration returns the reaper period as a time.Duration
func (s *StreamConfig) GetReapIntervalDuration() time.Duration {
	return time.Duration(s.ReapInterval) * time.Second
}

// GetKeepAlivePayload decodes the keep-alive payload
func (s *StreamConfig) GetKeepAlivePayload() ([]byte, error) {
	payload, err := base64.StdEncoding.DecodeString(s.KeepAlivePayload)
	if err != nil {
		return nil, fmt.Errorf("keep_alive_payload must be base64: %w", err)
	}
	return payload, nil
}

// GetTimeoutDuration returns the speech request timeout as a time.Duration
func (s *SpeechConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetRetryUnitDuration returns the download backoff unit as a time.Duration
func (b *BatchConfig) GetRetryUnitDuration() time.Duration {
	return time.Duration(b.RetryUnit * float64(time.Second))
}

// GetFetchTimeoutDuration returns the download timeout as a time.Duration
func (b *BatchConfig) GetFetchTimeoutDuration() time.Duration {
	return time.Duration(b.FetchTimeout) * time.Second
}

// GetSettleDelayDuration returns the inbox settle delay as a time.Duration
func (i *InboxConfig) GetSettleDelayDuration() time.Duration {
	return time.Duration(i.SettleDelay * float64(time.Second))
}

// GetWebhookTimeoutDuration returns the webhook timeout as a time.Duration
func (n *NotifyConfig) GetWebhookTimeoutDuration() time.Duration {
	return time.Duration(n.WebhookTimeout) * time.Second
}
