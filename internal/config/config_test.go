package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	var c Config
	c.Summarizer.APIKeys = []string{"test-key"}
	c.ApplyDefaults()
	return c
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "invalid http port",
			mutate:      func(c *Config) { c.HTTP.Port = 70000 },
			expectError: true,
			errorMsg:    "http port must be between 1 and 65535",
		},
		{
			name: "inactivity shorter than keep-alive",
			mutate: func(c *Config) {
				c.Stream.KeepAliveInterval = 10
				c.Stream.InactivityTimeout = 5
			},
			expectError: true,
			errorMsg:    "inactivity_timeout",
		},
		{
			name:        "keep-alive payload not base64",
			mutate:      func(c *Config) { c.Stream.KeepAlivePayload = "%%" },
			expectError: true,
			errorMsg:    "keep_alive_payload must be base64",
		},
		{
			name:        "http speech backend without endpoint",
			mutate:      func(c *Config) { c.Speech.Backend = "http" },
			expectError: true,
			errorMsg:    "endpoint cannot be empty",
		},
		{
			name:        "unknown encoding",
			mutate:      func(c *Config) { c.Speech.Encoding = "MP3" },
			expectError: true,
			errorMsg:    "encoding must be one of",
		},
		{
			name:        "missing gemini keys",
			mutate:      func(c *Config) { c.Summarizer.APIKeys = nil },
			expectError: true,
			errorMsg:    "api_keys cannot be empty",
		},
		{
			name:        "redis driver without address",
			mutate:      func(c *Config) { c.Store.Driver = "redis" },
			expectError: true,
			errorMsg:    "redis_addr cannot be empty",
		},
		{
			name:        "unknown store driver",
			mutate:      func(c *Config) { c.Store.Driver = "firestore" },
			expectError: true,
			errorMsg:    "driver must be one of",
		},
		{
			name:        "inbox enabled without dir",
			mutate:      func(c *Config) { c.Inbox.Enabled = true },
			expectError: true,
			errorMsg:    "dir cannot be empty",
		},
		{
			name:        "redis notifications without address",
			mutate:      func(c *Config) { c.Notify.RedisChannel = "events.meeting.processed" },
			expectError: true,
			errorMsg:    "redis_addr cannot be empty when redis_channel is set",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(&config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
http:
  port: 9090
stream:
  keep_alive_interval: 5
  inactivity_timeout: 30
speech:
  backend: http
  endpoint: "https://api.example.com/transcribe"
summarizer:
  api_keys: ["key-1", "key-2"]
  directory:
    - name: Dana
      role: Operations
store:
  driver: sqlite
  sqlite_path: /tmp/meetings.db
logging:
  level: debug
  format: text
`,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
http:
  port: not_a_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing required fields",
			configYAML: `
store:
  driver: postgres
summarizer:
  api_keys: ["k"]
`,
			expectError: true,
			errorMsg:    "postgres_url cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if config.HTTP.Port != 9090 {
				t.Errorf("Expected port 9090, got %d", config.HTTP.Port)
			}
			if config.Stream.FinalizeTimeout != 15 {
				t.Errorf("Expected default finalize timeout 15, got %d", config.Stream.FinalizeTimeout)
			}
			if len(config.Summarizer.Directory) != 1 || config.Summarizer.Directory[0].Name != "Dana" {
				t.Errorf("Expected directory entry Dana, got %+v", config.Summarizer.Directory)
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatalf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	config := validConfig()
	env := map[string]string{
		"GEMINI_API_KEY": "a, b,,c",
		"SPEECH_API_KEY": "speech",
		"REDIS_PASSWORD": "secret",
		"DATABASE_URL":   "postgres://localhost/meetings",
	}
	config.ApplyEnv(func(key string) string { return env[key] })

	if got := strings.Join(config.Summarizer.APIKeys, "|"); got != "a|b|c" {
		t.Errorf("Expected keys a|b|c, got %s", got)
	}
	if config.Speech.APIKey != "speech" {
		t.Errorf("Expected speech key override, got %q", config.Speech.APIKey)
	}
	if config.Store.RedisPassword != "secret" {
		t.Errorf("Expected redis password override, got %q", config.Store.RedisPassword)
	}
	if config.Store.PostgresURL != "postgres://localhost/meetings" {
		t.Errorf("Expected database url override, got %q", config.Store.PostgresURL)
	}
}

func TestDurationHelpers(t *testing.T) {
	config := validConfig()

	if config.Stream.GetKeepAliveDuration() != 5*time.Second {
		t.Errorf("Expected 5 seconds, got %v", config.Stream.GetKeepAliveDuration())
	}

	if config.Stream.GetInactivityDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", config.Stream.GetInactivityDuration())
	}

	if config.Stream.GetFinalizeDuration() != 15*time.Second {
		t.Errorf("Expected 15 seconds, got %v", config.Stream.GetFinalizeDuration())
	}

	payload, err := config.Stream.GetKeepAlivePayload()
	if err != nil || len(payload) != 2 || payload[0] != 0 || payload[1] != 0 {
		t.Errorf("Expected two zero bytes, got %v (%v)", payload, err)
	}

	batch := BatchConfig{RetryUnit: 1.5}
	if batch.GetRetryUnitDuration() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5 seconds, got %v", batch.GetRetryUnitDuration())
	}

	inbox := InboxConfig{SettleDelay: 0.25}
	if inbox.GetSettleDelayDuration() != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %v", inbox.GetSettleDelayDuration())
	}
}
