package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// Generator produces model text for a prompt
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiConfig contains Gemini generation settings
type GeminiConfig struct {
	APIKeys         []string
	Model           string
	Temperature     float32
	TopP            float32
	MaxOutputTokens int32
}

// DefaultGeminiConfig returns the standard generation settings without keys
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		Model:           "gemini-1.5-pro-001",
		Temperature:     0.2,
		TopP:            0.8,
		MaxOutputTokens: 8192,
	}
}

// ErrNoAPIKeys is returned when the Gemini backend has no keys configured
var ErrNoAPIKeys = errors.New("no Gemini API keys configured")

// GeminiBackend generates text with Gemini, rotating API keys on quota errors
type GeminiBackend struct {
	config GeminiConfig
	logger *slog.Logger

	mu         sync.Mutex
	currentKey int
	clients    map[string]*genai.Client
}

// NewGeminiBackend creates a Gemini backend
func NewGeminiBackend(cfg GeminiConfig, logger *slog.Logger) (*GeminiBackend, error) {
	if len(cfg.APIKeys) == 0 {
		return nil, ErrNoAPIKeys
	}
	defaults := DefaultGeminiConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = defaults.MaxOutputTokens
	}

	return &GeminiBackend{
		config:  cfg,
		logger:  logger,
		clients: make(map[string]*genai.Client),
	}, nil
}

// Generate sends the prompt to Gemini and returns the concatenated text parts.
// Each configured key is tried at most once.
func (g *GeminiBackend) Generate(ctx context.Context, prompt string) (string, error) {
	genConfig := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.config.Temperature),
		TopP:            genai.Ptr(g.config.TopP),
		MaxOutputTokens: g.config.MaxOutputTokens,
	}

	var lastErr error
	for range len(g.config.APIKeys) {
		keyIndex, client, err := g.client(ctx)
		if err != nil {
			lastErr = fmt.Errorf("create client: %w", err)
			g.rotateKey(keyIndex)
			continue
		}

		result, err := client.Models.GenerateContent(ctx, g.config.Model, genai.Text(prompt), genConfig)
		if err != nil {
			if isQuotaError(err) {
				g.logger.Warn("Gemini key rate limited, rotating",
					slog.Int("key", keyIndex+1),
					slog.String("error", err.Error()),
				)
				g.rotateKey(keyIndex)
				lastErr = err
				continue
			}
			return "", fmt.Errorf("generate content: %w", err)
		}

		if result != nil && len(result.Candidates) > 0 && result.Candidates[0].Content != nil {
			var text strings.Builder
			for _, part := range result.Candidates[0].Content.Parts {
				if part != nil && part.Text != "" {
					text.WriteString(part.Text)
				}
			}
			return text.String(), nil
		}

		return "", fmt.Errorf("empty response from Gemini")
	}

	return "", fmt.Errorf("all API keys exhausted: %w", lastErr)
}

func (g *GeminiBackend) client(ctx context.Context) (int, *genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	index := g.currentKey
	key := g.config.APIKeys[index]
	if client, ok := g.clients[key]; ok {
		return index, client, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return index, nil, err
	}
	g.clients[key] = client
	return index, client, nil
}

// rotateKey advances past the key at index unless another caller already did
func (g *GeminiBackend) rotateKey(index int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.currentKey == index {
		g.currentKey = (g.currentKey + 1) % len(g.config.APIKeys)
	}
}

func isQuotaError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}
