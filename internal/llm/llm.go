package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/TobiSchelling/toolscout/internal/config"
)

// ErrNotConfigured is returned when a provider's credentials are missing.
var ErrNotConfigured = errors.New("llm provider not configured")

// Options tunes a single generation call.
type Options struct {
	System      string
	MaxTokens   int
	Temperature float64
	// JSON asks the provider for a JSON-only response where supported.
	JSON bool
}

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	Name() string
}

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is a non-200 reply from a provider API.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API returned %d: %s", e.Provider, e.Code, e.Body)
}

// Temporary reports whether retrying the call may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// CreateProvider builds the provider named in cfg. Hosted providers fail with
// ErrNotConfigured when their API key environment variable is empty.
func CreateProvider(ctx context.Context, cfg config.Analyzer, client HTTPClient) (Provider, error) {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	name := strings.ToLower(cfg.Provider)
	if name == "ollama" {
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return NewOllamaProvider(cfg.Model, baseURL, client), nil
	}

	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s is not set", ErrNotConfigured, cfg.APIKeyEnv)
	}

	switch name {
	case "openai":
		baseURL := cfg.BaseURL
		if baseURL == "" || strings.Contains(baseURL, "perplexity") {
			baseURL = "https://api.openai.com/v1"
		}
		return NewOpenAIProvider("openai", cfg.Model, baseURL, apiKey, client), nil
	case "perplexity":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.perplexity.ai"
		}
		return NewOpenAIProvider("perplexity", cfg.Model, baseURL, apiKey, client), nil
	case "gemini":
		return NewGeminiProvider(ctx, cfg.Model, apiKey)
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}
