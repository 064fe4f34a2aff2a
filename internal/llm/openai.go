package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint,
// including Perplexity.
type OpenAIProvider struct {
	Model   string
	BaseURL string
	name    string
	apiKey  string
	client  HTTPClient
}

// NewOpenAIProvider creates a provider for the chat completions API at baseURL.
func NewOpenAIProvider(name, model, baseURL, apiKey string, client HTTPClient) *OpenAIProvider {
	return &OpenAIProvider{
		Model:   model,
		BaseURL: strings.TrimRight(baseURL, "/"),
		name:    name,
		apiKey:  apiKey,
		client:  client,
	}
}

func (o *OpenAIProvider) Name() string { return o.name }

// Generate sends a prompt and returns the first choice's content.
func (o *OpenAIProvider) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if o.apiKey == "" {
		return "", fmt.Errorf("%s: %w", o.name, ErrNotConfigured)
	}

	var messages []map[string]string
	if opts.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": opts.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": prompt})

	body := map[string]any{
		"model":       o.Model,
		"messages":    messages,
		"temperature": opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		body["max_tokens"] = opts.MaxTokens
	}
	// Perplexity rejects response_format json_object
	if opts.JSON && o.name == "openai" {
		body["response_format"] = map[string]string{"type": "json_object"}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s API error: %w", o.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &StatusError{Provider: o.name, Code: resp.StatusCode, Body: string(respBody)}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in %s response", o.name)
	}

	return result.Choices[0].Message.Content, nil
}
