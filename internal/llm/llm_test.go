package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/toolscout/internal/config"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"key": "value"}`, `{"key": "value"}`},
		{"json fence", "```json\n{\"key\": \"value\"}\n```", `{"key": "value"}`},
		{"plain fence", "```\n{\"key\": \"value\"}\n```", `{"key": "value"}`},
		{"whitespace", "  \n  {\"key\": \"value\"}  \n  ", `{"key": "value"}`},
		{"think block", "<think>the user wants {json}</think>\n{\"apps\": []}", `{"apps": []}`},
		{"prose around", "Here you go: {\"a\": {\"b\": 1}} hope this helps", `{"a": {"b": 1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractJSONInvalid(t *testing.T) {
	for _, in := range []string{"", "not json at all", "} backwards {", "<think>{unfinished"} {
		if _, err := ExtractJSON(in); !errors.Is(err, ErrNoJSON) {
			t.Errorf("ExtractJSON(%q): expected ErrNoJSON, got %v", in, err)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Key string `json:"key"`
		Num int    `json:"num"`
	}
	if err := DecodeJSON("```json\n{\"key\": \"value\", \"num\": 42}\n```", &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Key != "value" || out.Num != 42 {
		t.Errorf("unexpected decode result: %+v", out)
	}
	if err := DecodeJSON("{broken", &out); err == nil {
		t.Error("expected error for broken JSON")
	}
}

func TestOpenAIProviderGenerate(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "gpt-4o-mini", srv.URL, "sk-test", srv.Client())
	out, err := p.Generate(context.Background(), "hello", Options{System: "be terse", MaxTokens: 100, JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "gpt-4o-mini", got["model"])
	assert.Len(t, got["messages"], 2)
	assert.Contains(t, got, "response_format")
}

func TestPerplexityOmitsResponseFormat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"x"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("perplexity", "sonar", srv.URL, "pplx", srv.Client())
	_, err := p.Generate(context.Background(), "hello", Options{JSON: true})
	require.NoError(t, err)
	assert.NotContains(t, got, "response_format")
	assert.Len(t, got["messages"], 1)
}

func TestProviderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	p := NewOllamaProvider("qwen2.5:7b", srv.URL, srv.Client())
	_, err := p.Generate(context.Background(), "hello", Options{})
	var se *StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.True(t, se.Temporary())

	assert.False(t, (&StatusError{Code: http.StatusUnauthorized}).Temporary())
}

func TestOllamaProviderGenerate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"message":{"content":"{\"apps\":[]}"}}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider("qwen2.5:7b", srv.URL+"/", srv.Client())
	out, err := p.Generate(context.Background(), "hello", Options{JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"apps":[]}`, out)
	assert.Equal(t, "json", got["format"])
	assert.Equal(t, false, got["stream"])
}

func TestCreateProvider(t *testing.T) {
	ctx := context.Background()
	t.Setenv("TOOLSCOUT_TEST_LLM_KEY", "")

	_, err := CreateProvider(ctx, config.Analyzer{Provider: "perplexity", APIKeyEnv: "TOOLSCOUT_TEST_LLM_KEY"}, nil)
	assert.True(t, errors.Is(err, ErrNotConfigured), "got %v", err)

	_, err = CreateProvider(ctx, config.Analyzer{Provider: "gemini", APIKeyEnv: "TOOLSCOUT_TEST_LLM_KEY"}, nil)
	assert.True(t, errors.Is(err, ErrNotConfigured), "got %v", err)

	p, err := CreateProvider(ctx, config.Analyzer{Provider: "ollama", Model: "qwen2.5:7b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())

	t.Setenv("TOOLSCOUT_TEST_LLM_KEY", "secret")
	p, err = CreateProvider(ctx, config.Analyzer{Provider: "Perplexity", Model: "sonar", APIKeyEnv: "TOOLSCOUT_TEST_LLM_KEY"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "perplexity", p.Name())
	assert.Equal(t, "https://api.perplexity.ai", p.(*OpenAIProvider).BaseURL)

	_, err = CreateProvider(ctx, config.Analyzer{Provider: "mystery", APIKeyEnv: "TOOLSCOUT_TEST_LLM_KEY"}, nil)
	assert.Error(t, err)
}
