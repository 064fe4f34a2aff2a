// Package analyzer turns the text of a post or video into a structured list
// of tool mentions using an LLM provider.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/TobiSchelling/toolscout/internal/config"
	"github.com/TobiSchelling/toolscout/internal/llm"
	"github.com/TobiSchelling/toolscout/internal/logging"
	"github.com/TobiSchelling/toolscout/internal/model"
)

// ErrNotConfigured is returned when no LLM provider is available.
var ErrNotConfigured = llm.ErrNotConfigured

// Categories is the closed set of app categories the analyzer emits.
var Categories = []string{"LLM", "Vibe Coding", "Design", "Automation", "Image Generation", "Other"}

const systemPrompt = "You extract mentions of software tools and AI services from social media posts. " +
	"You answer with a single JSON object and nothing else."

const analysisPrompt = `Analyze the following post and find every application, service or AI tool it mentions.

Write all descriptions in %s. Keep product names as written.

Return a JSON object with these fields:
- "title": a short headline for the post (at most 80 characters)
- "summary": 2-3 sentences on what the post is about
- "apps": a list of mentioned tools, each with
  - "name": product name
  - "category": one of %s
  - "shortDescription": one sentence
  - "detailedDescription": 2-4 sentences
  - "features": 3-5 key features as strings
  - "url": official website if known, else null
  - "pricing": "free", "freemium" or "paid", null if unknown
  - "pricingDetails": free-form pricing notes or null
  - "dailyCredits": free daily credits or quota if mentioned, else null
  - "hasMcp": true if the tool offers an MCP server or integration
  - "hasApi": true if the tool offers a public API
  - "minPaidPrice": cheapest paid plan if known, else null

If the post mentions no tools, return "apps": [].

Post:
"""
%s
"""`

// Analyzer extracts tool mentions with an LLM. It never fails: provider and
// parse errors end in a fallback analysis.
type Analyzer struct {
	provider llm.Provider
	opts     llm.Options
	language string
	maxInput int
	retry    RetryPolicy
	logger   *zap.Logger
}

// New creates an Analyzer on top of provider.
func New(provider llm.Provider, cfg config.Analyzer, logger *zap.Logger) (*Analyzer, error) {
	if provider == nil {
		return nil, ErrNotConfigured
	}
	language := cfg.Language
	if language == "" {
		language = "English"
	}
	return &Analyzer{
		provider: provider,
		opts: llm.Options{
			System:      systemPrompt,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			JSON:        true,
		},
		language: language,
		maxInput: cfg.MaxInputChars,
		retry:    RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, BaseDelay: cfg.Retry.BaseDelay},
		logger:   logging.OrNop(logger).With(zap.String("provider", provider.Name())),
	}, nil
}

// FromConfig creates the provider named in cfg and wraps it in an Analyzer.
func FromConfig(ctx context.Context, cfg config.Analyzer, client llm.HTTPClient, logger *zap.Logger) (*Analyzer, error) {
	provider, err := llm.CreateProvider(ctx, cfg, client)
	if err != nil {
		return nil, err
	}
	return New(provider, cfg, logger)
}

// Analyze runs the analysis for text. Unusable results are reported as a
// fallback analysis with IsFallback set.
func (a *Analyzer) Analyze(ctx context.Context, text string) model.Analysis {
	prompt := fmt.Sprintf(analysisPrompt, a.language, strings.Join(Categories, ", "), Truncate(text, a.maxInput))

	var result model.Analysis
	attempt := 0
	err := a.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		raw, err := a.provider.Generate(ctx, prompt, a.opts)
		if err != nil {
			a.logger.Debug("analysis call failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		parsed, err := ParseAnalysis(raw)
		if err != nil {
			a.logger.Debug("unparseable analysis", zap.Int("attempt", attempt), zap.Error(err))
			return &parseError{err: err}
		}
		result = parsed
		return nil
	})
	if err != nil {
		a.logger.Warn("analysis failed, using fallback", zap.Int("attempts", attempt), zap.Error(err))
		return Fallback()
	}
	return result
}

// Fallback is the analysis recorded when no usable result was obtained.
func Fallback() model.Analysis {
	return model.Analysis{IsFallback: true}
}

type parseError struct{ err error }

func (e *parseError) Error() string { return "parsing analysis: " + e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

// ErrMissingApps is returned when a response has no "apps" field.
var ErrMissingApps = errors.New(`analysis has no "apps" field`)

// Truncate cuts s to at most limit runes. A non-positive limit disables it.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
