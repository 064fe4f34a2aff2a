// Package digest composes a summary of recently discovered tools from healthy
// records and delivers it as HTML or as a Telegram message.
package digest

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/TobiSchelling/toolscout/internal/analyzer"
	"github.com/TobiSchelling/toolscout/internal/logging"
	"github.com/TobiSchelling/toolscout/internal/model"
)

var (
	md     = goldmark.New()
	policy = bluemonday.UGCPolicy()
)

// Store lists healthy records.
type Store interface {
	RecentHealthy(ctx context.Context, since time.Time, limit int) ([]model.Source, error)
}

// Mention is one tool plus the records that mention it.
type Mention struct {
	App     model.App
	Sources []model.Source
}

// Section groups mentions of one category.
type Section struct {
	Category string
	Mentions []Mention
}

// Digest is a composed summary.
type Digest struct {
	Since       time.Time
	GeneratedAt time.Time
	SourceCount int
	Sections    []Section
	Markdown    string
}

// AppCount returns the number of distinct tools in the digest.
func (d *Digest) AppCount() int {
	n := 0
	for _, s := range d.Sections {
		n += len(s.Mentions)
	}
	return n
}

// Composer builds digests from the record store.
type Composer struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewComposer creates a digest composer.
func NewComposer(store Store, logger *zap.Logger) *Composer {
	return &Composer{store: store, logger: logging.OrNop(logger), now: time.Now}
}

// Compose collects healthy records updated since the given time and groups
// their tools by category.
func (c *Composer) Compose(ctx context.Context, since time.Time) (*Digest, error) {
	sources, err := c.store.RecentHealthy(ctx, since, 0)
	if err != nil {
		return nil, fmt.Errorf("listing recent records: %w", err)
	}

	d := &Digest{
		Since:       since,
		GeneratedAt: c.now(),
		SourceCount: len(sources),
		Sections:    group(sources),
	}
	d.Markdown = renderMarkdown(d)
	c.logger.Info("digest composed", zap.Int("sources", d.SourceCount), zap.Int("apps", d.AppCount()))
	return d, nil
}

func group(sources []model.Source) []Section {
	byCategory := make(map[string]map[string]*Mention)
	for _, src := range sources {
		for _, app := range src.DetectedApps {
			cat := app.Category
			if cat == "" {
				cat = "Other"
			}
			if byCategory[cat] == nil {
				byCategory[cat] = make(map[string]*Mention)
			}
			key := strings.ToLower(app.Name)
			m, ok := byCategory[cat][key]
			if !ok {
				m = &Mention{App: app}
				byCategory[cat][key] = m
			}
			m.Sources = append(m.Sources, src)
		}
	}

	var sections []Section
	for _, cat := range categoryOrder(byCategory) {
		var mentions []Mention
		for _, m := range byCategory[cat] {
			mentions = append(mentions, *m)
		}
		sort.Slice(mentions, func(i, j int) bool {
			if len(mentions[i].Sources) != len(mentions[j].Sources) {
				return len(mentions[i].Sources) > len(mentions[j].Sources)
			}
			return strings.ToLower(mentions[i].App.Name) < strings.ToLower(mentions[j].App.Name)
		})
		sections = append(sections, Section{Category: cat, Mentions: mentions})
	}
	return sections
}

// categoryOrder lists known categories first, in analyzer order, then any
// others alphabetically.
func categoryOrder(byCategory map[string]map[string]*Mention) []string {
	var order []string
	known := make(map[string]bool)
	for _, cat := range analyzer.Categories {
		known[cat] = true
		if _, ok := byCategory[cat]; ok {
			order = append(order, cat)
		}
	}
	var extra []string
	for cat := range byCategory {
		if !known[cat] {
			extra = append(extra, cat)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}

func renderMarkdown(d *Digest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Tool digest %s\n\n", d.GeneratedAt.Format("2006-01-02"))
	if len(d.Sections) == 0 {
		fmt.Fprintf(&b, "No new tools since %s.\n", d.Since.Format("2006-01-02 15:04"))
		return b.String()
	}
	fmt.Fprintf(&b, "%d tools from %d posts since %s.\n", d.AppCount(), d.SourceCount, d.Since.Format("2006-01-02 15:04"))

	for _, s := range d.Sections {
		fmt.Fprintf(&b, "\n## %s\n\n", s.Category)
		for _, m := range s.Mentions {
			b.WriteString(mentionLine(m))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func mentionLine(m Mention) string {
	name := m.App.Name
	if m.App.URL != "" {
		name = fmt.Sprintf("[%s](%s)", m.App.Name, m.App.URL)
	}
	line := "- **" + name + "**"

	var tags []string
	if m.App.Pricing != "" {
		tags = append(tags, m.App.Pricing)
	}
	if m.App.HasMCP {
		tags = append(tags, "MCP")
	}
	if m.App.HasAPI {
		tags = append(tags, "API")
	}
	if len(tags) > 0 {
		line += " (" + strings.Join(tags, ", ") + ")"
	}
	if m.App.ShortDescription != "" {
		line += ": " + m.App.ShortDescription
	}

	var refs []string
	for _, src := range m.Sources {
		refs = append(refs, fmt.Sprintf("[%s](%s)", escapeLinkText(src.Title), src.URL))
	}
	return line + " via " + strings.Join(refs, ", ")
}

func escapeLinkText(s string) string {
	return strings.NewReplacer("[", "(", "]", ")").Replace(s)
}

// HTML converts the digest Markdown to sanitized HTML.
func (d *Digest) HTML() (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(d.Markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering digest: %w", err)
	}
	return policy.Sanitize(buf.String()), nil
}

// Page wraps the digest HTML in a standalone document.
func (d *Digest) Page() (string, error) {
	body, err := d.HTML()
	if err != nil {
		return "", err
	}
	title := "Tool digest " + d.GeneratedAt.Format("2006-01-02")
	return "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>" + title +
		"</title></head>\n<body>\n" + body + "</body></html>\n", nil
}
