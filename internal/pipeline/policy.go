package pipeline

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/TobiSchelling/toolscout/internal/config"
	"github.com/TobiSchelling/toolscout/internal/model"
)

// Decision is the state an item lands in before any analyzer call.
type Decision string

// Ingestion decisions, evaluated in this order.
const (
	DecisionSkippedOld   Decision = "skipped_old"
	DecisionHealthy      Decision = "healthy"
	DecisionHardCeiling  Decision = "hard_ceiling"
	DecisionSoftCeiling  Decision = "soft_ceiling"
	DecisionNeedsProcess Decision = "needs_processing"
)

// Terminal reports whether the decision ends processing without analysis.
func (d Decision) Terminal() bool {
	return d != DecisionNeedsProcess
}

// Policy holds the ingestion thresholds.
type Policy struct {
	RecentDays    int
	HardLimit     int
	SoftLimit     int
	MinTitleRunes int
}

// PolicyFromConfig copies the thresholds from the ingest config section.
func PolicyFromConfig(cfg config.Ingest) Policy {
	return Policy{
		RecentDays:    cfg.RecentDays,
		HardLimit:     cfg.HardLimit,
		SoftLimit:     cfg.SoftLimit,
		MinTitleRunes: cfg.MinTitleRunes,
	}
}

// IsRecent reports whether publishedAt lies within days of now. Unknown
// timestamps and a non-positive window count as recent.
func IsRecent(publishedAt, now time.Time, days int) bool {
	if publishedAt.IsZero() || days <= 0 {
		return true
	}
	diff := now.Sub(publishedAt)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(days)*24*time.Hour
}

// Decide picks the decision for an item given its stored record, which may
// be nil.
func (p Policy) Decide(existing *model.Source, publishedAt, now time.Time) Decision {
	if existing == nil {
		if !IsRecent(publishedAt, now, p.RecentDays) {
			return DecisionSkippedOld
		}
		return DecisionNeedsProcess
	}
	if existing.Healthy() {
		return DecisionHealthy
	}
	if existing.RepairAttempts >= p.HardLimit {
		return DecisionHardCeiling
	}
	if !existing.IsFallback && len(existing.DetectedApps) == 0 && existing.RepairAttempts >= p.SoftLimit {
		return DecisionSoftCeiling
	}
	return DecisionNeedsProcess
}

// NeedsRepair reports whether a freshly analyzed record should be retried.
// attempts is the count including the analysis just made.
func (p Policy) NeedsRepair(a model.Analysis, attempts int) bool {
	return (a.IsFallback || len(a.Apps) == 0) && attempts < p.SoftLimit
}

const maxDerivedTitleRunes = 100

// Title picks the record title: the analyzer's when it is substantive,
// otherwise the item's own title or the first line of its text.
func (p Policy) Title(a model.Analysis, item *model.Item) string {
	if t := strings.TrimSpace(a.Title); utf8.RuneCountInString(t) >= p.MinTitleRunes && t != "" {
		return t
	}
	if t := strings.TrimSpace(item.Title); t != "" {
		return t
	}
	for _, line := range strings.Split(item.Text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return truncateRunes(line, maxDerivedTitleRunes)
		}
	}
	return "@" + item.ChannelHandle + "/" + item.ID
}

// AnalysisInput is the text handed to the analyzer: title, description and
// tags for videos, the message body for posts.
func AnalysisInput(item *model.Item) string {
	if item.Kind != model.KindYouTube {
		return item.Text
	}
	text := item.Title + "\n\n" + item.Text
	if len(item.Tags) > 0 {
		text += "\n\nTags: " + strings.Join(item.Tags, ", ")
	}
	return text
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
