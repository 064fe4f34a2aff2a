// Package pipeline ingests posts and videos into the record store and decides
// which of them need another analysis pass.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/toolscout/internal/classify"
	"github.com/TobiSchelling/toolscout/internal/config"
	"github.com/TobiSchelling/toolscout/internal/logging"
	"github.com/TobiSchelling/toolscout/internal/model"
)

var (
	// ErrUnsupportedSource is returned for input that is not a recognized
	// YouTube or Telegram URL or handle.
	ErrUnsupportedSource = errors.New("unsupported source")
	// ErrChannelNotFound is returned when a channel reference does not resolve.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrItemNotFound is returned when a single post or video does not exist.
	ErrItemNotFound = errors.New("item not found")
)

// Collector fetches items from upstream platforms. Missing channels and
// items are reported as nil without an error.
type Collector interface {
	ResolveChannel(ctx context.Context, ref classify.Ref) (*model.ChannelRef, error)
	ListRecent(ctx context.Context, ch model.ChannelRef, max int) ([]model.Item, error)
	GetItem(ctx context.Context, ref classify.Ref) (*model.Item, error)
}

// Analyzer extracts tool mentions from text. It never fails.
type Analyzer interface {
	Analyze(ctx context.Context, text string) model.Analysis
}

// Store is the part of the record store the pipeline uses.
type Store interface {
	GetSource(ctx context.Context, id string) (*model.Source, error)
	UpsertSource(ctx context.Context, rec *model.Source) error
	UpsertChannel(ctx context.Context, ch model.ChannelRef) error
}

// Status is the per-item outcome reported to callers.
type Status string

// Item statuses.
const (
	StatusCreated    Status = "created"
	StatusUpdated    Status = "updated"
	StatusExisting   Status = "existing"
	StatusSkippedOld Status = "skipped_old"
	StatusError      Status = "error"
)

// Result types.
const (
	TypeVideo   = "video"
	TypePost    = "post"
	TypeChannel = "channel"
)

// ItemResult describes what happened to one item.
type ItemResult struct {
	ID           string      `json:"id"`
	Status       Status      `json:"status"`
	Decision     Decision    `json:"decision,omitempty"`
	Title        string      `json:"title"`
	URL          string      `json:"url"`
	AISummary    string      `json:"aiSummary,omitempty"`
	DetectedApps []model.App `json:"detectedApps,omitempty"`
	NeedsRepair  bool        `json:"needsRepair"`
	Error        string      `json:"error,omitempty"`
}

// Result is the outcome of ProcessSourceURL.
type Result struct {
	Message string        `json:"message"`
	Type    string        `json:"type"`
	Channel string        `json:"channel,omitempty"`
	Source  *model.Source `json:"data,omitempty"`
	Results []ItemResult  `json:"results,omitempty"`
}

// Count returns how many items ended with status.
func (r *Result) Count(status Status) int {
	n := 0
	for _, ir := range r.Results {
		if ir.Status == status {
			n++
		}
	}
	return n
}

// Outcome is the result of ingesting one item.
type Outcome struct {
	Decision Decision
	Status   Status
	// Record is the stored record after ingestion; nil for skipped items.
	Record *model.Source
}

// Pipeline drives classification, collection, analysis and storage.
type Pipeline struct {
	collector Collector
	analyzer  Analyzer
	store     Store
	policy    Policy
	batch     int
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a pipeline.
func New(collector Collector, analyzer Analyzer, store Store, cfg config.Ingest, logger *zap.Logger) *Pipeline {
	batch := cfg.ChannelBatch
	if batch <= 0 {
		batch = 3
	}
	return &Pipeline{
		collector: collector,
		analyzer:  analyzer,
		store:     store,
		policy:    PolicyFromConfig(cfg),
		batch:     batch,
		logger:    logging.OrNop(logger),
		now:       time.Now,
	}
}

// ProcessSourceURL classifies raw and ingests the single item or the recent
// items of the channel it names. kindHint ("youtube", "telegram") resolves
// ambiguous input and may be empty.
func (p *Pipeline) ProcessSourceURL(ctx context.Context, raw, kindHint string) (*Result, error) {
	ref := classify.Classify(raw, model.ParseKind(kindHint))
	if ref.IsZero() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, raw)
	}

	if !ref.IsItem() {
		ch, err := p.collector.ResolveChannel(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolving %s channel %s: %w", ref.Kind, ref.Channel, err)
		}
		if ch == nil {
			return nil, fmt.Errorf("%w: %s %s", ErrChannelNotFound, ref.Kind, ref.Channel)
		}
		return p.ProcessChannel(ctx, *ch)
	}

	item, err := p.collector.GetItem(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("fetching %s item %s: %w", ref.Kind, ref.ItemID, err)
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s item %s", ErrItemNotFound, ref.Kind, ref.ItemID)
	}

	out, err := p.IngestItem(ctx, item)
	if err != nil {
		return nil, err
	}
	typ := TypePost
	if item.Kind == model.KindYouTube {
		typ = TypeVideo
	}
	return &Result{
		Message: string(out.Status),
		Type:    typ,
		Source:  out.Record,
		Results: []ItemResult{itemResult(item, out)},
	}, nil
}

// ProcessChannel ingests the channel's most recent items one after another.
// A failing item is reported with StatusError and does not stop the rest.
// When the channel record cannot be saved afterwards, the item results are
// returned together with the error.
func (p *Pipeline) ProcessChannel(ctx context.Context, ch model.ChannelRef) (*Result, error) {
	logger := p.logger.With(zap.String("channel", ch.Key()))

	items, err := p.collector.ListRecent(ctx, ch, p.batch)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", ch.Key(), err)
	}

	res := &Result{Type: TypeChannel, Channel: ch.Key()}
	for i := range items {
		item := &items[i]
		out, err := p.IngestItem(ctx, item)
		if err != nil {
			logger.Warn("item failed", zap.String("item", item.ID), zap.Error(err))
			res.Results = append(res.Results, ItemResult{
				ID:     model.SourceKey(item.Kind, item.ChannelHandle, item.ID),
				Status: StatusError,
				Title:  item.Title,
				URL:    item.URL,
				Error:  err.Error(),
			})
			continue
		}
		res.Results = append(res.Results, itemResult(item, out))
	}

	res.Message = fmt.Sprintf("Processed channel %s: %d created, %d updated, %d existing, %d skipped, %d failed",
		ch.Key(), res.Count(StatusCreated), res.Count(StatusUpdated), res.Count(StatusExisting),
		res.Count(StatusSkippedOld), res.Count(StatusError))

	if err := p.store.UpsertChannel(ctx, ch); err != nil {
		logger.Error("saving channel record", zap.Error(err))
		res.Message += "; channel record not saved"
		return res, fmt.Errorf("saving channel %s: %w", ch.Key(), err)
	}

	logger.Info("channel processed", zap.Int("items", len(items)), zap.Int("failed", res.Count(StatusError)))
	return res, nil
}

// IngestItem runs the ingestion decision for one item and, when needed,
// analyzes and stores it. The item's channel is registered in every case.
func (p *Pipeline) IngestItem(ctx context.Context, item *model.Item) (*Outcome, error) {
	key := model.SourceKey(item.Kind, item.ChannelHandle, item.ID)
	logger := p.logger.With(zap.String("source_id", key))

	existing, err := p.store.GetSource(ctx, key)
	if err != nil {
		return nil, err
	}

	decision := p.policy.Decide(existing, item.PublishedAt, p.now())
	out := &Outcome{Decision: decision, Record: existing}

	if decision.Terminal() {
		out.Status = StatusExisting
		if decision == DecisionSkippedOld {
			out.Status = StatusSkippedOld
		}
		logger.Debug("no analysis needed", zap.String("decision", string(decision)))
		if err := p.registerChannel(ctx, item); err != nil {
			return nil, err
		}
		return out, nil
	}

	attempts := 1
	if existing != nil {
		attempts = existing.RepairAttempts + 1
	}
	logger.Info("analyzing", zap.Int("attempt", attempts))
	analysis := p.analyzer.Analyze(ctx, AnalysisInput(item))

	rec := p.compose(key, item, analysis, attempts)
	if existing != nil {
		rec.CreatedAt = existing.CreatedAt
	}
	if err := p.store.UpsertSource(ctx, rec); err != nil {
		return nil, err
	}
	if err := p.registerChannel(ctx, item); err != nil {
		return nil, err
	}

	stored, err := p.store.GetSource(ctx, key)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		stored = rec
	}

	out.Record = stored
	out.Status = StatusCreated
	if existing != nil {
		out.Status = StatusUpdated
	}
	logger.Info("stored",
		zap.Int("apps", len(rec.DetectedApps)),
		zap.Bool("fallback", rec.IsFallback),
		zap.Bool("needs_repair", rec.NeedsRepair),
	)
	return out, nil
}

func (p *Pipeline) compose(key string, item *model.Item, a model.Analysis, attempts int) *model.Source {
	apps := a.Apps
	if apps == nil {
		apps = []model.App{}
	}
	author := item.ChannelHandle
	if item.Kind == model.KindYouTube && item.ChannelTitle != "" {
		author = item.ChannelTitle
	}
	return &model.Source{
		ID:             key,
		Kind:           item.Kind,
		ExternalID:     item.ID,
		ChannelKey:     item.Channel().Key(),
		Title:          p.policy.Title(a, item),
		Description:    item.Text,
		AISummary:      a.Summary,
		Author:         author,
		PublishedAt:    item.PublishedAt,
		URL:            item.URL,
		ThumbnailURL:   item.MediaURL,
		DetectedApps:   apps,
		RepairAttempts: attempts,
		IsFallback:     a.IsFallback,
		NeedsRepair:    p.policy.NeedsRepair(a, attempts),
	}
}

func (p *Pipeline) registerChannel(ctx context.Context, item *model.Item) error {
	if item.ChannelHandle == "" {
		return nil
	}
	return p.store.UpsertChannel(ctx, item.Channel())
}

func itemResult(item *model.Item, out *Outcome) ItemResult {
	ir := ItemResult{
		ID:       model.SourceKey(item.Kind, item.ChannelHandle, item.ID),
		Status:   out.Status,
		Decision: out.Decision,
		Title:    item.Title,
		URL:      item.URL,
	}
	if rec := out.Record; rec != nil {
		ir.Title = rec.Title
		ir.AISummary = rec.AISummary
		ir.DetectedApps = rec.DetectedApps
		ir.NeedsRepair = rec.NeedsRepair
	}
	return ir
}
