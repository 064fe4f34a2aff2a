// Package collect resolves channels and fetches posts from YouTube and
// public Telegram channels.
package collect

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/TobiSchelling/toolscout/internal/classify"
	"github.com/TobiSchelling/toolscout/internal/config"
	"github.com/TobiSchelling/toolscout/internal/fetch"
	"github.com/TobiSchelling/toolscout/internal/logging"
	"github.com/TobiSchelling/toolscout/internal/model"
)

// ErrNotConfigured is returned when an adapter lacks credentials.
var ErrNotConfigured = errors.New("collector not configured")

// Router dispatches channel and item lookups to the adapter for each source
// kind. Missing channels and items are reported as nil without an error.
type Router struct {
	youtube  *YouTube
	telegram *Telegram
}

// NewRouter builds the adapters from config. client may be nil.
func NewRouter(cfg *config.Config, client fetch.HTTPClient, logger *zap.Logger) *Router {
	logger = logging.OrNop(logger)
	return &Router{
		youtube:  NewYouTube(cfg.Sources.YouTube, client, logger.Named("youtube")),
		telegram: NewTelegram(cfg.Sources.Telegram, client, logger.Named("telegram")),
	}
}

// ResolveChannel maps a channel reference to its stable identity.
func (r *Router) ResolveChannel(ctx context.Context, ref classify.Ref) (*model.ChannelRef, error) {
	switch ref.Kind {
	case model.KindYouTube:
		return r.youtube.ResolveChannel(ctx, ref.Channel, ref.Form)
	case model.KindTelegram:
		return r.telegram.ResolveChannel(ctx, ref.Channel)
	}
	return nil, fmt.Errorf("unsupported source kind %q", ref.Kind)
}

// ListRecent returns up to max of the channel's newest items, newest first.
func (r *Router) ListRecent(ctx context.Context, ch model.ChannelRef, max int) ([]model.Item, error) {
	switch ch.Kind {
	case model.KindYouTube:
		return r.youtube.Uploads(ctx, ch, max)
	case model.KindTelegram:
		return r.telegram.Recent(ctx, ch.Handle, max)
	}
	return nil, fmt.Errorf("unsupported source kind %q", ch.Kind)
}

// GetItem fetches a single video or post.
func (r *Router) GetItem(ctx context.Context, ref classify.Ref) (*model.Item, error) {
	switch ref.Kind {
	case model.KindYouTube:
		return r.youtube.Video(ctx, ref.ItemID)
	case model.KindTelegram:
		return r.telegram.Post(ctx, ref.Channel, ref.ItemID)
	}
	return nil, fmt.Errorf("unsupported source kind %q", ref.Kind)
}
