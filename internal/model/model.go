// Package model defines the domain types shared by the collectors, the
// ingestion pipeline and the record stores.
package model

import (
	"strings"
	"time"
)

// SourceKind identifies the upstream platform of an item.
type SourceKind string

// Supported source kinds.
const (
	KindYouTube  SourceKind = "youtube"
	KindTelegram SourceKind = "telegram"
)

// ParseKind maps a user-supplied hint to a SourceKind. Unknown hints yield "".
func ParseKind(s string) SourceKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "youtube", "yt", "video":
		return KindYouTube
	case "telegram", "tg":
		return KindTelegram
	}
	return ""
}

// App is a single tool mention extracted from a post.
type App struct {
	Name                string   `json:"name"`
	Category            string   `json:"category"`
	ShortDescription    string   `json:"shortDescription"`
	DetailedDescription string   `json:"detailedDescription,omitempty"`
	Features            []string `json:"features,omitempty"`
	URL                 string   `json:"url,omitempty"`
	Pricing             string   `json:"pricing,omitempty"`
	PricingDetails      string   `json:"pricingDetails,omitempty"`
	DailyCredits        string   `json:"dailyCredits,omitempty"`
	HasMCP              bool     `json:"hasMcp"`
	HasAPI              bool     `json:"hasApi"`
	MinPaidPrice        string   `json:"minPaidPrice,omitempty"`
}

// Source is the persisted record for one upstream item plus its analysis state.
type Source struct {
	ID             string     `json:"id"`
	Kind           SourceKind `json:"sourceType"`
	ExternalID     string     `json:"externalId"`
	ChannelKey     string     `json:"channelKey"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	AISummary      string     `json:"aiSummary"`
	Author         string     `json:"author"`
	PublishedAt    time.Time  `json:"publishedAt"`
	URL            string     `json:"url"`
	ThumbnailURL   string     `json:"thumbnailUrl,omitempty"`
	DetectedApps   []App      `json:"detectedApps"`
	RepairAttempts int        `json:"repairAttempts"`
	IsFallback     bool       `json:"isFallback"`
	NeedsRepair    bool       `json:"needsRepair"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Healthy reports whether the record carries a trusted, non-empty analysis.
func (s *Source) Healthy() bool {
	return len(s.DetectedApps) > 0 && !s.NeedsRepair && !s.IsFallback
}

// Channel is the rescan worklist entry for a tracked upstream channel.
type Channel struct {
	Key           string     `json:"id"`
	Kind          SourceKind `json:"sourceType"`
	Handle        string     `json:"handle"`
	Title         string     `json:"title"`
	URL           string     `json:"url"`
	LastScannedAt time.Time  `json:"lastScannedAt"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// ChannelRef is a resolved upstream channel as returned by a collector.
type ChannelRef struct {
	Kind   SourceKind
	Handle string // stable identifier: Telegram handle or YouTube channel ID
	Title  string
	URL    string
	FeedID string // platform-specific listing id, e.g. the uploads playlist
}

// Key returns the normalized channel record key.
func (c ChannelRef) Key() string {
	return ChannelKey(c.Kind, c.Handle)
}

// Item is a raw upstream post or video as returned by a collector.
type Item struct {
	Kind          SourceKind
	ID            string
	ChannelHandle string
	ChannelTitle  string
	ChannelURL    string
	Title         string
	Text          string // description for videos, message body for posts
	Tags          []string
	PublishedAt   time.Time
	URL           string
	MediaURL      string
}

// Channel returns the channel the item was published in.
func (it *Item) Channel() ChannelRef {
	return ChannelRef{
		Kind:   it.Kind,
		Handle: it.ChannelHandle,
		Title:  it.ChannelTitle,
		URL:    it.ChannelURL,
	}
}

// Analysis is the outcome of one content analysis call.
type Analysis struct {
	Title      string
	Summary    string
	Apps       []App
	IsFallback bool
}

// SourceKey derives the record key for an upstream item. YouTube video IDs
// are globally unique so the channel does not take part in the key.
func SourceKey(kind SourceKind, channel, itemID string) string {
	if kind == KindYouTube {
		return "youtube_" + itemID
	}
	return string(kind) + "_" + strings.ToLower(channel) + "_" + itemID
}

// ChannelKey derives the record key for a channel.
func ChannelKey(kind SourceKind, handle string) string {
	handle = strings.TrimPrefix(handle, "@")
	switch kind {
	case KindYouTube:
		return "yt_" + handle
	case KindTelegram:
		return "tg_" + strings.ToLower(handle)
	}
	return string(kind) + "_" + handle
}
