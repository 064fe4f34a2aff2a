package collect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"go.uber.org/zap"

	"github.com/TobiSchelling/toolscout/internal/classify"
	"github.com/TobiSchelling/toolscout/internal/config"
	"github.com/TobiSchelling/toolscout/internal/fetch"
	"github.com/TobiSchelling/toolscout/internal/model"
)

const youtubeMaxResults = 50

// YouTube talks to the YouTube Data API v3 and, optionally, the public
// channel Atom feed.
type YouTube struct {
	apiKey   string
	apiBase  string
	feedBase string
	useFeed  bool
	fetcher  *fetch.Fetcher
	logger   *zap.Logger
}

// NewYouTube creates a YouTube adapter. The API key is read from the
// environment variable named in cfg.
func NewYouTube(cfg config.YouTube, client fetch.HTTPClient, logger *zap.Logger) *YouTube {
	return &YouTube{
		apiKey:   os.Getenv(cfg.APIKeyEnv),
		apiBase:  strings.TrimRight(cfg.APIBaseURL, "/"),
		feedBase: cfg.FeedBaseURL,
		useFeed:  cfg.UseFeed,
		fetcher:  fetch.New(client, "toolscout/1.0"),
		logger:   logger,
	}
}

// IsConfigured returns whether the API key is available.
func (y *YouTube) IsConfigured() bool {
	return y.apiKey != ""
}

type ytThumbnail struct {
	URL string `json:"url"`
}

type ytThumbnails struct {
	Default  *ytThumbnail `json:"default"`
	Medium   *ytThumbnail `json:"medium"`
	High     *ytThumbnail `json:"high"`
	Standard *ytThumbnail `json:"standard"`
	Maxres   *ytThumbnail `json:"maxres"`
}

// best returns the highest resolution thumbnail available.
func (t ytThumbnails) best() string {
	for _, th := range []*ytThumbnail{t.Maxres, t.High, t.Medium, t.Default} {
		if th != nil && th.URL != "" {
			return th.URL
		}
	}
	return ""
}

type ytSnippet struct {
	PublishedAt  string       `json:"publishedAt"`
	ChannelID    string       `json:"channelId"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Thumbnails   ytThumbnails `json:"thumbnails"`
	ChannelTitle string       `json:"channelTitle"`
	Tags         []string     `json:"tags"`
	ResourceID   struct {
		VideoID string `json:"videoId"`
	} `json:"resourceId"`
}

// Video fetches a single video by id.
func (y *YouTube) Video(ctx context.Context, videoID string) (*model.Item, error) {
	var resp struct {
		Items []struct {
			ID      string    `json:"id"`
			Snippet ytSnippet `json:"snippet"`
		} `json:"items"`
	}
	params := url.Values{"part": {"snippet"}, "id": {videoID}}
	if err := y.api(ctx, "videos", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		y.logger.Info("video not found", zap.String("video_id", videoID))
		return nil, nil
	}
	v := resp.Items[0]
	item := videoItem(v.ID, v.Snippet, v.Snippet.PublishedAt)
	return &item, nil
}

// ResolveChannel looks up a channel by handle, id, custom URL or legacy
// username. Custom URLs are looked up as handles since the API has no
// dedicated filter for them.
func (y *YouTube) ResolveChannel(ctx context.Context, value string, form classify.ChannelForm) (*model.ChannelRef, error) {
	if !y.IsConfigured() && y.useFeed && form == classify.FormID {
		return y.resolveFromFeed(ctx, value)
	}

	params := url.Values{"part": {"snippet,contentDetails"}}
	switch form {
	case classify.FormID:
		params.Set("id", value)
	case classify.FormUser:
		params.Set("forUsername", value)
	default:
		params.Set("forHandle", "@"+strings.TrimPrefix(value, "@"))
	}

	var resp struct {
		Items []struct {
			ID      string `json:"id"`
			Snippet struct {
				Title string `json:"title"`
			} `json:"snippet"`
			ContentDetails struct {
				RelatedPlaylists struct {
					Uploads string `json:"uploads"`
				} `json:"relatedPlaylists"`
			} `json:"contentDetails"`
		} `json:"items"`
	}
	if err := y.api(ctx, "channels", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		y.logger.Info("channel not found", zap.String("form", string(form)), zap.String("value", value))
		return nil, nil
	}
	c := resp.Items[0]
	return &model.ChannelRef{
		Kind:   model.KindYouTube,
		Handle: c.ID,
		Title:  c.Snippet.Title,
		URL:    channelURL(c.ID),
		FeedID: c.ContentDetails.RelatedPlaylists.Uploads,
	}, nil
}

// Uploads lists the channel's newest uploads, newest first.
func (y *YouTube) Uploads(ctx context.Context, ch model.ChannelRef, max int) ([]model.Item, error) {
	if y.useFeed {
		return y.feedUploads(ctx, ch.Handle, max)
	}
	if max <= 0 || max > youtubeMaxResults {
		max = youtubeMaxResults
	}

	playlist := ch.FeedID
	if playlist == "" {
		playlist = uploadsPlaylist(ch.Handle)
	}

	var resp struct {
		Items []struct {
			Snippet        ytSnippet `json:"snippet"`
			ContentDetails struct {
				VideoID          string `json:"videoId"`
				VideoPublishedAt string `json:"videoPublishedAt"`
			} `json:"contentDetails"`
		} `json:"items"`
	}
	params := url.Values{
		"part":       {"snippet,contentDetails"},
		"playlistId": {playlist},
		"maxResults": {strconv.Itoa(max)},
	}
	if err := y.api(ctx, "playlistItems", params, &resp); err != nil {
		return nil, err
	}

	items := make([]model.Item, 0, len(resp.Items))
	for _, it := range resp.Items {
		id := it.ContentDetails.VideoID
		if id == "" {
			id = it.Snippet.ResourceID.VideoID
		}
		if id == "" {
			continue
		}
		published := it.ContentDetails.VideoPublishedAt
		if published == "" {
			published = it.Snippet.PublishedAt
		}
		item := videoItem(id, it.Snippet, published)
		if item.ChannelHandle == "" {
			item.ChannelHandle = ch.Handle
			item.ChannelURL = channelURL(ch.Handle)
		}
		if item.ChannelTitle == "" {
			item.ChannelTitle = ch.Title
		}
		items = append(items, item)
	}
	return items, nil
}

func (y *YouTube) api(ctx context.Context, endpoint string, params url.Values, out any) error {
	if !y.IsConfigured() {
		return fmt.Errorf("youtube %s: %w (set the YouTube API key environment variable)", endpoint, ErrNotConfigured)
	}
	params.Set("key", y.apiKey)

	body, err := y.fetcher.Get(ctx, y.apiBase+"/"+endpoint+"?"+params.Encode())
	if err != nil {
		var se *fetch.StatusError
		if errors.As(err, &se) {
			// the URL carries the API key
			return fmt.Errorf("youtube %s: %w", endpoint, &fetch.StatusError{URL: y.apiBase + "/" + endpoint, Code: se.Code})
		}
		var ue *url.Error
		if errors.As(err, &ue) {
			return fmt.Errorf("youtube %s: %w", endpoint, ue.Err)
		}
		return fmt.Errorf("youtube %s: request failed", endpoint)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding youtube %s response: %w", endpoint, err)
	}
	return nil
}

func (y *YouTube) resolveFromFeed(ctx context.Context, channelID string) (*model.ChannelRef, error) {
	feed, err := y.feed(ctx, channelID)
	if err != nil {
		var se *fetch.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &model.ChannelRef{
		Kind:   model.KindYouTube,
		Handle: channelID,
		Title:  feed.Title,
		URL:    channelURL(channelID),
		FeedID: uploadsPlaylist(channelID),
	}, nil
}

func (y *YouTube) feed(ctx context.Context, channelID string) (*gofeed.Feed, error) {
	body, err := y.fetcher.Get(ctx, y.feedBase+"?"+url.Values{"channel_id": {channelID}}.Encode())
	if err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse youtube feed: %w", err)
	}
	return feed, nil
}

// feedUploads lists uploads from the channel's Atom feed. The feed carries
// the full description in media:group but no tags.
func (y *YouTube) feedUploads(ctx context.Context, channelID string, max int) ([]model.Item, error) {
	feed, err := y.feed(ctx, channelID)
	if err != nil {
		return nil, err
	}

	var items []model.Item
	for _, fi := range feed.Items {
		if max > 0 && len(items) >= max {
			break
		}
		id := feedExtension(fi, "yt", "videoId")
		if id == "" {
			ref := classify.Classify(fi.Link, model.KindYouTube)
			id = ref.ItemID
		}
		if id == "" {
			continue
		}

		item := model.Item{
			Kind:          model.KindYouTube,
			ID:            id,
			ChannelHandle: channelID,
			ChannelTitle:  feed.Title,
			ChannelURL:    channelURL(channelID),
			Title:         strings.TrimSpace(fi.Title),
			URL:           videoURL(id),
		}
		if fi.PublishedParsed != nil {
			item.PublishedAt = *fi.PublishedParsed
		}
		if group := mediaGroup(fi); group != nil {
			if d := group.Children["description"]; len(d) > 0 {
				item.Text = d[0].Value
			}
			if th := group.Children["thumbnail"]; len(th) > 0 {
				item.MediaURL = th[0].Attrs["url"]
			}
		}
		if item.Text == "" {
			item.Text = fi.Description
		}
		items = append(items, item)
	}
	return items, nil
}

func videoItem(id string, s ytSnippet, published string) model.Item {
	item := model.Item{
		Kind:          model.KindYouTube,
		ID:            id,
		ChannelHandle: s.ChannelID,
		ChannelTitle:  s.ChannelTitle,
		Title:         strings.TrimSpace(s.Title),
		Text:          s.Description,
		Tags:          s.Tags,
		URL:           videoURL(id),
		MediaURL:      s.Thumbnails.best(),
	}
	if s.ChannelID != "" {
		item.ChannelURL = channelURL(s.ChannelID)
	}
	if t, err := time.Parse(time.RFC3339, published); err == nil {
		item.PublishedAt = t
	}
	return item
}

func mediaGroup(fi *gofeed.Item) *ext.Extension {
	groups := fi.Extensions["media"]["group"]
	if len(groups) == 0 {
		return nil
	}
	return &groups[0]
}

func feedExtension(fi *gofeed.Item, ns, name string) string {
	if v := fi.Extensions[ns][name]; len(v) > 0 {
		return v[0].Value
	}
	return ""
}

func videoURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

func channelURL(id string) string {
	return "https://www.youtube.com/channel/" + id
}

// uploadsPlaylist derives the uploads playlist from a UC... channel id.
func uploadsPlaylist(channelID string) string {
	if strings.HasPrefix(channelID, "UC") {
		return "UU" + channelID[2:]
	}
	return channelID
}
