package collect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/TobiSchelling/toolscout/internal/config"
	"github.com/TobiSchelling/toolscout/internal/fetch"
	"github.com/TobiSchelling/toolscout/internal/model"
)

var backgroundURLRe = regexp.MustCompile(`url\(['"]?([^'")]+)['"]?\)`)

// Telegram scrapes the public web preview of Telegram channels (t.me/s/<handle>).
type Telegram struct {
	baseURL string
	fetcher *fetch.Fetcher
	md      *converter.Converter
	logger  *zap.Logger
}

// NewTelegram creates a Telegram adapter.
func NewTelegram(cfg config.Telegram, client fetch.HTTPClient, logger *zap.Logger) *Telegram {
	return &Telegram{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		fetcher: fetch.New(client, cfg.UserAgent),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		logger: logger,
	}
}

// ResolveChannel checks that the preview page exists and returns the channel.
func (t *Telegram) ResolveChannel(ctx context.Context, handle string) (*model.ChannelRef, error) {
	doc, err := t.page(ctx, "/s/"+handle)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if doc.Find(".tgme_channel_info").Length() == 0 && doc.Find(".tgme_widget_message_wrap").Length() == 0 {
		t.logger.Info("channel has no public preview", zap.String("handle", handle))
		return nil, nil
	}
	return &model.ChannelRef{
		Kind:   model.KindTelegram,
		Handle: handle,
		Title:  channelTitle(doc, handle),
		URL:    t.baseURL + "/" + handle,
	}, nil
}

// Recent returns up to max of the newest posts of the channel, newest first.
func (t *Telegram) Recent(ctx context.Context, handle string, max int) ([]model.Item, error) {
	doc, err := t.page(ctx, "/s/"+handle)
	if err != nil {
		return nil, err
	}
	title := channelTitle(doc, handle)

	wraps := doc.Find(".tgme_widget_message_wrap")
	var items []model.Item
	// the preview lists posts oldest first
	for i := wraps.Length() - 1; i >= 0; i-- {
		if max > 0 && len(items) >= max {
			break
		}
		item, ok := t.parsePost(wraps.Eq(i), handle, title)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Post fetches a single post. Posts missing from the preview page are looked
// up on the embed page; an embed page without a message is not found.
func (t *Telegram) Post(ctx context.Context, handle, postID string) (*model.Item, error) {
	doc, err := t.page(ctx, "/s/"+handle+"/"+postID)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	if doc != nil {
		title := channelTitle(doc, handle)
		want := strings.ToLower(handle + "/" + postID)
		var found *model.Item
		doc.Find(".tgme_widget_message_wrap").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			post, _ := s.Find(".tgme_widget_message").Attr("data-post")
			if strings.ToLower(post) != want {
				return true
			}
			if item, ok := t.parsePost(s, handle, title); ok {
				found = &item
			}
			return false
		})
		if found != nil {
			return found, nil
		}
	}

	return t.embedPost(ctx, handle, postID)
}

func (t *Telegram) embedPost(ctx context.Context, handle, postID string) (*model.Item, error) {
	embedURL := t.baseURL + "/" + handle + "/" + postID + "?embed=1"
	body, err := t.fetcher.Get(ctx, embedURL)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing telegram embed page: %w", err)
	}
	msg := doc.Find(".tgme_widget_message")
	if msg.Length() == 0 || doc.Find(".tgme_widget_message_error").Length() > 0 {
		t.logger.Info("post not found", zap.String("handle", handle), zap.String("post_id", postID))
		return nil, nil
	}
	if item, ok := t.parsePost(msg.First(), handle, ownerName(doc, handle)); ok {
		return &item, nil
	}

	// message markup without a usable data-post: keep the readable text
	text := fetch.Extract(body, embedURL)
	if text == "" {
		t.logger.Info("post has no text", zap.String("handle", handle), zap.String("post_id", postID))
		return nil, nil
	}
	return &model.Item{
		Kind:          model.KindTelegram,
		ID:            postID,
		ChannelHandle: handle,
		ChannelTitle:  handle,
		ChannelURL:    t.baseURL + "/" + handle,
		Text:          text,
		URL:           t.baseURL + "/" + handle + "/" + postID,
	}, nil
}

// parsePost extracts one message. s is either a message wrap or the message itself.
func (t *Telegram) parsePost(s *goquery.Selection, handle, title string) (model.Item, bool) {
	msg := s
	if !s.HasClass("tgme_widget_message") {
		msg = s.Find(".tgme_widget_message").First()
	}
	dataPost, _ := msg.Attr("data-post")
	parts := strings.Split(dataPost, "/")
	if len(parts) != 2 || parts[1] == "" {
		return model.Item{}, false
	}
	postID := parts[1]

	item := model.Item{
		Kind:          model.KindTelegram,
		ID:            postID,
		ChannelHandle: handle,
		ChannelTitle:  title,
		ChannelURL:    t.baseURL + "/" + handle,
		Text:          t.messageText(msg.Find(".tgme_widget_message_text.js-message_text").First()),
		URL:           t.baseURL + "/" + handle + "/" + postID,
	}

	if dt, ok := msg.Find("time[datetime]").First().Attr("datetime"); ok {
		if ts, err := time.Parse(time.RFC3339, dt); err == nil {
			item.PublishedAt = ts
		}
	}

	if style, ok := msg.Find(".tgme_widget_message_photo_wrap").First().Attr("style"); ok {
		if m := backgroundURLRe.FindStringSubmatch(style); m != nil {
			item.MediaURL = m[1]
		}
	}
	return item, true
}

// messageText converts the message HTML to Markdown so links to tools
// survive. Conversion failures fall back to plain text.
func (t *Telegram) messageText(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	html, err := s.Html()
	if err == nil {
		md, err := t.md.ConvertString(html, converter.WithDomain(t.baseURL))
		if err == nil {
			return strings.TrimSpace(md)
		}
		t.logger.Debug("markdown conversion failed", zap.Error(err))
	}
	return strings.TrimSpace(s.Text())
}

func (t *Telegram) page(ctx context.Context, path string) (*goquery.Document, error) {
	body, err := t.fetcher.Get(ctx, t.baseURL+path)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing telegram page: %w", err)
	}
	return doc, nil
}

func channelTitle(doc *goquery.Document, handle string) string {
	if title := strings.TrimSpace(doc.Find(".tgme_channel_info_header_title").First().Text()); title != "" {
		return title
	}
	return ownerName(doc, handle)
}

func ownerName(doc *goquery.Document, handle string) string {
	if name := strings.TrimSpace(doc.Find(".tgme_widget_message_owner_name").First().Text()); name != "" {
		return name
	}
	return handle
}

func isNotFound(err error) bool {
	var se *fetch.StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}
