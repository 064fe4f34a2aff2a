// Package classify turns user-supplied URLs and handles into source references.
package classify

import (
	"regexp"
	"strings"

	"github.com/TobiSchelling/toolscout/internal/model"
)

// ChannelForm says how a YouTube channel reference was written.
type ChannelForm string

// YouTube channel reference forms.
const (
	FormHandle ChannelForm = "handle"
	FormID     ChannelForm = "id"
	FormCustom ChannelForm = "custom"
	FormUser   ChannelForm = "user"
)

// Ref is the classification of an input string. The zero Ref means the input
// was not recognized.
type Ref struct {
	Kind model.SourceKind
	// ItemID is set for single-item references.
	ItemID string
	// Channel is the Telegram handle or the YouTube channel value.
	Channel string
	// Form is set for YouTube channel references.
	Form ChannelForm
}

// IsZero reports whether the input was unrecognized.
func (r Ref) IsZero() bool {
	return r.Kind == ""
}

// IsItem reports whether the reference points at a single post or video.
func (r Ref) IsItem() bool {
	return r.ItemID != ""
}

var (
	youtubeIDRe = regexp.MustCompile(`(?:youtube\.com/(?:[^/]+/.+/|(?:v|e(?:mbed)?|shorts|live)/|.*[?&]v=)|youtu\.be/)([^"&?/\s]{11})`)

	youtubeChannelRes = []struct {
		form ChannelForm
		re   *regexp.Regexp
	}{
		{FormHandle, regexp.MustCompile(`youtube\.com/@([^/?#\s]+)`)},
		{FormID, regexp.MustCompile(`youtube\.com/channel/([^/?#\s]+)`)},
		{FormCustom, regexp.MustCompile(`youtube\.com/c/([^/?#\s]+)`)},
		{FormUser, regexp.MustCompile(`youtube\.com/user/([^/?#\s]+)`)},
	}

	telegramRe       = regexp.MustCompile(`t\.me/(?:s/)?([a-zA-Z0-9_]{5,})(?:/(\d+))?`)
	telegramHandleRe = regexp.MustCompile(`^[a-zA-Z0-9_]{5,}$`)
)

// Classify decomposes raw into a source reference. hint may force the kind
// for inputs that are ambiguous, such as a bare "@handle".
func Classify(raw string, hint model.SourceKind) Ref {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Ref{}
	}

	kind := hint
	if kind == "" {
		kind = detectKind(s)
	}

	switch kind {
	case model.KindYouTube:
		return classifyYouTube(s)
	case model.KindTelegram:
		return classifyTelegram(s)
	}
	return Ref{}
}

func detectKind(s string) model.SourceKind {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "t.me/") || strings.Contains(lower, "telegram.me/"):
		return model.KindTelegram
	case strings.Contains(lower, "youtube.com") || strings.Contains(lower, "youtu.be"):
		return model.KindYouTube
	case strings.HasPrefix(s, "@"):
		return model.KindTelegram
	}
	return ""
}

func classifyYouTube(s string) Ref {
	if m := youtubeIDRe.FindStringSubmatch(s); m != nil {
		return Ref{Kind: model.KindYouTube, ItemID: m[1]}
	}
	if strings.HasPrefix(s, "@") && len(s) > 1 && !strings.ContainsAny(s, "/ ") {
		return Ref{Kind: model.KindYouTube, Channel: s[1:], Form: FormHandle}
	}
	for _, c := range youtubeChannelRes {
		if m := c.re.FindStringSubmatch(s); m != nil {
			return Ref{Kind: model.KindYouTube, Channel: m[1], Form: c.form}
		}
	}
	return Ref{}
}

func classifyTelegram(s string) Ref {
	if strings.HasPrefix(s, "@") {
		handle := s[1:]
		if !telegramHandleRe.MatchString(handle) {
			return Ref{}
		}
		return Ref{Kind: model.KindTelegram, Channel: handle}
	}
	s = strings.Replace(s, "telegram.me/", "t.me/", 1)
	m := telegramRe.FindStringSubmatch(s)
	if m == nil {
		return Ref{}
	}
	return Ref{Kind: model.KindTelegram, Channel: m[1], ItemID: m[2]}
}
