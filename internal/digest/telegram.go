package digest

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram rejects messages longer than 4096 characters.
const maxMessageRunes = 4096

// Sender delivers a digest.
type Sender interface {
	Send(ctx context.Context, d *Digest) error
}

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender posts digests to a chat through the Bot API.
type TelegramSender struct {
	api    telegramAPI
	chatID int64
}

// NewTelegramSender creates a sender for chatID with the given bot token.
func NewTelegramSender(token string, chatID int64) (*TelegramSender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &TelegramSender{api: api, chatID: chatID}, nil
}

// Send posts the digest Markdown, split into as many messages as needed.
func (t *TelegramSender) Send(ctx context.Context, d *Digest) error {
	for _, chunk := range splitMessage(d.Markdown, maxMessageRunes) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(t.chatID, chunk)
		msg.DisableWebPagePreview = true
		if _, err := t.api.Send(msg); err != nil {
			return fmt.Errorf("send digest to chat %d: %w", t.chatID, err)
		}
	}
	return nil
}

// splitMessage cuts text into chunks of at most limit runes, breaking at
// line ends where possible.
func splitMessage(text string, limit int) []string {
	var chunks []string
	var cur strings.Builder
	curRunes := 0
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
		curRunes = 0
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if curRunes+n > limit {
			flush()
		}
		for n > limit {
			r := []rune(line)
			chunks = append(chunks, string(r[:limit]))
			line = string(r[limit:])
			n -= limit
		}
		cur.WriteString(line)
		curRunes += n
	}
	flush()
	return chunks
}
