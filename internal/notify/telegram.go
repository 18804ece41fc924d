package notify

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

var (
	emphasisRe = regexp.MustCompile(`__\*\*(.+?)\*\*__`)
	codeRe     = regexp.MustCompile("`([^`\n]+)`")
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends messages to a single Telegram chat.
type Telegram struct {
	api     telegramAPI
	chatID  int64
	limiter *rate.Limiter
}

// NewTelegram creates a Telegram notifier with the given bot token.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newTelegram(api, chatID), nil
}

func newTelegram(api telegramAPI, chatID int64) *Telegram {
	return &Telegram{
		api:    api,
		chatID: chatID,
		// ~20 messages/sec max for Telegram
		limiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
	}
}

// Send delivers msg to the configured chat.
func (t *Telegram) Send(ctx context.Context, msg Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	m := tgbotapi.NewMessage(t.chatID, telegramHTML(msg.Text))
	m.ParseMode = tgbotapi.ModeHTML
	if _, err := t.api.Send(m); err != nil {
		return fmt.Errorf("send message to chat %d: %w", t.chatID, err)
	}
	return nil
}

// telegramHTML rewrites the chat markup of a message (bold underline terms
// and backtick spans) into Telegram HTML.
func telegramHTML(text string) string {
	out := html.EscapeString(text)
	out = emphasisRe.ReplaceAllString(out, "<u><b>$1</b></u>")
	return codeRe.ReplaceAllString(out, "<code>$1</code>")
}
