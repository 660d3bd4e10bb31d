package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

var ErrTelegramNotConfigured = errors.New("notify: telegram bot token not set")

// TelegramPoster sends through the Bot API. The target is the numeric chat id.
type TelegramPoster struct {
	bot *tele.Bot
}

// NewTelegramPoster builds an offline bot: no getMe call and no update polling.
// apiURL overrides the Bot API endpoint when non-empty.
func NewTelegramPoster(token, apiURL string, client *http.Client) (*TelegramPoster, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrTelegramNotConfigured
	}
	settings := tele.Settings{
		Token:   token,
		Offline: true,
		URL:     apiURL,
	}
	if client != nil {
		settings.Client = client
	}
	b, err := tele.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramPoster{bot: b}, nil
}

func (p *TelegramPoster) Create(ctx context.Context, msg Message) (Posted, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(msg.ChannelID), 10, 64)
	if err != nil {
		return Posted{}, fmt.Errorf("invalid telegram chat id %q: %w", msg.ChannelID, err)
	}
	if err := ctx.Err(); err != nil {
		return Posted{}, err
	}
	// Sent as plain text: the Discord-style **bold** markup is not Telegram Markdown.
	sent, err := p.bot.Send(&tele.Chat{ID: chatID}, msg.Content)
	if err != nil {
		return Posted{}, err
	}
	at := time.Now().UTC()
	if sent.Unixtime > 0 {
		at = time.Unix(sent.Unixtime, 0).UTC()
	}
	return Posted{ID: strconv.Itoa(sent.ID), ChannelID: msg.ChannelID, At: at}, nil
}
