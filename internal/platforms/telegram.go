package platforms

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"crosspost/internal/content"
	"crosspost/internal/dispatch"
)

// TelegramConfig configures publishing to Telegram channels. The destination
// account id must be the channel's numeric chat id.
type TelegramConfig struct {
	Token string
}

type telegramPublisher struct {
	bot *tele.Bot
}

// NewTelegram builds the Telegram channel publisher. The bot is created
// without a poller: this integration only sends.
func NewTelegram(cfg TelegramConfig) (Publisher, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: false})
	if err != nil {
		return nil, err
	}
	return &telegramPublisher{bot: b}, nil
}

func (p *telegramPublisher) Kind() content.PlatformKind { return content.PlatformTelegram }

func (p *telegramPublisher) Publish(_ context.Context, dest content.Destination, c content.Content) (string, error) {
	chatID, err := strconv.ParseInt(string(dest.ID), 10, 64)
	if err != nil {
		return "", Errf(dispatch.ErrContentRejected, "telegram destination %q is not a chat id", dest.ID)
	}
	chat := &tele.Chat{ID: chatID}
	text := RenderText(c)

	var msg *tele.Message
	if len(c.MediaRefs) > 0 {
		// First media ref carries the caption; Telegram captions ride on the
		// photo, not alongside it.
		photo := &tele.Photo{File: tele.FromURL(c.MediaRefs[0]), Caption: text}
		msg, err = p.bot.Send(chat, photo)
	} else {
		msg, err = p.bot.Send(chat, text)
	}
	if err != nil {
		return "", classifyTelegram(err)
	}
	return strconv.Itoa(msg.ID), nil
}

func classifyTelegram(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &Error{Kind: dispatch.ErrRateLimited, Err: err}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "too many requests"), strings.Contains(msg, "retry after"):
		return &Error{Kind: dispatch.ErrRateLimited, Err: err}
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "forbidden"), strings.Contains(msg, "kicked"):
		return &Error{Kind: dispatch.ErrAuthExpired, Err: err}
	case strings.Contains(msg, "bad request"), strings.Contains(msg, "too long"), strings.Contains(msg, "wrong file"):
		return &Error{Kind: dispatch.ErrContentRejected, Err: err}
	default:
		return &Error{Kind: dispatch.ErrUnknown, Err: err}
	}
}
