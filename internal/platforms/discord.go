package platforms

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"

	"crosspost/internal/content"
	"crosspost/internal/dispatch"
)

// DiscordConfig configures publishing through Discord webhooks. The
// destination account id is "webhookID/webhookToken".
type DiscordConfig struct{}

type discordPublisher struct {
	session *discordgo.Session
}

// NewDiscord builds the Discord webhook publisher. Webhook execution needs no
// bot token, so the session is unauthenticated.
func NewDiscord(_ DiscordConfig) (Publisher, error) {
	s, err := discordgo.New("")
	if err != nil {
		return nil, err
	}
	return &discordPublisher{session: s}, nil
}

func (p *discordPublisher) Kind() content.PlatformKind { return content.PlatformDiscord }

func (p *discordPublisher) Publish(_ context.Context, dest content.Destination, c content.Content) (string, error) {
	id, token, ok := strings.Cut(string(dest.ID), "/")
	if !ok || id == "" || token == "" {
		return "", Errf(dispatch.ErrContentRejected, "discord destination %q is not webhookID/token", dest.ID)
	}

	params := &discordgo.WebhookParams{Content: RenderText(c)}
	for _, u := range c.MediaRefs {
		params.Embeds = append(params.Embeds, &discordgo.MessageEmbed{
			Image: &discordgo.MessageEmbedImage{URL: u},
		})
	}

	msg, err := p.session.WebhookExecute(id, token, true, params)
	if err != nil {
		return "", classifyDiscord(err)
	}
	return msg.ID, nil
}

func classifyDiscord(err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusTooManyRequests:
			return &Error{Kind: dispatch.ErrRateLimited, Err: err}
		case http.StatusUnauthorized, http.StatusForbidden:
			return &Error{Kind: dispatch.ErrAuthExpired, Err: err}
		case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
			return &Error{Kind: dispatch.ErrContentRejected, Err: err}
		}
	}
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		return &Error{Kind: dispatch.ErrRateLimited, Err: err}
	}
	return &Error{Kind: dispatch.ErrUnknown, Err: err}
}
