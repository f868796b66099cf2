package platforms

import (
	"context"
	"errors"
	"strings"

	"github.com/slack-go/slack"

	"crosspost/internal/content"
	"crosspost/internal/dispatch"
)

// SlackConfig configures publishing to Slack channels. The destination
// account id is the channel id (C...).
type SlackConfig struct {
	Token string
}

type slackPublisher struct {
	api *slack.Client
}

func NewSlack(cfg SlackConfig) (Publisher, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("slack token is empty")
	}
	return &slackPublisher{api: slack.New(cfg.Token)}, nil
}

func (p *slackPublisher) Kind() content.PlatformKind { return content.PlatformSlack }

func (p *slackPublisher) Publish(ctx context.Context, dest content.Destination, c content.Content) (string, error) {
	opts := []slack.MsgOption{
		slack.MsgOptionText(RenderText(c), false),
	}
	// Media goes out as image blocks; Slack unfurls public URLs.
	for _, u := range c.MediaRefs {
		opts = append(opts, slack.MsgOptionAttachments(slack.Attachment{ImageURL: u}))
	}

	_, ts, err := p.api.PostMessageContext(ctx, string(dest.ID), opts...)
	if err != nil {
		return "", classifySlack(err)
	}
	return ts, nil
}

func classifySlack(err error) error {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return &Error{Kind: dispatch.ErrRateLimited, Err: err}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate"), strings.Contains(msg, "ratelimited"):
		return &Error{Kind: dispatch.ErrRateLimited, Err: err}
	case strings.Contains(msg, "invalid_auth"), strings.Contains(msg, "token_revoked"),
		strings.Contains(msg, "token_expired"), strings.Contains(msg, "not_authed"),
		strings.Contains(msg, "account_inactive"):
		return &Error{Kind: dispatch.ErrAuthExpired, Err: err}
	case strings.Contains(msg, "msg_too_long"), strings.Contains(msg, "invalid_blocks"),
		strings.Contains(msg, "restricted_action"), strings.Contains(msg, "no_text"):
		return &Error{Kind: dispatch.ErrContentRejected, Err: err}
	default:
		return &Error{Kind: dispatch.ErrUnknown, Err: err}
	}
}
