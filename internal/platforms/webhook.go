package platforms

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"crosspost/internal/content"
	"crosspost/internal/dispatch"
)

// WebhookConfig configures the generic HTTP integration: destinations whose
// platform has no dedicated SDK receive a signed JSON POST. The destination
// account id is the target URL.
type WebhookConfig struct {
	// Secret signs the payload (X-Crosspost-Signature, hex HMAC-SHA256).
	// Empty disables signing.
	Secret string
}

type webhookPublisher struct {
	secret string
	client *http.Client
}

func NewWebhook(cfg WebhookConfig) Publisher {
	return &webhookPublisher{
		secret: cfg.Secret,
		client: &http.Client{Timeout: 20 * time.Second},
	}
}

func (p *webhookPublisher) Kind() content.PlatformKind { return content.PlatformWebhook }

type webhookPayload struct {
	Caption   string   `json:"caption"`
	Hashtags  string   `json:"hashtags"`
	MediaURLs []string `json:"media_urls,omitempty"`
}

type webhookResponse struct {
	PostID string `json:"post_id"`
}

func (p *webhookPublisher) Publish(ctx context.Context, dest content.Destination, c content.Content) (string, error) {
	body, err := json.Marshal(webhookPayload{Caption: c.Caption, Hashtags: c.Hashtags, MediaURLs: c.MediaRefs})
	if err != nil {
		return "", Errf(dispatch.ErrContentRejected, "encode payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, string(dest.ID), bytes.NewReader(body))
	if err != nil {
		return "", Errf(dispatch.ErrContentRejected, "webhook destination %q: %v", dest.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.secret != "" {
		mac := hmac.New(sha256.New, []byte(p.secret))
		mac.Write(body)
		req.Header.Set("X-Crosspost-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", &Error{Kind: dispatch.ErrTimeout, Err: err}
		}
		return "", &Error{Kind: dispatch.ErrUnknown, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", Errf(dispatch.ErrRateLimited, "webhook returned 429")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", Errf(dispatch.ErrAuthExpired, "webhook returned %d", resp.StatusCode)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return "", Errf(dispatch.ErrContentRejected, "webhook returned %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", Errf(dispatch.ErrUnknown, "webhook returned %d", resp.StatusCode)
	}

	var wr webhookResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&wr); err != nil || wr.PostID == "" {
		// Receivers are not required to echo an id back.
		return fmt.Sprintf("http-%d", resp.StatusCode), nil
	}
	return wr.PostID, nil
}
