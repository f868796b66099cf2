package platforms

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"crosspost/internal/content"
	"crosspost/internal/dispatch"
)

func webhookDest(url string) content.Destination {
	return content.Destination{ID: content.DestinationID(url), Platform: content.PlatformWebhook}
}

func TestWebhookPublish(t *testing.T) {
	t.Parallel()
	var gotBody []byte
	var gotSig, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Crosspost-Signature")
		gotType = r.Header.Get("Content-Type")
		_ = json.NewEncoder(w).Encode(map[string]string{"post_id": "remote-42"})
	}))
	defer srv.Close()

	p := NewWebhook(WebhookConfig{Secret: "s3cret"})
	id, err := p.Publish(context.Background(), webhookDest(srv.URL), content.Content{
		Caption:   "Hello",
		Hashtags:  "#announce",
		MediaRefs: []string{"https://cdn.example.com/a.jpg"},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id != "remote-42" {
		t.Fatalf("external id = %q", id)
	}
	if gotType != "application/json" {
		t.Fatalf("content type = %q", gotType)
	}

	var payload map[string]any
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("payload not json: %v", err)
	}
	if payload["caption"] != "Hello" || payload["hashtags"] != "#announce" {
		t.Fatalf("payload = %v", payload)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(gotBody)
	if want := hex.EncodeToString(mac.Sum(nil)); gotSig != want {
		t.Fatalf("signature = %q, want %q", gotSig, want)
	}
}

func TestWebhookPublishNoIDEcho(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewWebhook(WebhookConfig{})
	id, err := p.Publish(context.Background(), webhookDest(srv.URL), content.Content{Caption: "hi"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id == "" {
		t.Fatal("expected a synthetic external id")
	}
}

func TestWebhookStatusClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status int
		want   dispatch.ErrorKind
	}{
		{http.StatusTooManyRequests, dispatch.ErrRateLimited},
		{http.StatusUnauthorized, dispatch.ErrAuthExpired},
		{http.StatusForbidden, dispatch.ErrAuthExpired},
		{http.StatusBadRequest, dispatch.ErrContentRejected},
		{http.StatusUnprocessableEntity, dispatch.ErrContentRejected},
		{http.StatusInternalServerError, dispatch.ErrUnknown},
		{http.StatusBadGateway, dispatch.ErrUnknown},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p := NewWebhook(WebhookConfig{})
			_, err := p.Publish(context.Background(), webhookDest(srv.URL), content.Content{Caption: "hi"})
			if err == nil {
				t.Fatalf("expected error for %d", tt.status)
			}
			if got := Classify(err); got != tt.want {
				t.Fatalf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want dispatch.ErrorKind
	}{
		{"tagged error", Errf(dispatch.ErrRateLimited, "slow down"), dispatch.ErrRateLimited},
		{"wrapped tagged error", errors.Join(errors.New("outer"), Errf(dispatch.ErrAuthExpired, "token")), dispatch.ErrAuthExpired},
		{"deadline", context.DeadlineExceeded, dispatch.ErrTimeout},
		{"plain error", errors.New("boom"), dispatch.ErrUnknown},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRenderText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		c    content.Content
		want string
	}{
		{"both", content.Content{Caption: "Hello", Hashtags: "#a #b"}, "Hello\n\n#a #b"},
		{"caption only", content.Content{Caption: "Hello"}, "Hello"},
		{"hashtags only", content.Content{Hashtags: "#a"}, "#a"},
		{"empty", content.Content{}, ""},
	}
	for _, tt := range tests {
		if got := RenderText(tt.c); got != tt.want {
			t.Errorf("%s: RenderText = %q, want %q", tt.name, got, tt.want)
		}
	}
}
