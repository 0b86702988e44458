package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/CosmoTheDev/ctrlscan-api/internal/config"
)

// SignatureHeader carries "sha256=" plus the hex HMAC-SHA256 of the body.
const SignatureHeader = "X-Ctrlscan-Signature"

// WebhookChannel posts events as JSON to a generic HTTP endpoint, signing
// the body when a secret is configured.
type WebhookChannel struct {
	cfg config.WebhookNotifyConfig
	poster
}

func NewWebhook(cfg config.WebhookNotifyConfig) *WebhookChannel {
	return &WebhookChannel{cfg: cfg, poster: newPoster()}
}

func (w *WebhookChannel) Name() string       { return "webhook" }
func (w *WebhookChannel) IsConfigured() bool { return w.cfg.URL != "" }

// webhookPayload is the documented body of every webhook delivery.
type webhookPayload struct {
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Severity  string         `json:"severity"`
	ProductID int64          `json:"product"`
	TestID    int64          `json:"test"`
	URL       string         `json:"url"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp string         `json:"ts"`
}

func (w *WebhookChannel) Send(ctx context.Context, evt Event) error {
	body, err := json.Marshal(webhookPayload{
		Type:      evt.Type,
		Title:     evt.Title,
		Body:      evt.Body,
		Severity:  evt.Severity,
		ProductID: evt.ProductID,
		TestID:    evt.TestID,
		URL:       evt.URL,
		Metadata:  evt.Metadata,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	var headers map[string]string
	if w.cfg.Secret != "" {
		headers = map[string]string{SignatureHeader: "sha256=" + Sign(w.cfg.Secret, body)}
	}
	return w.post(ctx, "webhook", w.cfg.URL, body, headers)
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
