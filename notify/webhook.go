package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/transport"
)

const (
	SignatureHeader = "X-Settlement-Signature"
	signaturePrefix = "sha256="
)

type WebhookChannelConfig struct {
	Name string
	URL  string
	// Secret signs the payload with HMAC-SHA256 when set.
	Secret      string
	MaxAttempts int
	Backoff     core.BackoffScheduler
	Adapter     core.TransportAdapter
	Timeout     time.Duration
}

// WebhookChannel posts a JSON notification to an HTTP endpoint, retrying
// server side failures.
type WebhookChannel struct {
	config WebhookChannelConfig
}

type webhookPayload struct {
	RecipientID string         `json:"recipient_id"`
	Subject     string         `json:"subject"`
	Body        string         `json:"body"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	SentAt      time.Time      `json:"sent_at"`
}

func NewWebhookChannel(cfg WebhookChannelConfig) *WebhookChannel {
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		cfg.Name = "webhook"
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.Backoff == nil {
		cfg.Backoff = core.ExponentialBackoffScheduler{Initial: 250 * time.Millisecond, Max: 2 * time.Second}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Adapter == nil {
		cfg.Adapter = transport.NewRESTAdapter(&http.Client{Timeout: cfg.Timeout})
	}
	return &WebhookChannel{config: cfg}
}

func (c *WebhookChannel) Name() string {
	return c.config.Name
}

func (c *WebhookChannel) Send(ctx context.Context, recipientID string, message Message) error {
	if c.config.URL == "" {
		return notifyBadInput("notify: webhook url is required", map[string]any{"channel": c.config.Name})
	}
	body, err := json.Marshal(webhookPayload{
		RecipientID: strings.TrimSpace(recipientID),
		Subject:     message.Subject,
		Body:        message.Body,
		Metadata:    message.Metadata,
		SentAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("notify: encode webhook payload: %w", err)
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if secret := strings.TrimSpace(c.config.Secret); secret != "" {
		headers[SignatureHeader] = signaturePrefix + Sign(secret, body)
	}

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		res, err := c.config.Adapter.Do(ctx, core.TransportRequest{
			Method:  http.MethodPost,
			URL:     c.config.URL,
			Headers: headers,
			Body:    body,
			Timeout: c.config.Timeout,
		})
		switch {
		case err != nil:
			lastErr = err
		case res.Successful():
			return nil
		case res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests:
			return transport.StatusError(c.config.Name, res)
		default:
			lastErr = transport.StatusError(c.config.Name, res)
		}
		if attempt < c.config.MaxAttempts {
			if waitErr := core.WaitWithContext(ctx, c.config.Backoff.NextDelay(attempt)); waitErr != nil {
				return waitErr
			}
		}
	}
	return lastErr
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header produced by a webhook channel.
func VerifySignature(secret string, body []byte, header string) bool {
	signature := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), signaturePrefix))
	decoded, err := hex.DecodeString(signature)
	if err != nil || strings.TrimSpace(secret) == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return subtle.ConstantTimeCompare(decoded, mac.Sum(nil)) == 1
}

var _ Channel = (*WebhookChannel)(nil)
