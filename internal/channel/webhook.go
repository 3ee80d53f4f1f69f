package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	webhook "github.com/standard-webhooks/standard-webhooks/libraries/go"
)

type WebhookConfig struct {
	URL string
	// Secret enables Standard Webhooks signing (whsec_<base64>).
	Secret   string
	Template string
	Timeout  time.Duration
	Client   *http.Client
}

// webhookPayload is the JSON body posted to generic webhooks.
type webhookPayload struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Priority  string         `json:"priority"`
	ServerID  string         `json:"server_id,omitempty"`
	Message   string         `json:"message"`
	Text      string         `json:"text"`
	Timestamp int64          `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type webhookChannel struct {
	cfg    WebhookConfig
	tpl    *Template
	signer *webhook.Webhook
	// signErr is kept so Validate can report a bad secret without
	// revealing it.
	signErr error
}

func NewWebhook(cfg WebhookConfig) Channel {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	c := &webhookChannel{cfg: cfg, tpl: templateFor(Webhook, cfg.Template)}
	if s := strings.TrimSpace(cfg.Secret); s != "" {
		c.signer, c.signErr = webhook.NewWebhook(s)
	}
	return c
}

func (c *webhookChannel) Name() string           { return Webhook }
func (c *webhookChannel) Timeout() time.Duration { return c.cfg.Timeout }

func (c *webhookChannel) Validate() error {
	if strings.TrimSpace(c.cfg.URL) == "" {
		return missing(Webhook, "WEBHOOK_URL")
	}
	if c.signErr != nil {
		return &ConfigError{Channel: Webhook, Field: "WEBHOOK_SECRET", Msg: "not a valid signing secret"}
	}
	return nil
}

func (c *webhookChannel) Send(ctx context.Context, msg Message) error {
	if err := c.Validate(); err != nil {
		return err
	}
	at := msg.At
	if at.IsZero() {
		at = time.Now()
	}
	body, err := json.Marshal(webhookPayload{
		ID:        msg.EntryID,
		Type:      msg.Type,
		Priority:  msg.Priority,
		ServerID:  msg.ServerID,
		Message:   msg.Text,
		Text:      c.tpl.Render(msg),
		Timestamp: at.Unix(),
		Metadata:  msg.Metadata,
	})
	if err != nil {
		return fmt.Errorf("%s: encode payload: %w", Webhook, err)
	}

	var h http.Header
	if c.signer != nil {
		msgID := msg.EntryID
		if msgID == "" {
			msgID = uuid.NewString()
		}
		now := time.Now()
		sig, err := c.signer.Sign(msgID, now, body)
		if err != nil {
			return fmt.Errorf("%s: sign payload: %w", Webhook, err)
		}
		h = http.Header{}
		h.Set(webhook.HeaderWebhookID, msgID)
		h.Set(webhook.HeaderWebhookTimestamp, strconv.FormatInt(now.Unix(), 10))
		h.Set(webhook.HeaderWebhookSignature, sig)
	}
	return postBody(ctx, c.cfg.Client, Webhook, c.cfg.URL, "application/json", body, h, nil)
}
