package channel

import (
	"context"
	"net/http"
	"strings"
	"time"
)

type SlackConfig struct {
	WebhookURL string
	Template   string
	Timeout    time.Duration
	Client     *http.Client
}

// slackChannel posts to a Slack incoming webhook.
type slackChannel struct {
	cfg SlackConfig
	tpl *Template
}

func NewSlack(cfg SlackConfig) Channel {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &slackChannel{cfg: cfg, tpl: templateFor(Slack, cfg.Template)}
}

func (c *slackChannel) Name() string           { return Slack }
func (c *slackChannel) Timeout() time.Duration { return c.cfg.Timeout }

func (c *slackChannel) Validate() error {
	if strings.TrimSpace(c.cfg.WebhookURL) == "" {
		return missing(Slack, "SLACK_WEBHOOK_URL")
	}
	return nil
}

func (c *slackChannel) Send(ctx context.Context, msg Message) error {
	if err := c.Validate(); err != nil {
		return err
	}
	payload := map[string]any{"text": c.tpl.Render(msg)}
	return postJSON(ctx, c.cfg.Client, Slack, c.cfg.WebhookURL, payload, nil)
}
