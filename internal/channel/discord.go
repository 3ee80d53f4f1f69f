package channel

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// Discord rejects content longer than this.
const discordMaxContent = 2000

type DiscordConfig struct {
	WebhookURL string
	Username   string
	Template   string
	Timeout    time.Duration
	Client     *http.Client
}

type discordChannel struct {
	cfg DiscordConfig
	tpl *Template
}

func NewDiscord(cfg DiscordConfig) Channel {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &discordChannel{cfg: cfg, tpl: templateFor(Discord, cfg.Template)}
}

func (c *discordChannel) Name() string           { return Discord }
func (c *discordChannel) Timeout() time.Duration { return c.cfg.Timeout }

func (c *discordChannel) Validate() error {
	if strings.TrimSpace(c.cfg.WebhookURL) == "" {
		return missing(Discord, "DISCORD_WEBHOOK_URL")
	}
	return nil
}

func (c *discordChannel) Send(ctx context.Context, msg Message) error {
	if err := c.Validate(); err != nil {
		return err
	}
	content := c.tpl.Render(msg)
	if utf8.RuneCountInString(content) > discordMaxContent {
		r := []rune(content)
		content = string(r[:discordMaxContent-3]) + "..."
	}
	payload := map[string]any{"content": content}
	if c.cfg.Username != "" {
		payload["username"] = c.cfg.Username
	}
	return postJSON(ctx, c.cfg.Client, Discord, c.cfg.WebhookURL, payload, nil)
}
