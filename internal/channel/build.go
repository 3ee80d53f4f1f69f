package channel

import (
	"fmt"
	"strings"
)

// Settings carries the configuration for every backend. Only channels
// named in Build's list are constructed.
type Settings struct {
	Email    EmailConfig
	Slack    SlackConfig
	Discord  DiscordConfig
	Telegram TelegramConfig
	SMS      SMSConfig
	Webhook  WebhookConfig
}

// WithTemplates returns a copy of s with per-channel template overrides
// applied. Keys are channel names plus "email.subject".
func (s Settings) WithTemplates(t map[string]string) Settings {
	get := func(k, cur string) string {
		if v, ok := t[k]; ok && strings.TrimSpace(v) != "" {
			return v
		}
		return cur
	}
	s.Email.Template = get(Email, s.Email.Template)
	s.Email.Subject = get("email.subject", s.Email.Subject)
	s.Slack.Template = get(Slack, s.Slack.Template)
	s.Discord.Template = get(Discord, s.Discord.Template)
	s.Telegram.Template = get(Telegram, s.Telegram.Template)
	s.SMS.Template = get(SMS, s.SMS.Template)
	s.Webhook.Template = get(Webhook, s.Webhook.Template)
	return s
}

// New constructs the named backend.
func New(name string, s Settings) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Email:
		return NewEmail(s.Email), nil
	case Slack:
		return NewSlack(s.Slack), nil
	case Discord:
		return NewDiscord(s.Discord), nil
	case Telegram:
		return NewTelegram(s.Telegram), nil
	case SMS:
		return NewSMS(s.SMS), nil
	case Webhook:
		return NewWebhook(s.Webhook), nil
	default:
		return nil, fmt.Errorf("unknown channel %q", name)
	}
}

// Build registers every channel in names. Unknown names are returned as
// errors and skipped; the rest are still registered.
func Build(names []string, s Settings) (*Registry, []error) {
	reg := NewRegistry()
	var errs []error
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		ch, err := New(n, s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := reg.Register(ch); err != nil {
			errs = append(errs, err)
		}
	}
	return reg, errs
}

// Rebuild replaces every channel in reg with one built from s. Names that
// fail to build keep their current instance.
func Rebuild(reg *Registry, s Settings) []error {
	var errs []error
	for _, n := range reg.Names() {
		ch, err := New(n, s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		reg.Replace(ch)
	}
	return errs
}
