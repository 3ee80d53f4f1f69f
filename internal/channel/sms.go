package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const DefaultTwilioBase = "https://api.twilio.com"

type SMSConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	To         []string
	// APIBase overrides the Twilio endpoint (tests, compatible providers).
	APIBase string

	Retries int
	Backoff time.Duration
	// Timeout bounds one attempt.
	Timeout  time.Duration
	Template string
	Client   *http.Client
}

// smsChannel posts to a Twilio-compatible Messages endpoint. Each
// recipient gets a bounded constant-backoff retry before the failure is
// reported, so the breaker sees one failure per exhausted retry loop.
type smsChannel struct {
	cfg SMSConfig
	tpl *Template
}

func NewSMS(cfg SMSConfig) Channel {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.APIBase) == "" {
		cfg.APIBase = DefaultTwilioBase
	}
	return &smsChannel{cfg: cfg, tpl: templateFor(SMS, cfg.Template)}
}

func (c *smsChannel) Name() string { return SMS }

// Timeout covers every attempt and the waits between them for every
// recipient, since recipients are sent to in turn.
func (c *smsChannel) Timeout() time.Duration {
	n := time.Duration(c.cfg.Retries + 1)
	per := n*c.cfg.Timeout + time.Duration(c.cfg.Retries)*c.cfg.Backoff
	return time.Duration(max(1, len(c.cfg.To))) * per
}

func (c *smsChannel) Validate() error {
	switch {
	case strings.TrimSpace(c.cfg.AccountSID) == "":
		return missing(SMS, "TWILIO_ACCOUNT_SID")
	case strings.TrimSpace(c.cfg.AuthToken) == "":
		return missing(SMS, "TWILIO_AUTH_TOKEN")
	case strings.TrimSpace(c.cfg.From) == "":
		return missing(SMS, "TWILIO_FROM")
	case len(c.cfg.To) == 0:
		return missing(SMS, "ALERT_SMS_TO")
	}
	return nil
}

func (c *smsChannel) endpoint() string {
	return strings.TrimRight(c.cfg.APIBase, "/") + "/2010-04-01/Accounts/" + url.PathEscape(c.cfg.AccountSID) + "/Messages.json"
}

func (c *smsChannel) Send(ctx context.Context, msg Message) error {
	if err := c.Validate(); err != nil {
		return err
	}
	body := c.tpl.Render(msg)
	var errs []error
	for _, to := range c.cfg.To {
		if err := c.sendOne(ctx, to, body); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	var te *TransportError
	if len(errs) == 1 && errors.As(errs[0], &te) {
		return te
	}
	return &TransportError{Channel: SMS, Attempts: c.cfg.Retries + 1, Err: errors.Join(errs...)}
}

func (c *smsChannel) sendOne(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.cfg.From)
	form.Set("Body", body)

	attempts := 0
	op := func() error {
		attempts++
		actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		err := postForm(actx, c.cfg.Client, SMS, c.endpoint(), form, c.cfg.AccountSID, c.cfg.AuthToken)
		var te *TransportError
		// 4xx other than 429 will not get better on retry.
		if errors.As(err, &te) && te.Status >= 400 && te.Status < 500 && te.Status != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		if IsConfigError(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.Backoff), uint64(c.cfg.Retries)), ctx)
	err := backoff.Retry(op, b)
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		te.Attempts = attempts
		return te
	}
	if IsConfigError(err) {
		return err
	}
	return &TransportError{Channel: SMS, Attempts: attempts, Err: fmt.Errorf("after %d attempts: %w", attempts, err)}
}
