package channel

import (
	"context"
	"crypto/tls"
	"net/mail"
	"strings"
	"time"

	logx "alertrelay/pkg/logx"

	gomail "github.com/wneessen/go-mail"
)

type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       []string

	Subject  string
	Template string
	Timeout  time.Duration
	// InsecureSkipVerify disables TLS certificate checks.
	InsecureSkipVerify bool
}

type emailChannel struct {
	cfg     EmailConfig
	subject *Template
	tpl     *Template
}

// implicitTLSPort speaks TLS from the first byte; every other port
// upgrades with STARTTLS when the server offers it.
const implicitTLSPort = 465

func NewEmail(cfg EmailConfig) Channel {
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	subj := cfg.Subject
	if strings.TrimSpace(subj) == "" {
		subj = DefaultEmailSubject
	}
	return &emailChannel{cfg: cfg, subject: MustTemplate(subj), tpl: templateFor(Email, cfg.Template)}
}

func (c *emailChannel) Name() string           { return Email }
func (c *emailChannel) Timeout() time.Duration { return c.cfg.Timeout }

func (c *emailChannel) Validate() error {
	switch {
	case strings.TrimSpace(c.cfg.Host) == "":
		return missing(Email, "SMTP_HOST")
	case strings.TrimSpace(c.cfg.From) == "":
		return missing(Email, "SMTP_FROM")
	case len(c.cfg.To) == 0:
		return missing(Email, "ALERT_EMAIL_TO")
	case c.cfg.User != "" && c.cfg.Password == "":
		return missing(Email, "SMTP_PASSWORD")
	}
	if _, err := mail.ParseAddress(c.cfg.From); err != nil {
		return &ConfigError{Channel: Email, Field: "SMTP_FROM", Msg: "not an email address"}
	}
	for _, to := range c.cfg.To {
		if _, err := mail.ParseAddress(to); err != nil {
			return &ConfigError{Channel: Email, Field: "ALERT_EMAIL_TO", Msg: "not an email address"}
		}
	}
	return nil
}

func (c *emailChannel) Send(ctx context.Context, msg Message) error {
	if err := c.Validate(); err != nil {
		return err
	}
	m, err := c.compose(msg)
	if err != nil {
		return err
	}
	cl, err := c.client()
	if err != nil {
		return &ConfigError{Channel: Email, Field: "SMTP_HOST", Msg: err.Error()}
	}
	if err := cl.DialAndSendWithContext(ctx, m); err != nil {
		if ctx.Err() != nil {
			return &TransportError{Channel: Email, Err: ctx.Err()}
		}
		return smtpError(err)
	}
	return nil
}

func (c *emailChannel) compose(msg Message) (*gomail.Msg, error) {
	m := gomail.NewMsg(gomail.WithEncoding(gomail.NoEncoding))
	if err := m.From(c.cfg.From); err != nil {
		return nil, &ConfigError{Channel: Email, Field: "SMTP_FROM", Msg: "not an email address"}
	}
	if err := m.To(c.cfg.To...); err != nil {
		return nil, &ConfigError{Channel: Email, Field: "ALERT_EMAIL_TO", Msg: "not an email address"}
	}
	m.Subject(strings.NewReplacer("\r", " ", "\n", " ").Replace(c.subject.Render(msg)))
	m.SetDate()
	m.SetBodyString(gomail.TypeTextPlain, c.tpl.Render(msg))
	return m, nil
}

func (c *emailChannel) client() (*gomail.Client, error) {
	opts := []gomail.Option{
		gomail.WithPort(c.cfg.Port),
		gomail.WithTimeout(c.cfg.Timeout),
		gomail.WithTLSConfig(&tls.Config{ServerName: c.cfg.Host, InsecureSkipVerify: c.cfg.InsecureSkipVerify}), //nolint:gosec
	}
	if c.cfg.Port == implicitTLSPort {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSOpportunistic))
	}
	if c.cfg.User != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(c.cfg.User),
			gomail.WithPassword(c.cfg.Password),
		)
	}
	return gomail.NewClient(c.cfg.Host, opts...)
}

// smtpError keeps the server's reply; replies never echo the password.
func smtpError(err error) error {
	return &TransportError{Channel: Email, Body: logx.Truncate(err.Error(), maxErrBody), Err: err}
}
