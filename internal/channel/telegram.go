package channel

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "alertrelay/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

type TelegramConfig struct {
	Token  string
	ChatID string
	// APIURL overrides the Bot API base URL (tests, local bot servers).
	APIURL   string
	Template string
	Timeout  time.Duration
	Client   *http.Client
}

// chatRecipient addresses a chat by numeric id or @username.
type chatRecipient string

func (r chatRecipient) Recipient() string { return string(r) }

type telegramChannel struct {
	cfg TelegramConfig
	tpl *Template

	once   sync.Once
	bot    *tele.Bot
	botErr error
}

func NewTelegram(cfg TelegramConfig) Channel {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &telegramChannel{cfg: cfg, tpl: templateFor(Telegram, cfg.Template)}
}

func (c *telegramChannel) Name() string           { return Telegram }
func (c *telegramChannel) Timeout() time.Duration { return c.cfg.Timeout }

func (c *telegramChannel) Validate() error {
	if strings.TrimSpace(c.cfg.Token) == "" {
		return missing(Telegram, "TELEGRAM_BOT_TOKEN")
	}
	if strings.TrimSpace(c.cfg.ChatID) == "" {
		return missing(Telegram, "TELEGRAM_CHAT_ID")
	}
	return nil
}

// client builds the bot lazily in offline mode so construction never
// touches the network.
func (c *telegramChannel) client() (*tele.Bot, error) {
	c.once.Do(func() {
		hc := c.cfg.Client
		if hc == nil {
			hc = &http.Client{Timeout: c.cfg.Timeout}
		}
		c.bot, c.botErr = tele.NewBot(tele.Settings{
			URL:     c.cfg.APIURL,
			Token:   c.cfg.Token,
			Client:  hc,
			Offline: true,
		})
	})
	return c.bot, c.botErr
}

func (c *telegramChannel) recipient() tele.Recipient {
	id := strings.TrimSpace(c.cfg.ChatID)
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return tele.ChatID(n)
	}
	return chatRecipient(id)
}

func (c *telegramChannel) Send(ctx context.Context, msg Message) error {
	if err := c.Validate(); err != nil {
		return err
	}
	bot, err := c.client()
	if err != nil {
		return &TransportError{Channel: Telegram, Err: errors.New("bot init failed")}
	}
	text := c.tpl.Render(msg)

	// telebot calls are not context-aware; the select bounds the wait.
	done := make(chan error, 1)
	go func() {
		_, err := bot.Send(c.recipient(), text, &tele.SendOptions{DisableWebPagePreview: true})
		done <- err
	}()
	select {
	case <-ctx.Done():
		return &TransportError{Channel: Telegram, Err: ctx.Err()}
	case err := <-done:
		return telegramError(err)
	}
}

// telegramError maps telebot errors. Bot API errors include the request
// URL (and so the token) in some paths, so only code and description are
// kept.
func telegramError(err error) error {
	if err == nil {
		return nil
	}
	var te *tele.Error
	if errors.As(err, &te) {
		return &TransportError{Channel: Telegram, Status: te.Code, Body: logx.Truncate(te.Description, maxErrBody)}
	}
	return &TransportError{Channel: Telegram, Err: errors.New(logx.Truncate(scrubToken(err.Error()), maxErrBody))}
}

func scrubToken(s string) string {
	if i := strings.Index(s, "/bot"); i >= 0 {
		end := strings.IndexAny(s[i+4:], "/ \"")
		if end < 0 {
			return s[:i] + "/bot****"
		}
		return s[:i] + "/bot****" + s[i+4+end:]
	}
	return s
}
