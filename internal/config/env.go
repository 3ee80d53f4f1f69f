package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"alertrelay/internal/channel"
	"alertrelay/internal/debounce"
	"alertrelay/internal/processor"
	"alertrelay/internal/storage"
	logx "alertrelay/pkg/logx"

	"github.com/joho/godotenv"
)

// Load reads envFile (if it exists) into the process environment without
// overriding keys that are already set, then resolves Config from it.
func Load(envFile string) (*Config, error) {
	if f := strings.TrimSpace(envFile); f != "" {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv), nil
}

// FromMap resolves Config from a fixed set of values.
func FromMap(m map[string]string) *Config {
	return FromLookup(func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	})
}

// FromLookup resolves Config using lookup for every key.
func FromLookup(lookup func(string) (string, bool)) *Config {
	e := &env{lookup: lookup}
	cfg := &Config{
		Pipeline:   loadPipeline(e),
		Store:      loadStore(e),
		Thresholds: loadThresholds(e),
		Channels:   loadChannels(e),
		Server: Server{
			Addr:            e.str("HTTP_ADDR", ":8080"),
			ScanSchedule:    e.str("SCAN_SCHEDULE", "@every 1m"),
			ShutdownTimeout: e.duration("SHUTDOWN_TIMEOUT", 10*time.Second, time.Second),
			PprofAddr:       e.str("PPROF_ADDR", ""),
		},
		MQTT: MQTT{
			Broker:   e.str("MQTT_BROKER", ""),
			Topic:    e.str("MQTT_TOPIC", "alertrelay/events"),
			ClientID: e.str("MQTT_CLIENT_ID", "alertrelay"),
			Username: e.str("MQTT_USERNAME", ""),
			Password: e.str("MQTT_PASSWORD", ""),
			QoS:      byte(e.bounded("MQTT_QOS", 1, 0, 2)),
		},
		Log: logx.Config{
			Level:  e.str("LOG_LEVEL", "info"),
			Format: logFormat(e),
			File: logx.FileConfig{
				Path:       e.str("LOG_FILE", ""),
				MaxSizeMB:  e.integer("LOG_MAX_SIZE_MB", 50),
				MaxBackups: e.integer("LOG_MAX_BACKUPS", 5),
			},
		},
		RulesFile: e.str("RULES_FILE", ""),
	}
	cfg.Warnings = e.warnings
	return cfg
}

func loadPipeline(e *env) Pipeline {
	p := Pipeline{
		Channels:         e.names("ALERT_CHANNELS", nil),
		Domains:          e.names("ALERT_DOMAINS", []string{processor.DomainCPU, processor.DomainMemory, processor.DomainDisk}),
		DryRun:           e.boolean("DRY_RUN", false),
		DebounceWindow:   e.duration("DEBOUNCE_WINDOW_SECONDS", debounce.DefaultWindow, time.Second),
		DebounceKey:      strings.ToLower(e.str("DEBOUNCE_KEY", debounce.KeyType)),
		BreakerThreshold: e.integer("CIRCUIT_BREAKER_THRESHOLD", channel.DefaultThreshold),
		BreakerCooldown:  e.duration("CIRCUIT_BREAKER_COOLDOWN", 0, time.Second),
		RatePerSec:       e.float("CHANNEL_RATE_PER_SEC", 5),
		PromoteAfter:     e.duration("QUEUE_PROMOTE_AFTER", time.Hour, time.Second),
		BackupDir:        e.str("QUEUE_BACKUP_DIR", ""),
		BackupKeep:       e.integer("QUEUE_BACKUP_KEEP", 7),
	}
	if raw, ok := e.lookup("ALERT_REQUIRE"); ok {
		p.Require = lower(splitList(raw))
		if len(p.Require) == 1 && strings.EqualFold(p.Require[0], "none") {
			p.Require = []string{}
		}
		if p.Require == nil {
			p.Require = []string{}
		}
	}
	if p.DebounceKey != debounce.KeyType && p.DebounceKey != debounce.KeyTypeServer {
		e.warn("DEBOUNCE_KEY", p.DebounceKey, debounce.KeyType)
		p.DebounceKey = debounce.KeyType
	}
	for _, n := range p.Channels {
		if !slices.Contains(channel.Known, n) {
			e.warnings = append(e.warnings, fmt.Sprintf("ALERT_CHANNELS: unknown channel %q", n))
		}
	}
	return p
}

func loadStore(e *env) storage.Config {
	return storage.Config{
		Driver:      strings.ToLower(e.str("STORE_DRIVER", "file")),
		Path:        e.str("STORE_PATH", "./data/alertrelay"),
		DSN:         e.str("STORE_DSN", ""),
		LockTimeout: e.duration("LOCK_TIMEOUT_SECONDS", 5*time.Second, time.Second),
		AuditMax:    e.integer("AUDIT_MAX", 100),
		AuditKeep:   e.integer("AUDIT_KEEP", 50),
	}
}

func loadThresholds(e *env) map[string]processor.Threshold {
	out := make(map[string]processor.Threshold, 3)
	for _, d := range []string{processor.DomainCPU, processor.DomainMemory, processor.DomainDisk} {
		key := strings.ToUpper(d)
		out[d] = processor.Threshold{
			Critical: e.percent(key+"_THRESHOLD", processor.DefaultCritical),
			Warning:  e.percent(key+"_WARN", 0),
		}
	}
	return out
}

func loadChannels(e *env) channel.Settings {
	retries := e.integer("RETRY_COUNT", 2)
	if retries < 0 {
		e.warn("RETRY_COUNT", strconv.Itoa(retries), "2")
		retries = 2
	}
	return channel.Settings{
		Email: channel.EmailConfig{
			Host:     e.str("SMTP_HOST", ""),
			Port:     e.integer("SMTP_PORT", 587),
			User:     e.str("SMTP_USER", ""),
			Password: e.str("SMTP_PASSWORD", ""),
			From:     e.str("SMTP_FROM", ""),
			To:       e.list("ALERT_EMAIL_TO", nil),
		},
		Slack:   channel.SlackConfig{WebhookURL: e.str("SLACK_WEBHOOK_URL", "")},
		Discord: channel.DiscordConfig{WebhookURL: e.str("DISCORD_WEBHOOK_URL", "")},
		Telegram: channel.TelegramConfig{
			Token:  e.str("TELEGRAM_BOT_TOKEN", ""),
			ChatID: e.str("TELEGRAM_CHAT_ID", ""),
		},
		SMS: channel.SMSConfig{
			AccountSID: e.str("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  e.str("TWILIO_AUTH_TOKEN", ""),
			From:       e.str("TWILIO_FROM", ""),
			To:         e.list("ALERT_SMS_TO", nil),
			APIBase:    e.str("TWILIO_API_BASE", ""),
			Retries:    retries,
			Backoff:    e.duration("RETRY_BACKOFF_SECONDS", 2*time.Second, time.Second),
		},
		Webhook: channel.WebhookConfig{
			URL:    e.str("WEBHOOK_URL", ""),
			Secret: e.str("WEBHOOK_SECRET", ""),
		},
	}
}

// env reads typed values and records a warning for every value it had to
// replace with the default.
type env struct {
	lookup   func(string) (string, bool)
	warnings []string
}

func (e *env) warn(key, raw, def string) {
	e.warnings = append(e.warnings, fmt.Sprintf("%s: invalid value %q, using %s", key, raw, def))
}

func (e *env) str(key, def string) string {
	if v, ok := e.lookup(key); ok {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return def
}

func (e *env) integer(key string, def int) int {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.warn(key, raw, strconv.Itoa(def))
		return def
	}
	return n
}

func (e *env) bounded(key string, def, lo, hi int) int {
	n := e.integer(key, def)
	if n < lo || n > hi {
		e.warn(key, strconv.Itoa(n), strconv.Itoa(def))
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.warn(key, raw, strconv.FormatFloat(def, 'g', -1, 64))
		return def
	}
	return f
}

func (e *env) percent(key string, def float64) float64 {
	f := e.float(key, def)
	if f < 0 || f > 100 {
		e.warn(key, strconv.FormatFloat(f, 'g', -1, 64), strconv.FormatFloat(def, 'g', -1, 64))
		return def
	}
	return f
}

func (e *env) boolean(key string, def bool) bool {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		e.warn(key, raw, strconv.FormatBool(def))
		return def
	}
	return b
}

func (e *env) duration(key string, def, unit time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	d, err := parseDuration(key, raw, unit)
	if err != nil {
		e.warn(key, raw, def.String())
		return def
	}
	return d
}

func (e *env) list(key string, def []string) []string {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	return splitList(raw)
}

func (e *env) names(key string, def []string) []string {
	return lower(e.list(key, def))
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func lower(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.ToLower(v)
	}
	return out
}

// Names splits a comma separated list of channel or domain names and
// lowercases them.
func Names(raw string) []string { return lower(splitList(raw)) }

// List splits a comma separated list, keeping case.
func List(raw string) []string { return splitList(raw) }

func logFormat(e *env) string {
	raw := e.str("LOG_FORMAT", logx.FormatConsole)
	switch f := strings.ToLower(raw); f {
	case logx.FormatConsole, logx.FormatJSON:
		return f
	default:
		e.warn("LOG_FORMAT", raw, logx.FormatConsole)
		return logx.FormatConsole
	}
}
