// Package ingest feeds events from an MQTT topic into the pipeline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"alertrelay/internal/manager"
	logx "alertrelay/pkg/logx"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler runs one event; *manager.Manager implements it.
type Handler interface {
	Manage(ctx context.Context, raw []byte, label string) (*manager.Result, error)
}

type Config struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte

	// Buffer is the number of messages held while the worker is busy.
	// Messages beyond it are dropped. 0 means 64.
	Buffer int
	// Label is the context recorded in the audit log. Default "mqtt".
	Label          string
	ConnectTimeout time.Duration
}

// Subscriber consumes the topic on one worker so events are handled in
// arrival order without blocking the paho network loop.
type Subscriber struct {
	cfg  Config
	h    Handler
	log  logx.Logger
	msgs chan []byte

	mu        sync.RWMutex
	connected bool
}

func New(cfg Config, h Handler, log logx.Logger) *Subscriber {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.Label == "" {
		cfg.Label = "mqtt"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "alertrelay"
	}
	return &Subscriber{
		cfg:  cfg,
		h:    h,
		log:  log.With(logx.Component("mqtt")),
		msgs: make(chan []byte, cfg.Buffer),
	}
}

func brokerURL(b string) string {
	b = strings.TrimSpace(b)
	if !strings.Contains(b, "://") {
		b = "tcp://" + b
	}
	return b
}

func (s *Subscriber) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(s.cfg.Broker))
	opts.SetClientID(s.cfg.ClientID)
	opts.SetConnectTimeout(s.cfg.ConnectTimeout)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		s.log.Warn("mqtt connection lost", logx.Err(err))
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		s.log.Info("mqtt reconnecting")
	})
	return opts
}

// onConnect (re)subscribes; paho calls it after every reconnect.
func (s *Subscriber) onConnect(c mqtt.Client) {
	s.setConnected(true)
	tok := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.onMessage)
	if !tok.WaitTimeout(5 * time.Second) {
		s.log.Error("mqtt subscribe timed out", logx.String("topic", s.cfg.Topic))
		return
	}
	if err := tok.Error(); err != nil {
		s.log.Error("mqtt subscribe failed", logx.String("topic", s.cfg.Topic), logx.Err(err))
		return
	}
	s.log.Info("mqtt subscribed", logx.String("topic", s.cfg.Topic), logx.Int("qos", int(s.cfg.QoS)))
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *Subscriber) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Subscriber) onMessage(_ mqtt.Client, m mqtt.Message) {
	s.offer(m.Topic(), m.Payload())
}

// offer hands a payload to the worker, dropping it when the buffer is full.
func (s *Subscriber) offer(topic string, payload []byte) bool {
	b := append([]byte(nil), payload...)
	select {
	case s.msgs <- b:
		return true
	default:
		s.log.Warn("mqtt event dropped (worker busy)", logx.String("topic", topic), logx.Int("buffer", cap(s.msgs)))
		return false
	}
}

// Run connects and handles messages until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	if strings.TrimSpace(s.cfg.Broker) == "" || strings.TrimSpace(s.cfg.Topic) == "" {
		return errors.New("mqtt broker and topic are required")
	}
	c := mqtt.NewClient(s.options())
	s.log.Info("mqtt connecting", logx.String("broker", brokerURL(s.cfg.Broker)))
	tok := c.Connect()
	if !tok.WaitTimeout(s.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt connect timeout after %s", s.cfg.ConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	defer func() {
		c.Disconnect(250)
		s.setConnected(false)
		s.log.Info("mqtt disconnected")
	}()
	s.work(ctx)
	return nil
}

func (s *Subscriber) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-s.msgs:
			s.handle(ctx, raw)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, raw []byte) {
	res, err := s.h.Manage(ctx, raw, s.cfg.Label)
	switch {
	case err == nil:
		n := 0
		if res != nil {
			n = len(res.Entries)
		}
		s.log.Debug("mqtt event handled", logx.Int("entries", n))
	case manager.IsValidation(err):
		s.log.Warn("mqtt event rejected", logx.Err(err))
	default:
		s.log.Warn("mqtt event delivery incomplete", logx.Err(err))
	}
}
