package config

import (
	"time"

	"alertrelay/internal/channel"
	"alertrelay/internal/processor"
	"alertrelay/internal/storage"
	logx "alertrelay/pkg/logx"
)

// Config is the fully resolved process configuration.
type Config struct {
	Pipeline   Pipeline
	Store      storage.Config
	Thresholds map[string]processor.Threshold
	Channels   channel.Settings
	Server     Server
	MQTT       MQTT
	Log        logx.Config

	// RulesFile is an optional YAML file with threshold and template overrides.
	RulesFile string

	// Warnings collects values that were rejected and replaced by defaults.
	Warnings []string
}

type Pipeline struct {
	Channels []string
	Domains  []string
	// Require is nil for the validator default; empty requires nothing.
	Require []string
	DryRun  bool

	DebounceWindow time.Duration
	DebounceKey    string

	BreakerThreshold int
	BreakerCooldown  time.Duration
	RatePerSec       float64

	PromoteAfter time.Duration
	BackupDir    string
	BackupKeep   int
}

type Server struct {
	Addr            string
	ScanSchedule    string
	ShutdownTimeout time.Duration
	// PprofAddr enables the debug listener when set.
	PprofAddr string
}

type MQTT struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Enabled reports whether MQTT ingest is configured.
func (m MQTT) Enabled() bool { return m.Broker != "" && m.Topic != "" }
