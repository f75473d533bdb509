package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rbx/ODC/internal/registry"
)

// Config is the root configuration for the odc-agent process: yaml-tagged,
// with a DefaultConfig constructor. LoadConfig overlays a YAML file on the
// defaults, applies registry.SetDefaults and registry.Validate to the
// Registry section, and checks the required NATS fields.
type Config struct {
	NATS     NATSConfig        `yaml:"nats"`
	Sessions SessionsConfig    `yaml:"sessions"`
	Devices  DevicesConfig     `yaml:"devices"`
	Plugins  map[string]string `yaml:"plugins"`
	WorkDir  string            `yaml:"workDir"`
	Registry registry.Config   `yaml:"registry"`
	Recovery RecoveryConfig    `yaml:"recovery"`
	Metrics  MetricsConfig     `yaml:"metrics"`
}

// MetricsConfig controls whether operation/topology/registry metrics are
// exported (github.com/prometheus/client_golang), or dropped by the no-op
// collector. Grounded on the teacher's test/simulation cfg.Metrics.Prometheus
// shape (Enabled + Port).
type MetricsConfig struct {
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

type PrometheusConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// RecoveryConfig gates nMin-based recovery (spec §4.4, §9(a)): the source
// shows this behavior partially disabled, so it defaults to off here too.
type RecoveryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// NATSConfig configures the connection this process uses for both worker
// liveness/session state (JetStream KV) and device command transport
// (core NATS pub/sub).
type NATSConfig struct {
	URL           string `yaml:"url"`
	SessionBucket string `yaml:"sessionBucket"`
	ClaimBucket   string `yaml:"claimBucket"`
}

// SessionsConfig configures the reference natsdds.Service deployment
// backend and session claim coordination.
type SessionsConfig struct {
	HeartbeatEvery time.Duration `yaml:"heartbeatEvery"`
	ClaimEnabled   bool          `yaml:"claimEnabled"`
}

// DevicesConfig configures the devicecmd.Client transport.
type DevicesConfig struct {
	ShardCount int `yaml:"shardCount"`
}

// DefaultConfig returns a Config with production-sensible defaults.
func DefaultConfig() Config {
	return Config{
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SessionBucket: "odc-sessions",
			ClaimBucket:   "odc-claims",
		},
		Sessions: SessionsConfig{
			HeartbeatEvery: 2 * time.Second,
			ClaimEnabled:   true,
		},
		Devices: DevicesConfig{
			ShardCount: 8,
		},
		WorkDir:  "/var/lib/odc-agent",
		Registry: registry.DefaultConfig(),
		Recovery: RecoveryConfig{Enabled: false},
		Metrics: MetricsConfig{
			Prometheus: PrometheusConfig{Enabled: false, Port: 9090},
		},
	}
}

// LoadConfig reads and parses a YAML configuration file, filling in
// defaults for anything left unset.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	registry.SetDefaults(&cfg.Registry)
	if err := cfg.Registry.Validate(); err != nil {
		return nil, fmt.Errorf("registry config: %w", err)
	}
	if cfg.NATS.URL == "" {
		return nil, fmt.Errorf("nats.url must be set")
	}
	if cfg.NATS.SessionBucket == "" {
		return nil, fmt.Errorf("nats.sessionBucket must be set")
	}

	return &cfg, nil
}
