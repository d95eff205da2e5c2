// Package config provides configuration loading and management for Semflow.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/semflow/engine"
)

// Config represents the complete Semflow configuration
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	NATS     NATSConfig     `yaml:"nats"`
	Signals  SignalsConfig  `yaml:"signals"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Phases   []PhaseConfig  `yaml:"phases"`
}

// EngineConfig configures the orchestrator engine
type EngineConfig struct {
	// AgentCapacity is how many tasks one agent may run concurrently
	AgentCapacity int `yaml:"agent_capacity"`
	// SaveRetries is how many times a failing snapshot save is retried
	SaveRetries int `yaml:"save_retries"`
	// SubscriberBuffer is the per-subscriber event channel depth
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// SnapshotConfig configures durable state storage
type SnapshotConfig struct {
	// Backend selects the store: "file" or "kv"
	Backend string `yaml:"backend"`
	// Path is the snapshot file location (file backend)
	Path string `yaml:"path"`
	// Bucket is the JetStream KV bucket name (kv backend)
	Bucket string `yaml:"bucket"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
}

// SignalsConfig configures the validation signal watcher
type SignalsConfig struct {
	// Dir is the directory watched for validation signal files
	Dir string `yaml:"dir"`
	// Debounce is how long to wait for a signal file to settle
	Debounce time.Duration `yaml:"debounce"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Enabled controls whether the metrics endpoint is served
	Enabled bool `yaml:"enabled"`
	// Addr is the listen address for the metrics endpoint
	Addr string `yaml:"addr"`
}

// PhaseConfig overrides one built-in phase definition
type PhaseConfig struct {
	ID         int               `yaml:"id"`
	Name       string            `yaml:"name"`
	Milestones []MilestoneConfig `yaml:"milestones"`
}

// MilestoneConfig names one milestone of an overridden phase
type MilestoneConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Backend names for SnapshotConfig
const (
	BackendFile = "file"
	BackendKV   = "kv"
)

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			AgentCapacity:    1,
			SaveRetries:      3,
			SubscriberBuffer: 64,
		},
		Snapshot: SnapshotConfig{
			Backend: BackendFile,
			Path:    ".semflow/state.json",
			Bucket:  "SEMFLOW_STATE",
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Signals: SignalsConfig{
			Dir:      ".semflow/signals",
			Debounce: 500 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9100",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Engine.AgentCapacity < 1 {
		return fmt.Errorf("engine.agent_capacity must be at least 1")
	}
	if c.Engine.SaveRetries < 1 {
		return fmt.Errorf("engine.save_retries must be at least 1")
	}
	switch c.Snapshot.Backend {
	case BackendFile:
		if c.Snapshot.Path == "" {
			return fmt.Errorf("snapshot.path is required for the file backend")
		}
	case BackendKV:
		if c.Snapshot.Bucket == "" {
			return fmt.Errorf("snapshot.bucket is required for the kv backend")
		}
	default:
		return fmt.Errorf("snapshot.backend must be %q or %q", BackendFile, BackendKV)
	}
	if len(c.Phases) > 0 {
		if len(c.Phases) != engine.PhaseCount {
			return fmt.Errorf("phases must define all %d phases or none", engine.PhaseCount)
		}
		for i, p := range c.Phases {
			if p.ID != i {
				return fmt.Errorf("phases[%d].id must be %d", i, i)
			}
			if p.Name == "" {
				return fmt.Errorf("phases[%d].name is required", i)
			}
			if len(p.Milestones) == 0 {
				return fmt.Errorf("phases[%d] must define at least one milestone", i)
			}
		}
	}
	return nil
}

// EnginePhases converts the phase overrides into engine definitions.
// With no overrides it returns nil so the engine uses its defaults.
func (c *Config) EnginePhases() ([]engine.Phase, []engine.Milestone) {
	if len(c.Phases) == 0 {
		return nil, nil
	}
	phases := make([]engine.Phase, 0, len(c.Phases))
	var milestones []engine.Milestone
	for _, p := range c.Phases {
		phase := engine.Phase{ID: p.ID, Name: p.Name}
		for _, m := range p.Milestones {
			phase.Milestones = append(phase.Milestones, m.ID)
			milestones = append(milestones, engine.Milestone{
				ID:     m.ID,
				Name:   m.Name,
				Phase:  p.ID,
				Status: engine.MilestonePending,
			})
		}
		phases = append(phases, phase)
	}
	return phases, milestones
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Engine
	if other.Engine.AgentCapacity != 0 {
		c.Engine.AgentCapacity = other.Engine.AgentCapacity
	}
	if other.Engine.SaveRetries != 0 {
		c.Engine.SaveRetries = other.Engine.SaveRetries
	}
	if other.Engine.SubscriberBuffer != 0 {
		c.Engine.SubscriberBuffer = other.Engine.SubscriberBuffer
	}

	// Snapshot
	if other.Snapshot.Backend != "" {
		c.Snapshot.Backend = other.Snapshot.Backend
	}
	if other.Snapshot.Path != "" {
		c.Snapshot.Path = other.Snapshot.Path
	}
	if other.Snapshot.Bucket != "" {
		c.Snapshot.Bucket = other.Snapshot.Bucket
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}

	// Signals
	if other.Signals.Dir != "" {
		c.Signals.Dir = other.Signals.Dir
	}
	if other.Signals.Debounce != 0 {
		c.Signals.Debounce = other.Signals.Debounce
	}

	// Metrics
	if other.Metrics.Enabled {
		c.Metrics.Enabled = true
	}
	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}

	// Phases
	if len(other.Phases) > 0 {
		c.Phases = other.Phases
	}
}
