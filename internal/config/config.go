package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server ServerConfig `json:"server"`
	Memory MemoryConfig `json:"memory"`
	Clock  ClockConfig  `json:"clock"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type MemoryConfig struct {
	ActiveMaxSize      int     `json:"active_max_size"`
	MinWeightThreshold float64 `json:"min_weight_threshold"`

	// ArchiveBackend selects the durable store: "file" or "sqlite".
	ArchiveBackend string `json:"archive_backend"`
	ArchivePath    string `json:"archive_path"`

	SensoryCapacity int `json:"sensory_capacity"`

	SensoryToEpisodic     int     `json:"sensory_to_episodic"`
	EpisodicToSemantic    int     `json:"episodic_to_semantic"`
	SemanticToProcedural  int     `json:"semantic_to_procedural"`
	ConsolidationInterval float64 `json:"consolidation_interval"` // subjective seconds

	DecayFactor    float64 `json:"decay_factor"`
	DecayMinWeight float64 `json:"decay_min_weight"`
	ArchiveMaxAge  float64 `json:"archive_max_age"` // seconds

	// MaintenanceEvery is the tick cadence for skill automation and
	// pattern optimization.
	MaintenanceEvery int `json:"maintenance_every"`
}

type ClockConfig struct {
	TickInterval float64 `json:"tick_interval"` // wall seconds per tick
	Speed        float64 `json:"speed"`         // subjective seconds per wall second
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every field at its default.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	m := &c.Memory
	if m.ActiveMaxSize == 0 {
		m.ActiveMaxSize = 50
	}
	if m.MinWeightThreshold == 0 {
		m.MinWeightThreshold = 0.1
	}
	if m.ArchiveBackend == "" {
		m.ArchiveBackend = "file"
	}
	if m.ArchivePath == "" {
		m.ArchivePath = "data/archive.json"
	}
	if m.SensoryCapacity == 0 {
		m.SensoryCapacity = 100
	}
	if m.SensoryToEpisodic == 0 {
		m.SensoryToEpisodic = 3
	}
	if m.EpisodicToSemantic == 0 {
		m.EpisodicToSemantic = 5
	}
	if m.SemanticToProcedural == 0 {
		m.SemanticToProcedural = 10
	}
	if m.ConsolidationInterval == 0 {
		m.ConsolidationInterval = 3600
	}
	if m.DecayFactor == 0 {
		m.DecayFactor = 0.95
	}
	if m.DecayMinWeight == 0 {
		m.DecayMinWeight = 0.05
	}
	if m.ArchiveMaxAge == 0 {
		m.ArchiveMaxAge = 6 * 3600
	}
	if m.MaintenanceEvery == 0 {
		m.MaintenanceEvery = 60
	}
	if c.Clock.TickInterval == 0 {
		c.Clock.TickInterval = 1.0
	}
	if c.Clock.Speed == 0 {
		c.Clock.Speed = 1.0
	}
}
