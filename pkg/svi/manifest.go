package svi

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Manifest describes one inference run and is written to settings.yaml.
type Manifest struct {
	RunID     string                 `yaml:"run_id"`
	StartedAt time.Time              `yaml:"started_at"`
	Network   string                 `yaml:"network"`
	Nodes     int                    `yaml:"nodes"`
	Links     int                    `yaml:"links"`
	Samples   map[string]SampleCount `yaml:"samples"`
	Settings  map[string]interface{} `yaml:"settings"`
}

// SampleCount is the label balance of one sample set.
type SampleCount struct {
	Zeros int `yaml:"zeros"`
	Ones  int `yaml:"ones"`
}

// NewManifest creates a manifest with a fresh run ID.
func NewManifest(network string, cfg *Config) *Manifest {
	return &Manifest{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Network:   network,
		Samples:   make(map[string]SampleCount),
		Settings:  cfg.AllSettings(),
	}
}

// Write stores the manifest as dir/settings.yaml.
func (m *Manifest) Write(dir string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	path := filepath.Join(dir, "settings.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadManifest loads a settings.yaml written by Write.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &m, nil
}
