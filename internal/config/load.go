package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/imamik/branchenv/internal/cluster"
	"github.com/imamik/branchenv/internal/migration"
)

// DefaultConfigFilename is the default configuration filename.
const DefaultConfigFilename = "branchenv.yaml"

// Load loads, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, err
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// LoadFromBytes parses, defaults and validates a configuration.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Cluster.FieldManager == "" {
		c.Cluster.FieldManager = cluster.DefaultFieldManager
	}
	if c.Exposure.Provider == "" {
		c.Exposure.Provider = ExposureKubernetes
	}
	if c.Exposure.Provider == ExposureHCloud && c.Exposure.HCloud.LoadBalancerType == "" {
		c.Exposure.HCloud.LoadBalancerType = "lb11"
	}
	if c.Migration.Port == 0 {
		c.Migration.Port = 5432
	}
	if c.Migration.SSLMode == "" {
		c.Migration.SSLMode = "prefer"
	}
	if c.State.Backend == "" {
		c.State.Backend = StateMemory
	}
	if c.State.Backend == StateS3 && c.State.S3.Prefix == "" {
		c.State.S3.Prefix = "environments"
	}
	if c.Lock.Backend == "" {
		c.Lock.Backend = LockLocal
	}
	if c.Webhook.Addr == "" {
		c.Webhook.Addr = ":8080"
	}
}

// Resolve returns path relative to the directory of the config file.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}

// ReadTemplate reads the base template.
func (c *Config) ReadTemplate() ([]byte, error) {
	data, err := os.ReadFile(c.Resolve(c.Template.Path)) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read base template: %w", err)
	}
	return data, nil
}

// FindConfigFile searches the current directory and its parents for
// branchenv.yaml.
func FindConfigFile() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return findConfigFileFrom(cwd)
}

func findConfigFileFrom(dir string) (string, error) {
	for {
		path := filepath.Join(dir, DefaultConfigFilename)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("config file %s not found", DefaultConfigFilename)
}

// Changesets returns the configured changesets with directories resolved
// against the config file.
func (c *Config) Changesets() []migration.Changeset {
	out := make([]migration.Changeset, len(c.Migration.Changesets))
	for i, cs := range c.Migration.Changesets {
		out[i] = migration.Changeset{Name: cs.Name, Dir: c.Resolve(cs.Dir)}
	}
	return out
}
