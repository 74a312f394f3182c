package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models bookline.yml.
type Config struct {
	Organization struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"organization"`
	Scheduling struct {
		DefaultTimezone    string `yaml:"default_timezone"`
		MaxSeriesInstances int    `yaml:"max_series_instances"`
	} `yaml:"scheduling"`
	ResourceTypes struct {
		Catalog map[string]ResourceTypeSeed `yaml:"catalog"`
	} `yaml:"resource_types"`
}

// ResourceTypeSeed seeds a resource type and its booking default when an
// organization is initialized.
type ResourceTypeSeed struct {
	Description string `yaml:"description"`
	Blockable   bool   `yaml:"blockable"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with bl org config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Organization.ID == "" {
		return fmt.Errorf("config.organization.id is required")
	}
	if c.Scheduling.DefaultTimezone != "" {
		if _, err := time.LoadLocation(c.Scheduling.DefaultTimezone); err != nil {
			return fmt.Errorf("config.scheduling.default_timezone: %w", err)
		}
	}
	if c.Scheduling.MaxSeriesInstances <= 0 {
		return fmt.Errorf("config.scheduling.max_series_instances must be positive")
	}
	for name := range c.ResourceTypes.Catalog {
		if name == "" {
			return fmt.Errorf("config.resource_types.catalog contains empty type name")
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "bookline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(orgID string) string {
	return fmt.Sprintf(defaultTemplate, orgID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an organization.
func Default(orgID string) *Config {
	var cfg Config
	cfg.Organization.ID = orgID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, orgID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `organization:
  id: %s
  name: Default Organization

scheduling:
  default_timezone: UTC
  max_series_instances: 366

resource_types:
  catalog:
    room:
      description: "Meeting or production rooms; one task at a time"
      blockable: true
    machine:
      description: "Machines that can only run one job at a time"
      blockable: true
    vehicle:
      description: "Vehicles booked for exclusive use"
      blockable: true
    tool:
      description: "Shared hand tools; no exclusive booking"
      blockable: false
    material:
      description: "Consumable stock tracked by quantity"
      blockable: false
`
