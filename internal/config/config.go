package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models autdao.yml. All of it is deployment-time state: the
// governance weight table and registry admin set are read once at startup
// and never mutated afterwards.
type Config struct {
	DAO struct {
		ID string `yaml:"id"`
	} `yaml:"dao"`
	Governance struct {
		RoleWeights map[int]uint64 `yaml:"role_weights"`
	} `yaml:"governance"`
	Registry struct {
		Admins []string `yaml:"admins"`
	} `yaml:"registry"`
	Auth struct {
		JWTSecret           string `yaml:"jwt_secret"`
		AllowIdentityHeader bool   `yaml:"allow_identity_header"`
	} `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig describes one external indexer endpoint fed from the event
// log.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Governance.RoleWeights) == 0 {
		return fmt.Errorf("config.governance.role_weights is required")
	}
	for role, weight := range c.Governance.RoleWeights {
		if role < 0 {
			return fmt.Errorf("role weight for negative role %d", role)
		}
		if role == 0 && weight != 0 {
			return fmt.Errorf("role 0 must weigh 0, got %d", weight)
		}
	}
	for _, admin := range c.Registry.Admins {
		if admin == "" {
			return fmt.Errorf("config.registry.admins contains empty identity")
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// IsRegistryAdmin reports whether the identity may register plugin
// definitions globally.
func (c *Config) IsRegistryAdmin(identity string) bool {
	for _, admin := range c.Registry.Admins {
		if admin == identity {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "autdao.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run autd init or pass --config", Path(workspace))
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
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

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `dao:
  id: ""

governance:
  # role -> vote weight; unknown roles weigh 0
  role_weights:
    1: 10
    2: 21
    3: 18

registry:
  admins: [deployer]

auth:
  jwt_secret: ""
  allow_identity_header: true
`
