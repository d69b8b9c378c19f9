package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config models dossierline.yml.
type Config struct {
	Storage  StorageConfig   `yaml:"storage"`
	Server   ServerConfig    `yaml:"server"`
	Portal   PortalConfig    `yaml:"portal"`
	Archive  ArchiveConfig   `yaml:"archive"`
	Log      LogConfig       `yaml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type StorageConfig struct {
	// Root holds uploaded content. Relative paths resolve against the workspace.
	Root           string `yaml:"root"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

type PortalConfig struct {
	BaseURL string `yaml:"base_url"`
}

type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Schedule  string `yaml:"schedule"`
	GraceDays int    `yaml:"grace_days"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Root) == "" {
		return fmt.Errorf("config.storage.root is required")
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("config.storage.max_upload_bytes must be positive")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Portal.BaseURL != "" {
		u, err := url.Parse(c.Portal.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config.portal.base_url must be an absolute URL")
		}
	}
	if c.Archive.GraceDays < 0 {
		return fmt.Errorf("config.archive.grace_days must not be negative")
	}
	if c.Archive.Enabled {
		if _, err := cronParser.Parse(c.Archive.Schedule); err != nil {
			return fmt.Errorf("config.archive.schedule: %w", err)
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config.log.level %q is not a level", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// StorageRoot returns the absolute content root for a workspace.
func (c *Config) StorageRoot(workspace string) string {
	if filepath.IsAbs(c.Storage.Root) {
		return c.Storage.Root
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, c.Storage.Root)
}

// PortalLink builds the trainee-facing link for a capability token.
func (c *Config) PortalLink(token string) string {
	if c.Portal.BaseURL == "" || token == "" {
		return ""
	}
	return strings.TrimRight(c.Portal.BaseURL, "/") + "/portal/" + url.PathEscape(token)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "dossierline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with dl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns Default() when the config file does not exist.
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

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses config over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `storage:
  root: uploads
  max_upload_bytes: 10485760

server:
  addr: 127.0.0.1:8080
  base_path: /v1

portal:
  base_url: ""

archive:
  enabled: false
  schedule: "@daily"
  grace_days: 30

log:
  level: info
  format: text

webhooks: []
`
