package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	FileName            = "teamdeck.yml"
	DefaultAddr         = "127.0.0.1:8080"
	DefaultBasePath     = "/v0"
	DefaultPollInterval = time.Second
	DefaultLogLevel     = "info"
)

// Config models teamdeck.yml.
type Config struct {
	LogLevel string `yaml:"log_level"`
	Auth     struct {
		JWTSecret         string   `yaml:"jwt_secret"`
		Issuer            string   `yaml:"issuer"`
		AuthorizedDomains []string `yaml:"authorized_domains"`
		Disabled          bool     `yaml:"disabled"`
	} `yaml:"auth"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Sync struct {
		PollInterval time.Duration `yaml:"poll_interval"`
	} `yaml:"sync"`
}

// Default returns a config with every default filled in.
func Default() *Config {
	var cfg Config
	cfg.LogLevel = DefaultLogLevel
	cfg.Server.Addr = DefaultAddr
	cfg.Server.BasePath = DefaultBasePath
	cfg.Sync.PollInterval = DefaultPollInterval
	return &cfg
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses config from raw YAML bytes over the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	return cfg, nil
}

// Overlay applies values that v knows about (flags and TEAMDECK_* variables)
// over the file values.
func (c *Config) Overlay(v *viper.Viper) {
	if v.IsSet("log_level") {
		c.LogLevel = v.GetString("log_level")
	}
	if v.IsSet("auth.jwt_secret") {
		c.Auth.JWTSecret = v.GetString("auth.jwt_secret")
	}
	if v.IsSet("auth.issuer") {
		c.Auth.Issuer = v.GetString("auth.issuer")
	}
	if v.IsSet("auth.authorized_domains") {
		c.Auth.AuthorizedDomains = stringList(v.Get("auth.authorized_domains"))
	}
	if v.IsSet("auth.disabled") {
		c.Auth.Disabled = v.GetBool("auth.disabled")
	}
	if v.IsSet("server.addr") {
		c.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.base_path") {
		c.Server.BasePath = v.GetString("server.base_path")
	}
	if v.IsSet("sync.poll_interval") {
		c.Sync.PollInterval = v.GetDuration("sync.poll_interval")
	}
}

// BindEnv registers the config keys with v so TEAMDECK_* variables are seen
// by IsSet.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("TEAMDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"log_level", "auth.jwt_secret", "auth.issuer", "auth.authorized_domains", "auth.disabled",
		"server.addr", "server.base_path", "sync.poll_interval",
	} {
		_ = v.BindEnv(key)
	}
}

func stringList(raw any) []string {
	var items []string
	switch val := raw.(type) {
	case string:
		items = strings.Split(val, ",")
	case []string:
		items = val
	case []any:
		for _, item := range val {
			items = append(items, fmt.Sprint(item))
		}
	}
	var out []string
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log_level must be one of debug, info, warn, error")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("config.sync.poll_interval must be positive")
	}
	for _, d := range c.Auth.AuthorizedDomains {
		if strings.Contains(d, "@") {
			return fmt.Errorf("config.auth.authorized_domains entry %q must be a domain, not an address", d)
		}
	}
	return nil
}

// GenerateDefault returns a commented starter file.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `# teamdeck configuration. Every key can be overridden with a TEAMDECK_*
# variable, e.g. TEAMDECK_AUTH_JWT_SECRET.
log_level: info

auth:
  # Shared HS256 secret of the identity provider.
  jwt_secret: ""
  issuer: ""
  # Leave empty to accept every email domain.
  authorized_domains: []
  disabled: false

server:
  addr: 127.0.0.1:8080
  base_path: /v0

sync:
  poll_interval: 1s
`
