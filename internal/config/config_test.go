package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestGeneratedTemplateParses(t *testing.T) {
	path := Path(t.TempDir())
	require.NoError(t, os.WriteFile(path, []byte(GenerateDefault()), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, time.Second, cfg.Sync.PollInterval)
	require.Equal(t, "/v0", cfg.Server.BasePath)
	require.NoError(t, cfg.Validate())
}

func TestFromYAMLKeepsUnsetDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("auth:\n  jwt_secret: s3\n  authorized_domains: [x.io]\nsync:\n  poll_interval: 250ms\n"))
	require.NoError(t, err)
	require.Equal(t, "s3", cfg.Auth.JWTSecret)
	require.Equal(t, []string{"x.io"}, cfg.Auth.AuthorizedDomains)
	require.Equal(t, 250*time.Millisecond, cfg.Sync.PollInterval)
	require.Equal(t, DefaultAddr, cfg.Server.Addr)
}

func TestOverlayFromEnv(t *testing.T) {
	t.Setenv("TEAMDECK_AUTH_JWT_SECRET", "from-env")
	t.Setenv("TEAMDECK_AUTH_AUTHORIZED_DOMAINS", "a.io, b.io")
	t.Setenv("TEAMDECK_SYNC_POLL_INTERVAL", "3s")
	v := viper.New()
	BindEnv(v)

	cfg := Default()
	cfg.Server.Addr = "0.0.0.0:9000"
	cfg.Overlay(v)
	require.Equal(t, "from-env", cfg.Auth.JWTSecret)
	require.Equal(t, []string{"a.io", "b.io"}, cfg.Auth.AuthorizedDomains)
	require.Equal(t, 3*time.Second, cfg.Sync.PollInterval)
	require.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"log level": func(c *Config) { c.LogLevel = "loud" },
		"addr":      func(c *Config) { c.Server.Addr = "" },
		"base path": func(c *Config) { c.Server.BasePath = "v0" },
		"interval":  func(c *Config) { c.Sync.PollInterval = 0 },
		"domain":    func(c *Config) { c.Auth.AuthorizedDomains = []string{"me@x.io"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestInvalidYAML(t *testing.T) {
	_, err := FromYAML([]byte("auth: ["))
	require.Error(t, err)
}
