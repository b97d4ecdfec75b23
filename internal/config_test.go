package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feetfirst/historyhub/internal/history"
	pkgconfig "github.com/feetfirst/historyhub/pkg/config"
)

func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Upstream.BaseURL = "https://api.feetfirst.example"
	return cfg
}

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled"}
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.AuthEnabled())
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, AuthModeDisabled, cfg.Mode)
}

func TestAuthConfig_TokenMode(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.AuthEnabled())

	cfg = AuthConfig{Mode: "token"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token is empty")
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults with base url", func(*Config) {}, false},
		{"missing base url", func(c *Config) { c.Upstream.BaseURL = "" }, true},
		{"malformed base url", func(c *Config) { c.Upstream.BaseURL = "not a url" }, true},
		{"bad port", func(c *Config) { c.App.HTTP.Port = 70000 }, true},
		{"unknown timezone", func(c *Config) { c.App.Timezone = "Mars/Olympus" }, true},
		{"utc timezone", func(c *Config) { c.App.Timezone = "UTC" }, false},
		{"remote delete", func(c *Config) { c.Notes.DeleteMode = history.DeleteModeRemote }, false},
		{"unknown delete mode", func(c *Config) { c.Notes.DeleteMode = "purge" }, true},
		{"page limit too large", func(c *Config) { c.Notes.PageLimit = 1000 }, true},
		{"negative timeout", func(c *Config) { c.Upstream.Timeout = -time.Second }, true},
		{"missing sqlite path", func(c *Config) { c.SQLite.Path = "" }, true},
		{"missing export path", func(c *Config) { c.Export.Path = "" }, true},
		{"token auth without token", func(c *Config) { c.Auth.Mode = AuthModeToken }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNotesConfig_EmptyDeleteModeDefaultsLocal(t *testing.T) {
	cfg := NotesConfig{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, history.DeleteModeLocal, cfg.DeleteMode)
}

func TestApplicationConfig_Location(t *testing.T) {
	cfg := ApplicationConfig{}
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	cfg.Timezone = "Europe/Berlin"
	loc, err = cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadFromYAML(t *testing.T) {
	t.Setenv("HISTORYHUB_TEST_TOKEN", "from-env")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  log_level: DEBUG
  timezone: UTC
  http:
    port: 9090
upstream:
  base_url: https://api.feetfirst.example
  token: ${HISTORYHUB_TEST_TOKEN}
  timeout: 3s
notes:
  page_limit: 25
  delete_mode: remote
sqlite:
  path: ./test.db
export:
  path: ./out
auth:
  mode: token
  token: abc
`), 0o644))

	cfg := NewDefaultConfig()
	require.NoError(t, pkgconfig.Load(path, cfg))

	assert.Equal(t, slog.LevelDebug, cfg.App.LogLevel)
	assert.Equal(t, ":9090", cfg.App.HTTP.Address())
	assert.Equal(t, "from-env", cfg.Upstream.Token)
	assert.Equal(t, 3*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 25, cfg.Notes.PageLimit)
	assert.Equal(t, history.DeleteModeRemote, cfg.Notes.DeleteMode)
	assert.True(t, cfg.Auth.AuthEnabled())
}
