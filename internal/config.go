package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/feetfirst/historyhub/internal/history"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Upstream UpstreamConfig    `yaml:"upstream"`
	Notes    NotesConfig       `yaml:"notes"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Export   ExportConfig      `yaml:"export"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("upstream: %w", err)
	}
	if err := c.Notes.Validate(); err != nil {
		return fmt.Errorf("notes: %w", err)
	}
	if err := c.SQLite.Validate(); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if err := c.Export.Validate(); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	// Timezone is an IANA zone name or "Local". Date keys are computed in it.
	Timezone string     `yaml:"timezone"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// Location resolves Timezone. An empty value means the local zone.
func (c *ApplicationConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// UpstreamConfig points at the FeetFirst REST API.
type UpstreamConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the upstream configuration.
func (c *UpstreamConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// NotesConfig holds aggregation settings.
type NotesConfig struct {
	PageLimit  int    `yaml:"page_limit"`
	DeleteMode string `yaml:"delete_mode"`
}

// Validate validates the notes configuration.
func (c *NotesConfig) Validate() error {
	if c.DeleteMode == "" {
		c.DeleteMode = history.DeleteModeLocal
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.PageLimit, validation.Min(1), validation.Max(500)),
		validation.Field(&c.DeleteMode, validation.In(history.DeleteModeLocal, history.DeleteModeRemote)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// ExportConfig holds the directory that receives Markdown exports.
type ExportConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the export configuration.
func (c *ExportConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			Timezone: "Local",
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Upstream: UpstreamConfig{
			Timeout: 15 * time.Second,
		},
		Notes: NotesConfig{
			PageLimit:  history.DefaultLimit,
			DeleteMode: history.DeleteModeLocal,
		},
		SQLite: SQLiteConfig{
			Path: "./historyhub.db",
		},
		Export: ExportConfig{
			Path: "./exports",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
