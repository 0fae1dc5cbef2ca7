package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CalendarConfig is one calendar a user exposed to the service: an opaque id
// used in API requests and persisted keys, and the provider's real id.
type CalendarConfig struct {
	UniqueID   string `yaml:"unique_id" json:"unique_id"`
	ProviderID string `yaml:"provider_id" json:"provider_id"`
	Name       string `yaml:"name" json:"name"`
}

// UserConfig holds one user's directory entry: refresh credential plus the
// calendars registered for them.
type UserConfig struct {
	ID           string           `yaml:"id" json:"id"`
	RefreshToken string           `yaml:"refresh_token" json:"refresh_token"`
	Calendars    []CalendarConfig `yaml:"calendars" json:"calendars"`
}

// ProviderConfig points at the external calendar provider's endpoints.
type ProviderConfig struct {
	BaseURL       string `yaml:"base_url" json:"base_url"`
	IntrospectURL string `yaml:"introspect_url" json:"introspect_url"`
	TokenURL      string `yaml:"token_url" json:"token_url"`
	ClientID      string `yaml:"client_id" json:"client_id"`
	ClientSecret  string `yaml:"client_secret" json:"client_secret"`
	PageSize      int    `yaml:"page_size" json:"page_size"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// StoreDSN selects the shift store backend (memory:// or postgres://).
	StoreDSN string `yaml:"store_dsn" json:"store_dsn"`

	Provider ProviderConfig `yaml:"provider" json:"provider"`

	// NameStrategy selects how the employee name is derived from an event
	// title: "exact" (whole title) or "first_token".
	NameStrategy string `yaml:"name_strategy" json:"name_strategy"`

	// ExcludeMarker marks recruitment/open-slot events that never count.
	ExcludeMarker string `yaml:"exclude_marker" json:"exclude_marker"`

	// Users is the calendar directory.
	Users []UserConfig `yaml:"users" json:"users"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		StoreDSN: "memory://",
		Provider: ProviderConfig{
			BaseURL:       "https://www.googleapis.com/calendar/v3",
			IntrospectURL: "https://www.googleapis.com/oauth2/v1/tokeninfo",
			TokenURL:      "https://oauth2.googleapis.com/token",
			PageSize:      250,
		},
		NameStrategy:  "exact",
		ExcludeMarker: "募集",
		Users:         []UserConfig{},
	}
}

// Load reads the config file at path. A missing file yields the defaults,
// written back so a first run leaves an editable template behind.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg := DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config with 0600 permissions; the file carries refresh
// credentials.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.StoreDSN == "" {
		return errors.New("store_dsn is required")
	}
	if c.Provider.PageSize < 0 || c.Provider.PageSize > 2500 {
		return fmt.Errorf("provider.page_size out of range: %d", c.Provider.PageSize)
	}
	seen := map[string]struct{}{}
	for _, user := range c.Users {
		if user.ID == "" {
			return errors.New("user id is required")
		}
		if _, dup := seen[user.ID]; dup {
			return fmt.Errorf("duplicate user id: %s", user.ID)
		}
		seen[user.ID] = struct{}{}
		for _, cal := range user.Calendars {
			if cal.UniqueID == "" || cal.ProviderID == "" {
				return fmt.Errorf("user %s has a calendar without unique_id or provider_id", user.ID)
			}
		}
	}
	return nil
}
