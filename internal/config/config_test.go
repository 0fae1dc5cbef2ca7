package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shiftsync.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// A second load parses the written template back.
	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shiftsync.yaml")
	cfg := DefaultConfig()
	cfg.Listen = "0.0.0.0:9090"
	cfg.StoreDSN = "postgres://localhost/shiftsync"
	cfg.NameStrategy = "first_token"
	cfg.Users = []UserConfig{{
		ID:           "user_1",
		RefreshToken: "refresh_1",
		Calendars: []CalendarConfig{
			{UniqueID: "main", ProviderID: "main@group.calendar.google.com", Name: "Day shifts"},
		},
	}}
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadMergesPartialFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shiftsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: 0.0.0.0:9999\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.Listen)
	assert.Equal(t, "memory://", cfg.StoreDSN)
	assert.Equal(t, "募集", cfg.ExcludeMarker)
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shiftsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unclosed\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"empty listen", func(c *Config) { c.Listen = "" }, "listen address is required"},
		{"empty dsn", func(c *Config) { c.StoreDSN = "" }, "store_dsn is required"},
		{"page size out of range", func(c *Config) { c.Provider.PageSize = 5000 }, "page_size out of range"},
		{"user without id", func(c *Config) {
			c.Users = []UserConfig{{}}
		}, "user id is required"},
		{"duplicate user id", func(c *Config) {
			c.Users = []UserConfig{{ID: "u"}, {ID: "u"}}
		}, "duplicate user id"},
		{"calendar without provider id", func(c *Config) {
			c.Users = []UserConfig{{ID: "u", Calendars: []CalendarConfig{{UniqueID: "main"}}}}
		}, "without unique_id or provider_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shiftsync.yaml")
	initial := DefaultConfig()
	require.NoError(t, Save(path, initial))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, func(cfg *Config) {
			select {
			case reloaded <- cfg:
			default:
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	updated := DefaultConfig()
	updated.Listen = "0.0.0.0:9191"
	require.NoError(t, Save(path, updated))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "0.0.0.0:9191", cfg.Listen)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was never observed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on context cancel")
	}
}

func TestWatchKeepsLastGoodConfigOnBrokenWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shiftsync.yaml")
	require.NoError(t, Save(path, DefaultConfig()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	go func() {
		_ = Watch(ctx, path, func(cfg *Config) { reloaded <- cfg })
	}()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("listen: [unclosed\n"), 0o600))

	select {
	case cfg := <-reloaded:
		t.Fatalf("broken file must not reach onChange, got %+v", cfg)
	case <-time.After(500 * time.Millisecond):
	}
}
