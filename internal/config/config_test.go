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

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	def := DefaultConfig()
	if cfg.ListenAddr != def.ListenAddr {
		t.Errorf("Expected listen addr %s, got %s", def.ListenAddr, cfg.ListenAddr)
	}
	if cfg.Store.Driver != DriverSQLite {
		t.Errorf("Expected sqlite driver, got %s", cfg.Store.Driver)
	}
	if cfg.Socket.MailboxSize != 256 {
		t.Errorf("Expected mailbox size 256, got %d", cfg.Socket.MailboxSize)
	}
}

func TestLoadOverridesOnlyProvidedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"listen_addr": ":9000", "store": {"driver": "postgres", "postgres_url": "postgres://x"}, "socket": {"send_queue_size": 0}}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://x", cfg.Store.PostgresURL)
	assert.NotEmpty(t, cfg.Store.SQLitePath, "sqlite path keeps its default")
	assert.Equal(t, 256, cfg.Socket.SendQueueSize, "zeroed limits fall back to defaults")
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")

	cfg := DefaultConfig()
	cfg.AuthToken = "secret"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Socket.AllowedOrigins = []string{"https://app.example.com"}
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"REFSYNC_LISTEN_ADDR":     ":7000",
		"REFSYNC_LOG_LEVEL":       "debug",
		"REFSYNC_STORE_DRIVER":    "postgres",
		"REFSYNC_POSTGRES_URL":    "postgres://db/ref",
		"REFSYNC_REDIS_ADDR":      "redis:6379",
		"REFSYNC_REDIS_DB":        "3",
		"REFSYNC_ALLOWED_ORIGINS": "https://a.example, https://b.example ,",
		"REFSYNC_AUTH_TOKEN":      "   ",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(lookup))

	assert.Equal(t, ":7000", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://db/ref", cfg.Store.PostgresURL)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Socket.AllowedOrigins)
	assert.Empty(t, cfg.AuthToken, "blank values are ignored")
}

func TestApplyEnvInvalidRedisDB(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == "REFSYNC_REDIS_DB" {
			return "zero", true
		}
		return "", false
	})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"postgres without url", func(c *Config) { c.Store.Driver = DriverPostgres }, true},
		{"postgres with url", func(c *Config) {
			c.Store.Driver = DriverPostgres
			c.Store.PostgresURL = "postgres://x"
		}, false},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, true},
		{"empty sqlite path", func(c *Config) { c.Store.SQLitePath = "" }, true},
		{"empty listen addr", func(c *Config) { c.ListenAddr = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, DefaultConfig().Save(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)

	cfg := DefaultConfig()
	cfg.LogLevel = "debug"
	require.NoError(t, cfg.Save(path))

	select {
	case got := <-changes:
		assert.Equal(t, "debug", got.LogLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}

	cancel()
	require.NoError(t, <-done)
}
