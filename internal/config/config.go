package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Store drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StoreConfig selects and configures the workspace state backend
type StoreConfig struct {
	Driver      string `json:"driver"`       // "sqlite" or "postgres"
	SQLitePath  string `json:"sqlite_path"`  // used when driver is sqlite
	PostgresURL string `json:"postgres_url"` // used when driver is postgres
}

// RedisConfig enables cross-instance fan-out when Addr is set
type RedisConfig struct {
	Addr          string `json:"addr"`
	Password      string `json:"password,omitempty"`
	DB            int    `json:"db"`
	ChannelPrefix string `json:"channel_prefix"`
}

// SocketConfig holds WebSocket limits
type SocketConfig struct {
	MaxMessageSize  int64    `json:"max_message_size"`  // bytes per inbound frame
	SendQueueSize   int      `json:"send_queue_size"`   // outbound frames buffered per client
	MailboxSize     int      `json:"mailbox_size"`      // pending events per workspace room
	AllowedOrigins  []string `json:"allowed_origins"`   // empty allows any origin
	PingIntervalSec int      `json:"ping_interval_sec"` // keep-alive ping period
}

// Config represents application configuration
type Config struct {
	ListenAddr string       `json:"listen_addr"`
	LogLevel   string       `json:"log_level"` // debug, info, warn, error, none
	LogPath    string       `json:"log_path"`  // empty logs to stderr
	AuthToken  string       `json:"auth_token,omitempty"`
	Store      StoreConfig  `json:"store"`
	Redis      RedisConfig  `json:"redis"`
	Socket     SocketConfig `json:"socket"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "refsync")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "refsync")
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "refsync")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "refsync")
	}
}

func defaultDataDir() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "refsync")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "refsync")
	default:
		if dataHome := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); dataHome != "" {
			return filepath.Join(dataHome, "refsync")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "share", "refsync")
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: "localhost:8000",
		LogLevel:   "info",
		Store: StoreConfig{
			Driver:     DriverSQLite,
			SQLitePath: filepath.Join(defaultDataDir(), "referencer.db"),
		},
		Redis: RedisConfig{
			ChannelPrefix: "refsync",
		},
		Socket: SocketConfig{
			MaxMessageSize:  1 << 20,
			SendQueueSize:   256,
			MailboxSize:     256,
			PingIntervalSec: 54,
		},
	}
}

// Load loads configuration from file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	// Unmarshal into default config (overrides only provided fields)
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	config.fillDefaults()
	return config, nil
}

// fillDefaults restores defaults for fields a config file explicitly zeroed
func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Store.Driver == "" {
		c.Store.Driver = def.Store.Driver
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = def.Store.SQLitePath
	}
	if c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = def.Redis.ChannelPrefix
	}
	if c.Socket.MaxMessageSize <= 0 {
		c.Socket.MaxMessageSize = def.Socket.MaxMessageSize
	}
	if c.Socket.SendQueueSize <= 0 {
		c.Socket.SendQueueSize = def.Socket.SendQueueSize
	}
	if c.Socket.MailboxSize <= 0 {
		c.Socket.MailboxSize = def.Socket.MailboxSize
	}
	if c.Socket.PingIntervalSec <= 0 {
		c.Socket.PingIntervalSec = def.Socket.PingIntervalSec
	}
}

// ApplyEnv overrides fields from REFSYNC_* environment variables. lookup is
// normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("REFSYNC_LISTEN_ADDR", &c.ListenAddr)
	str("REFSYNC_LOG_LEVEL", &c.LogLevel)
	str("REFSYNC_LOG_PATH", &c.LogPath)
	str("REFSYNC_AUTH_TOKEN", &c.AuthToken)
	str("REFSYNC_STORE_DRIVER", &c.Store.Driver)
	str("REFSYNC_SQLITE_PATH", &c.Store.SQLitePath)
	str("REFSYNC_POSTGRES_URL", &c.Store.PostgresURL)
	str("REFSYNC_REDIS_ADDR", &c.Redis.Addr)
	str("REFSYNC_REDIS_PASSWORD", &c.Redis.Password)

	if v, ok := lookup("REFSYNC_REDIS_DB"); ok && strings.TrimSpace(v) != "" {
		db, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("REFSYNC_REDIS_DB: %w", err)
		}
		c.Redis.DB = db
	}
	if v, ok := lookup("REFSYNC_ALLOWED_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.Socket.AllowedOrigins = origins
	}
	return nil
}

// Validate reports configuration that cannot be served
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("store.postgres_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	return nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// auth_token may be present, keep the file private
	return os.WriteFile(path, data, 0600)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
