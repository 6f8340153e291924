package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/referencer/refsync/internal/config"
	"github.com/referencer/refsync/internal/logger"
)

var configFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "refsync",
	Short: "Realtime workspace sync server for referencer",
	Long: `refsync keeps referencer workspaces (layers, annotations and text sections)
in sync between every client editing them.

Use 'refsync help <command>' for more information on a specific command.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (JSON, defaults to the user config dir)")
}

// loadConfig reads the config file, applies REFSYNC_* overrides and
// initializes the global logger.
func loadConfig() (*config.Config, string, error) {
	path := configFile
	if path == "" {
		path = config.GetConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyOverrides(cfg, os.LookupEnv); err != nil {
		return nil, "", err
	}
	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return nil, "", fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, path, nil
}

// applyOverrides applies REFSYNC_* overrides from lookup and validates the
// result. Startup and config reloads both go through it.
func applyOverrides(cfg *config.Config, lookup func(string) (string, bool)) error {
	if err := cfg.ApplyEnv(lookup); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// reloadLogLevel returns the config watcher callback. Only the log level is
// applied while serving.
func reloadLogLevel(lookup func(string) (string, bool)) func(*config.Config) {
	return func(next *config.Config) {
		if err := applyOverrides(next, lookup); err != nil {
			logger.Warn("Ignoring config change: %v", err)
			return
		}
		level := logger.ParseLevel(next.LogLevel)
		if level != logger.Global().GetLevel() {
			logger.Global().SetLevel(level)
			logger.Info("Log level changed to %s", level)
		}
	}
}
