package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/referencer/refsync/internal/config"
	"github.com/referencer/refsync/internal/logger"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestApplyOverrides(t *testing.T) {
	t.Run("env wins over file", func(t *testing.T) {
		cfg := config.DefaultConfig()
		require.NoError(t, applyOverrides(cfg, envLookup(map[string]string{"REFSYNC_LOG_LEVEL": "debug"})))
		assert.Equal(t, "debug", cfg.LogLevel)
	})
	t.Run("bad env", func(t *testing.T) {
		cfg := config.DefaultConfig()
		err := applyOverrides(cfg, envLookup(map[string]string{"REFSYNC_REDIS_DB": "zero"}))
		assert.ErrorContains(t, err, "invalid environment")
	})
	t.Run("invalid result", func(t *testing.T) {
		cfg := config.DefaultConfig()
		err := applyOverrides(cfg, envLookup(map[string]string{"REFSYNC_STORE_DRIVER": "mysql"}))
		assert.ErrorContains(t, err, "invalid config")
	})
}

func TestReloadLogLevel(t *testing.T) {
	prev := logger.Global().GetLevel()
	t.Cleanup(func() { logger.Global().SetLevel(prev) })

	t.Run("env level survives file changes", func(t *testing.T) {
		logger.Global().SetLevel(logger.LevelDebug)
		onChange := reloadLogLevel(envLookup(map[string]string{"REFSYNC_LOG_LEVEL": "debug"}))

		next := config.DefaultConfig()
		next.LogLevel = "warn"
		onChange(next)
		assert.Equal(t, logger.LevelDebug, logger.Global().GetLevel())
	})
	t.Run("file level applies without env", func(t *testing.T) {
		logger.Global().SetLevel(logger.LevelDebug)
		onChange := reloadLogLevel(envLookup(nil))

		next := config.DefaultConfig()
		next.LogLevel = "warn"
		onChange(next)
		assert.Equal(t, logger.LevelWarn, logger.Global().GetLevel())
	})
	t.Run("invalid config is ignored", func(t *testing.T) {
		logger.Global().SetLevel(logger.LevelInfo)
		onChange := reloadLogLevel(envLookup(nil))

		next := config.DefaultConfig()
		next.LogLevel = "error"
		next.Store.Driver = "mysql"
		onChange(next)
		assert.Equal(t, logger.LevelInfo, logger.Global().GetLevel())
	})
}
