package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("ALIA_DIR sets kb dir", func(t *testing.T) {
		t.Setenv("ALIA_DIR", "/data/alia")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/data/alia", cfg.KB.Dir)
	})

	t.Run("ALIA_DEBUG turns on debug logging", func(t *testing.T) {
		t.Setenv("ALIA_DEBUG", "true")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.True(t, cfg.Logging.DebugMode)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("ALIA_DEBUG false keeps level", func(t *testing.T) {
		t.Setenv("ALIA_DEBUG", "0")

		cfg := DefaultConfig()
		cfg.Logging.DebugMode = true
		cfg.applyEnvOverrides()

		assert.False(t, cfg.Logging.DebugMode)
		assert.Equal(t, "info", cfg.Logging.Level)
	})

	t.Run("unparsable ALIA_DEBUG ignored", func(t *testing.T) {
		t.Setenv("ALIA_DEBUG", "sometimes")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.False(t, cfg.Logging.DebugMode)
	})

	t.Run("ALIA_LISTEN sets transport address", func(t *testing.T) {
		t.Setenv("ALIA_LISTEN", ":9000")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, ":9000", cfg.Transport.Listen)
	})
}
