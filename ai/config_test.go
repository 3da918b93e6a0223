package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	assert.Equal(t, "embeddinggemma", cfg.EmbeddingModel)
	assert.Equal(t, "none", cfg.Token)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxAttempts)
}

func TestNewConfig(t *testing.T) {
	t.Run("with no options", func(t *testing.T) {
		cfg := NewConfig()

		assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
		assert.Equal(t, 200*time.Millisecond, cfg.RetryDelay)
	})

	t.Run("with multiple options", func(t *testing.T) {
		cfg := NewConfig(
			WithHost("http://custom:8080/v1"),
			WithEmbeddingModel("custom-embed"),
			WithToken("secret"),
			WithTimeout(time.Second),
			WithRetry(5, 10*time.Millisecond),
		)

		assert.Equal(t, "http://custom:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "custom-embed", cfg.EmbeddingModel)
		assert.Equal(t, "secret", cfg.Token)
		assert.Equal(t, time.Second, cfg.Timeout)
		assert.Equal(t, 5, cfg.MaxAttempts)
		assert.Equal(t, 10*time.Millisecond, cfg.RetryDelay)
	})
}

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		expected string
	}{
		{name: "already has /v1", host: "http://localhost:11434/v1", expected: "http://localhost:11434/v1"},
		{name: "missing /v1", host: "http://localhost:11434", expected: "http://localhost:11434/v1"},
		{name: "has trailing slash", host: "http://localhost:11434/", expected: "http://localhost:11434/v1"},
		{name: "empty host", host: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{EmbeddingHost: tt.host}
			cfg.Normalize()

			assert.Equal(t, tt.expected, cfg.EmbeddingHost)
			assert.Equal(t, "none", cfg.Token)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			EmbeddingHost:  "http://localhost:11434",
			EmbeddingModel: "embeddinggemma",
			Timeout:        time.Second,
			MaxAttempts:    1,
		}
	}

	t.Run("valid config", func(t *testing.T) {
		cfg := valid()
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{name: "missing host", mutate: func(c *Config) { c.EmbeddingHost = "" }, wantMsg: "EmbeddingHost"},
		{name: "missing model", mutate: func(c *Config) { c.EmbeddingModel = "" }, wantMsg: "EmbeddingModel"},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }, wantMsg: "Timeout"},
		{name: "zero attempts", mutate: func(c *Config) { c.MaxAttempts = 0 }, wantMsg: "MaxAttempts"},
		{name: "negative delay", mutate: func(c *Config) { c.RetryDelay = -time.Second }, wantMsg: "RetryDelay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestConfigValidate_Integration(t *testing.T) {
	require.NoError(t, NewConfig().Validate())
	require.NoError(t, DefaultConfig().Validate())
}
