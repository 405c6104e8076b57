package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/edugate/edugate/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrGenerateRoundTrip(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")

	generated, err := LoadOrGenerate(cfgFile)
	require.NoError(t, err)
	require.NotNil(t, generated.Service)
	assert.Equal(t, "app.local", generated.Service.RootDomain)

	loaded, err := NewFromFile(cfgFile)
	require.NoError(t, err)
	assert.Equal(t, generated.String(), loaded.String())
}

func TestDefaultProfiles(t *testing.T) {
	cfg := NewDefault()
	require.NotNil(t, cfg.RateLimit)

	auth, ok := cfg.RateLimit.Profiles["auth"]
	require.True(t, ok)
	assert.Equal(t, 3, auth.Requests)
	assert.Equal(t, util.Duration(5*time.Minute), auth.Window)
	assert.Equal(t, "ip", auth.Subject)

	payments, ok := cfg.RateLimit.Profiles["payments"]
	require.True(t, ok)
	assert.Equal(t, 5, payments.Requests)
	assert.Equal(t, util.Duration(10*time.Second), payments.Window)
}

func TestValidate(t *testing.T) {
	t.Run("default config is valid", func(t *testing.T) {
		assert.NoError(t, Validate(NewDefault()))
	})

	t.Run("missing root domain", func(t *testing.T) {
		cfg := NewDefault()
		cfg.Service.RootDomain = ""
		assert.Error(t, Validate(cfg))
	})

	t.Run("non-positive window", func(t *testing.T) {
		cfg := NewDefault()
		cfg.RateLimit.Profiles["api"] = RateLimitProfile{Requests: 10, Window: 0}
		assert.Error(t, Validate(cfg))
	})

	t.Run("unknown subject policy", func(t *testing.T) {
		cfg := NewDefault()
		cfg.RateLimit.Profiles["api"] = RateLimitProfile{Requests: 10, Window: util.Duration(time.Minute), Subject: "device"}
		assert.Error(t, Validate(cfg))
	})

	t.Run("route referencing unknown profile", func(t *testing.T) {
		cfg := NewDefault()
		cfg.RateLimit.Routes["/api/v1/exams"] = "exams"
		assert.Error(t, Validate(cfg))
	})
}

func TestDeploymentModeEnvOverride(t *testing.T) {
	t.Setenv(DeploymentModeEnvKey, ModePreview)
	cfg := NewDefault()
	assert.Equal(t, ModePreview, cfg.Service.DeploymentMode)
}
