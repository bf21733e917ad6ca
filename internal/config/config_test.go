package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Budget.ResolveDailyCap())
	assert.Equal(t, 30*time.Second, cfg.Provider.RequestTimeout)
	assert.Equal(t, 3, cfg.Provider.MaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Redis.CacheTTL)
	assert.Equal(t, 35.0, cfg.Threshold.Defaults["free"])
	assert.Equal(t, 25.0, cfg.Threshold.Defaults["premium"])
	assert.Equal(t, 20.0, cfg.Threshold.Defaults["enterprise"])
	assert.Equal(t, 0.0005, cfg.Advisor.Rates["gemini"])
	assert.Equal(t, 0.002, cfg.Advisor.Rates["gpt"])
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
app:
  timezone: Europe/Paris
scanner:
  max_concurrency: 3
budget:
  monthly_calls: 3000
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))
	t.Setenv("FLIGHTSCAN_PROVIDER_API_KEY", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Scanner.MaxConcurrency)
	assert.Equal(t, 100, cfg.Budget.ResolveDailyCap())
	assert.Equal(t, "secret", cfg.Provider.APIKey)
	assert.Equal(t, "Europe/Paris", cfg.App.Location().String())
}

func TestBudgetExplicitDailyCapWins(t *testing.T) {
	b := BudgetConfig{DailyCap: 250, MonthlyCalls: 30000}
	assert.Equal(t, 250, b.ResolveDailyCap())
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	base := func() ThresholdConfig {
		return ThresholdConfig{
			Min: 5, Max: 60,
			Defaults: map[string]float64{"free": 35, "premium": 25, "enterprise": 20},
		}
	}

	require.NoError(t, base().validate())

	inverted := base()
	inverted.Defaults["enterprise"] = 30
	assert.Error(t, inverted.validate())

	outOfRange := base()
	outOfRange.Defaults["free"] = 120
	assert.Error(t, outOfRange.validate())

	missing := base()
	delete(missing.Defaults, "premium")
	assert.Error(t, missing.validate())
}

func TestValidateAdvisorBackend(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Advisor.Enabled = true
	cfg.Advisor.APIKey = "k"
	cfg.Advisor.Backend = "llama"
	assert.Error(t, cfg.Validate())

	cfg.Advisor.Backend = "openai"
	assert.NoError(t, cfg.Validate())
}
