package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Default().Validate())
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
app:
  log_level: debug
scan:
  interval: 10s
  min_volume: 25000
risk:
  bankroll: 5000
  per_market_cap_pct: 0.05
  per_trade_cap_pct: 0.02
  aggregate_cap_pct: 0.5
  group_cap_pct: 0.1
  max_resolution_risk: 0.7
  daily_loss_pct: 0.05
  max_drawdown_pct: 0.15
venue:
  mode: paper
  paper_balance: 5000
journal:
  type: none
strategies:
  - name: arbitrage
    min_spread: 0.03
    max_position: 200
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.InDelta(t, 5000, cfg.Risk.Bankroll, 1e-9)
	assert.InDelta(t, 0.03, cfg.Strategies[0].MinSpread, 1e-9)
	// Sections absent from the file keep their defaults.
	assert.Equal(t, "500ms", cfg.Aggregator.Window)

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.InDelta(t, 250, p.MarketCap(), 1e-9)
}

func TestValidateCatchesBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad duration", func(c *Config) { c.Scan.Interval = "five seconds" }},
		{"bad venue mode", func(c *Config) { c.Venue.Mode = "imaginary" }},
		{"sqlite without path", func(c *Config) { c.Journal.DBPath = "" }},
		{"no strategies", func(c *Config) { c.Strategies = nil }},
		{"negative bankroll", func(c *Config) { c.Risk.Bankroll = -5 }},
		{"impact out of range", func(c *Config) { c.Execution.ImpactTolerance = 0.9 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{not config"), 0o644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDurationHelper(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5*time.Second, Duration("5s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("junk", time.Minute))
}
