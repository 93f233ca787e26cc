// Package config loads and validates the engine configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/quantfall/polyflow/risk"
)

// Config is the complete engine configuration.
type Config struct {
	App        AppConfig        `json:"app" yaml:"app"`
	Scan       ScanConfig       `json:"scan" yaml:"scan"`
	Aggregator AggregatorConfig `json:"aggregator" yaml:"aggregator"`
	Risk       RiskConfig       `json:"risk" yaml:"risk"`
	Execution  ExecutionConfig  `json:"execution" yaml:"execution"`
	Venue      VenueConfig      `json:"venue" yaml:"venue"`
	Journal    JournalConfig    `json:"journal" yaml:"journal"`
	Strategies []StrategyConfig `json:"strategies" yaml:"strategies"`
}

// AppConfig contains process-level settings.
type AppConfig struct {
	LogLevel    string `json:"log_level" yaml:"log_level"`
	MetricsAddr string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`
}

// ScanConfig controls market discovery.
type ScanConfig struct {
	Interval  string  `json:"interval" yaml:"interval"` // e.g. "5s"
	MinVolume float64 `json:"min_volume" yaml:"min_volume"`
}

// AggregatorConfig controls signal coalescing.
type AggregatorConfig struct {
	Window          string `json:"window" yaml:"window"`
	ImmediateBudget string `json:"immediate_budget" yaml:"immediate_budget"`
	Parallelism     int    `json:"parallelism" yaml:"parallelism"`
}

// RiskConfig mirrors risk.Policy in config form.
type RiskConfig struct {
	Bankroll          float64 `json:"bankroll" yaml:"bankroll"`
	PerMarketCapPct   float64 `json:"per_market_cap_pct" yaml:"per_market_cap_pct"`
	PerTradeCapPct    float64 `json:"per_trade_cap_pct" yaml:"per_trade_cap_pct"`
	AggregateCapPct   float64 `json:"aggregate_cap_pct" yaml:"aggregate_cap_pct"`
	GroupCapPct       float64 `json:"group_cap_pct" yaml:"group_cap_pct"`
	MaxResolutionRisk float64 `json:"max_resolution_risk" yaml:"max_resolution_risk"`
	DailyLossPct      float64 `json:"daily_loss_pct" yaml:"daily_loss_pct"`
	MaxDrawdownPct    float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	ScoreFloorVolume  float64 `json:"score_floor_volume" yaml:"score_floor_volume"`
}

// ExecutionConfig bounds venue interaction.
type ExecutionConfig struct {
	ImpactTolerance      float64 `json:"impact_tolerance" yaml:"impact_tolerance"`
	MinDepth             float64 `json:"min_depth" yaml:"min_depth"`
	LegTimeout           string  `json:"leg_timeout" yaml:"leg_timeout"`
	UnwindMaxAttempts    int     `json:"unwind_max_attempts" yaml:"unwind_max_attempts"`
	UnwindInitialBackoff string  `json:"unwind_initial_backoff" yaml:"unwind_initial_backoff"`
	UnwindMaxBackoff     string  `json:"unwind_max_backoff" yaml:"unwind_max_backoff"`
}

// VenueConfig selects and configures the exchange connection. Credentials
// come from the environment, never the file.
type VenueConfig struct {
	Mode              string  `json:"mode" yaml:"mode"` // "paper" or "live"
	PaperBalance      float64 `json:"paper_balance,omitempty" yaml:"paper_balance,omitempty"`
	GammaURL          string  `json:"gamma_url,omitempty" yaml:"gamma_url,omitempty"`
	ClobURL           string  `json:"clob_url,omitempty" yaml:"clob_url,omitempty"`
	FeedURL           string  `json:"feed_url,omitempty" yaml:"feed_url,omitempty"`
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
}

// JournalConfig selects the outcome sink.
type JournalConfig struct {
	Type         string `json:"type" yaml:"type"` // "sqlite", "csv", or "none"
	DBPath       string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	ResultsFile  string `json:"results_file,omitempty" yaml:"results_file,omitempty"`
	ExposureFile string `json:"exposure_file,omitempty" yaml:"exposure_file,omitempty"`
	Buffer       int    `json:"buffer,omitempty" yaml:"buffer,omitempty"`
}

// StrategyConfig instantiates one strategy module.
type StrategyConfig struct {
	Name        string  `json:"name" yaml:"name"`
	MinSpread   float64 `json:"min_spread" yaml:"min_spread"`
	MinVolume   float64 `json:"min_volume" yaml:"min_volume"`
	MaxPosition float64 `json:"max_position" yaml:"max_position"`
}

// LoadFromFile reads a YAML (or JSON) config. A .env file alongside the
// process, if present, is loaded first so credential lookups resolve.
func LoadFromFile(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration, including every duration string.
func (c *Config) Validate() error {
	if _, err := c.Policy(); err != nil {
		return err
	}
	for _, d := range []struct {
		name, val string
	}{
		{"scan.interval", c.Scan.Interval},
		{"aggregator.window", c.Aggregator.Window},
		{"aggregator.immediate_budget", c.Aggregator.ImmediateBudget},
		{"execution.leg_timeout", c.Execution.LegTimeout},
		{"execution.unwind_initial_backoff", c.Execution.UnwindInitialBackoff},
		{"execution.unwind_max_backoff", c.Execution.UnwindMaxBackoff},
	} {
		if d.val == "" {
			continue
		}
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	if c.Aggregator.Parallelism < 0 {
		return fmt.Errorf("aggregator.parallelism must be non-negative")
	}
	if c.Execution.ImpactTolerance < 0 || c.Execution.ImpactTolerance > 0.5 {
		return fmt.Errorf("execution.impact_tolerance must be in [0, 0.5]")
	}
	switch c.Venue.Mode {
	case "paper", "live":
	default:
		return fmt.Errorf("venue.mode must be 'paper' or 'live'")
	}
	switch c.Journal.Type {
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal.db_path required for sqlite")
		}
	case "csv":
		if c.Journal.ResultsFile == "" || c.Journal.ExposureFile == "" {
			return fmt.Errorf("journal results_file and exposure_file required for csv")
		}
	case "none":
	default:
		return fmt.Errorf("journal.type must be 'sqlite', 'csv', or 'none'")
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	for i, s := range c.Strategies {
		if s.Name == "" {
			return fmt.Errorf("strategies[%d].name is required", i)
		}
	}
	return nil
}

// Policy converts the risk section into a validated risk.Policy.
func (c *Config) Policy() (risk.Policy, error) {
	p := risk.Policy{
		Bankroll:          c.Risk.Bankroll,
		PerMarketCapPct:   c.Risk.PerMarketCapPct,
		PerTradeCapPct:    c.Risk.PerTradeCapPct,
		AggregateCapPct:   c.Risk.AggregateCapPct,
		GroupCapPct:       c.Risk.GroupCapPct,
		MaxResolutionRisk: c.Risk.MaxResolutionRisk,
		DailyLossPct:      c.Risk.DailyLossPct,
		MaxDrawdownPct:    c.Risk.MaxDrawdownPct,
	}
	return p, p.Validate()
}

// Duration parses s, falling back to def when empty.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Credentials reads venue API credentials from the environment.
func Credentials() (key, secret, passphrase string) {
	return os.Getenv("POLY_API_KEY"), os.Getenv("POLY_API_SECRET"), os.Getenv("POLY_PASSPHRASE")
}

// Default returns a configuration with sensible paper-trading defaults.
func Default() *Config {
	rp := risk.DefaultPolicy()
	return &Config{
		App: AppConfig{
			LogLevel:    "info",
			MetricsAddr: ":9100",
		},
		Scan: ScanConfig{
			Interval:  "5s",
			MinVolume: 10000,
		},
		Aggregator: AggregatorConfig{
			Window:          "500ms",
			ImmediateBudget: "150ms",
			Parallelism:     4,
		},
		Risk: RiskConfig{
			Bankroll:          rp.Bankroll,
			PerMarketCapPct:   rp.PerMarketCapPct,
			PerTradeCapPct:    rp.PerTradeCapPct,
			AggregateCapPct:   rp.AggregateCapPct,
			GroupCapPct:       rp.GroupCapPct,
			MaxResolutionRisk: rp.MaxResolutionRisk,
			DailyLossPct:      rp.DailyLossPct,
			MaxDrawdownPct:    rp.MaxDrawdownPct,
			ScoreFloorVolume:  10000,
		},
		Execution: ExecutionConfig{
			ImpactTolerance:      0.01,
			MinDepth:             10,
			LegTimeout:           "2s",
			UnwindMaxAttempts:    5,
			UnwindInitialBackoff: "100ms",
			UnwindMaxBackoff:     "2s",
		},
		Venue: VenueConfig{
			Mode:         "paper",
			PaperBalance: 1000,
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./polyflow.db",
			Buffer: 256,
		},
		Strategies: []StrategyConfig{
			{Name: "arbitrage", MinSpread: 0.02, MinVolume: 10000, MaxPosition: 100},
		},
	}
}
