package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/feyerinaGO/OptimalInvesting/internal/market"
)

func TestLoad(t *testing.T) {
	// The example file must always load
	configPath := filepath.Join("..", "..", "config.yaml.example")
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Expected config to load successfully from example file, got error: %v", err)
	}
	if cfg.Strategy.Symbol != "MCD" {
		t.Errorf("Expected symbol MCD, got %q", cfg.Strategy.Symbol)
	}
	if cfg.Strategy.PlotAfterOpen != 30*time.Minute {
		t.Errorf("Expected plot_after_open 30m, got %s", cfg.Strategy.PlotAfterOpen)
	}
	if cfg.Broker.Retry.MaxBackoff != 30*time.Second {
		t.Errorf("Expected retry.max_backoff 30s, got %s", cfg.Broker.Retry.MaxBackoff)
	}
}

func TestLoad_InvalidPath(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent config file, got nil")
	}
}

func TestParse_DefaultsAndOverrides(t *testing.T) {
	cfg, err := Parse([]byte(`
backtest:
  start: "2018-03-01"
  end: "2018-06-01"
strategy:
  symbol: " spy "
  selection_priority: STRIKE
data:
  synthetic:
    seed: 42
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Strategy.Symbol != "SPY" {
		t.Errorf("Expected normalized symbol SPY, got %q", cfg.Strategy.Symbol)
	}
	if cfg.Strategy.SelectionPriority != "strike" {
		t.Errorf("Expected selection priority strike, got %q", cfg.Strategy.SelectionPriority)
	}
	if cfg.Strategy.DTE != 25 || cfg.Strategy.Lookback != 25 {
		t.Errorf("Expected default dte/lookback 25/25, got %d/%d", cfg.Strategy.DTE, cfg.Strategy.Lookback)
	}
	if cfg.Data.Synthetic.Seed != 42 {
		t.Errorf("Expected seed 42, got %d", cfg.Data.Synthetic.Seed)
	}
	if cfg.Data.Synthetic.StartPrice != market.DefaultSyntheticConfig().StartPrice {
		t.Errorf("Expected default start price to survive a partial override, got %g", cfg.Data.Synthetic.StartPrice)
	}

	eng := cfg.EngineConfig()
	want := time.Date(2018, 3, 1, 0, 0, 0, 0, market.Exchange())
	if !eng.Start.Equal(want) {
		t.Errorf("Expected engine start %s, got %s", want, eng.Start)
	}
	if eng.VolWindow != 30 {
		t.Errorf("Expected vol window 30, got %d", eng.VolWindow)
	}

	params := cfg.StrategyParams()
	if err := params.Validate(); err != nil {
		t.Errorf("Expected strategy params to validate, got %v", err)
	}
	if params.Symbol != "SPY" {
		t.Errorf("Expected strategy symbol SPY, got %q", params.Symbol)
	}
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("MP_TOKEN", "s3cret")
	cfg, err := Parse([]byte(`
dashboard:
  enabled: true
  auth_token: "${MP_TOKEN}"
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Dashboard.AuthToken != "s3cret" {
		t.Errorf("Expected expanded token, got %q", cfg.Dashboard.AuthToken)
	}
	if cfg.Dashboard.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Dashboard.Port)
	}
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("strategy:\n  delta: 16\n"))
	if err == nil {
		t.Fatal("Expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "parsing config") {
		t.Errorf("Expected parse error, got: %v", err)
	}
}

func TestProviders(t *testing.T) {
	cfg := Default()
	if _, ok := cfg.NewProvider().(*market.SyntheticProvider); !ok {
		t.Error("Expected synthetic provider by default")
	}

	cfg.Data.Provider = ProviderCSV
	cfg.Data.CSVPath = "bars.csv"
	if _, ok := cfg.NewProvider().(*market.CSVProvider); !ok {
		t.Error("Expected csv provider")
	}

	settings := cfg.CircuitBreakerSettings()
	if settings.FailureRatio != 0.6 || settings.MinRequests != 5 {
		t.Errorf("Unexpected circuit breaker settings: %+v", settings)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"bad log level", func(c *Config) { c.Environment.LogLevel = "loud" }, "environment.log_level"},
		{"bad log format", func(c *Config) { c.Environment.LogFormat = "xml" }, "environment.log_format"},
		{"bad start", func(c *Config) { c.Backtest.Start = "01/02/2017" }, "backtest.start invalid"},
		{"end before start", func(c *Config) { c.Backtest.End = "2016-12-01" }, "must be after backtest.start"},
		{"no cash", func(c *Config) { c.Backtest.Cash = 0 }, "backtest.cash must be > 0"},
		{"short vol window", func(c *Config) { c.Backtest.VolWindow = 2 }, "backtest.vol_window"},
		{"zero tick", func(c *Config) { c.Backtest.TickSize = 0 }, "backtest.tick_size"},
		{"unknown provider", func(c *Config) { c.Data.Provider = "parquet" }, "data.provider"},
		{"csv without path", func(c *Config) { c.Data.Provider = ProviderCSV }, "data.csv_path is required"},
		{"wide strike range", func(c *Config) { c.Data.Chain.StrikeRange = 1.5 }, "data.chain.strike_range"},
		{"missing symbol", func(c *Config) { c.Strategy.Symbol = "" }, "strategy.symbol is required"},
		{"zero dte", func(c *Config) { c.Strategy.DTE = 0 }, "strategy.dte must be > 0"},
		{"bad priority", func(c *Config) { c.Strategy.SelectionPriority = "delta" }, "strategy.selection_priority"},
		{"allocation above one", func(c *Config) { c.Strategy.Allocation = 1.5 }, "strategy.allocation"},
		{"exit inside entry window", func(c *Config) { c.Strategy.DaysBeforeExp = 17 }, "strategy.days_before_exp (17) must be < dte - dte_tolerance (17)"},
		{"bad failure ratio", func(c *Config) { c.Broker.CircuitBreaker.FailureRatio = 2 }, "broker.circuit_breaker.failure_ratio"},
		{"negative retries", func(c *Config) { c.Broker.Retry.MaxRetries = -1 }, "broker.retry.max_retries"},
		{"dashboard port", func(c *Config) { c.Dashboard.Enabled = true; c.Dashboard.Port = 70000 }, "dashboard.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected valid config, got error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error message to contain '%s', got: %v", tt.wantErr, err)
			}
		})
	}
}
