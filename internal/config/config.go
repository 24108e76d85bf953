// Package config provides configuration management for the married put backtester.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/feyerinaGO/OptimalInvesting/internal/broker"
	"github.com/feyerinaGO/OptimalInvesting/internal/engine"
	"github.com/feyerinaGO/OptimalInvesting/internal/market"
	"github.com/feyerinaGO/OptimalInvesting/internal/retry"
	"github.com/feyerinaGO/OptimalInvesting/internal/strategy"
)

// Data providers
const (
	ProviderSynthetic = "synthetic"
	ProviderCSV       = "csv"
)

const (
	dateLayout           = "2006-01-02"
	defaultStartingCash  = 100000.0
	defaultStoragePath   = "hedges.json"
	defaultReportDir     = "reports"
	defaultDashboardPort = 8080
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Backtest    BacktestConfig    `yaml:"backtest"`
	Data        DataConfig        `yaml:"data"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Broker      BrokerConfig      `yaml:"broker"`
	Storage     StorageConfig     `yaml:"storage"`
	Report      ReportConfig      `yaml:"report"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // text | json
}

// BacktestConfig defines the simulated period and account.
type BacktestConfig struct {
	Start        string  `yaml:"start"` // YYYY-MM-DD, exchange time
	End          string  `yaml:"end"`
	Cash         float64 `yaml:"cash"`
	RiskFreeRate float64 `yaml:"risk_free_rate"`
	VolWindow    int     `yaml:"vol_window"`
	TickSize     float64 `yaml:"tick_size"`
}

// DataConfig selects where minute bars come from.
type DataConfig struct {
	Provider  string                 `yaml:"provider"` // synthetic | csv
	CSVPath   string                 `yaml:"csv_path"`
	Synthetic market.SyntheticConfig `yaml:"synthetic"`
	Chain     ChainConfig            `yaml:"chain"`
}

// ChainConfig shapes the listed option chain.
type ChainConfig struct {
	ExpiryWeeks int     `yaml:"expiry_weeks"`
	StrikeRange float64 `yaml:"strike_range"`
}

// StrategyConfig defines married put parameters.
type StrategyConfig struct {
	Symbol            string        `yaml:"symbol"`
	DaysBeforeExp     int           `yaml:"days_before_exp"`
	DTE               int           `yaml:"dte"`
	DTETolerance      int           `yaml:"dte_tolerance"`
	OTM               float64       `yaml:"otm"`
	Lookback          int           `yaml:"lookback"`
	Threshold         float64       `yaml:"threshold"`
	Allocation        float64       `yaml:"allocation"`
	OptionsAlloc      float64       `yaml:"options_alloc"`
	PlotAfterOpen     time.Duration `yaml:"plot_after_open"`
	SelectionPriority string        `yaml:"selection_priority"` // dte | strike
}

// BrokerConfig defines order routing resilience.
type BrokerConfig struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          retry.Config         `yaml:"retry"`
}

// CircuitBreakerConfig mirrors broker.CircuitBreakerSettings.
type CircuitBreakerConfig struct {
	MaxRequests  uint32        `yaml:"max_requests"`
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	MinRequests  uint32        `yaml:"min_requests"`
	FailureRatio float64       `yaml:"failure_ratio"`
}

// StorageConfig defines where hedge records are persisted.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// ReportConfig defines the output directory for results.
type ReportConfig struct {
	Dir string `yaml:"dir"`
}

// DashboardConfig controls the optional HTTP dashboard.
type DashboardConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Port      int     `yaml:"port"`
	AuthToken string  `yaml:"auth_token"`
	RateLimit float64 `yaml:"rate_limit"` // requests per second, 0 = unlimited
	Burst     int     `yaml:"burst"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	config := Default()
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.normalize()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// Default returns the reference backtest configuration.
func Default() *Config {
	eng := engine.DefaultConfig()
	strat := strategy.DefaultConfig()
	chain := market.DefaultChainConfig()
	cb := broker.DefaultCircuitBreakerSettings()

	return &Config{
		Environment: EnvironmentConfig{LogLevel: "info", LogFormat: "text"},
		Backtest: BacktestConfig{
			Start:        eng.Start.Format(dateLayout),
			End:          eng.End.Format(dateLayout),
			Cash:         defaultStartingCash,
			RiskFreeRate: eng.RiskFreeRate,
			VolWindow:    eng.VolWindow,
			TickSize:     eng.TickSize,
		},
		Data: DataConfig{
			Provider:  ProviderSynthetic,
			Synthetic: market.DefaultSyntheticConfig(),
			Chain:     ChainConfig{ExpiryWeeks: chain.ExpiryWeeks, StrikeRange: chain.StrikeRange},
		},
		Strategy: StrategyConfig{
			Symbol:            strat.Symbol,
			DaysBeforeExp:     strat.DaysBeforeExp,
			DTE:               strat.DTE,
			DTETolerance:      strat.DTETolerance,
			OTM:               strat.OTM,
			Lookback:          strat.Lookback,
			Threshold:         strat.Threshold,
			Allocation:        strat.Allocation,
			OptionsAlloc:      strat.OptionsAlloc,
			PlotAfterOpen:     strat.PlotAfterOpen,
			SelectionPriority: strat.SelectionPriority,
		},
		Broker: BrokerConfig{
			CircuitBreaker: CircuitBreakerConfig{
				MaxRequests:  cb.MaxRequests,
				Interval:     cb.Interval,
				Timeout:      cb.Timeout,
				MinRequests:  cb.MinRequests,
				FailureRatio: cb.FailureRatio,
			},
			Retry: retry.DefaultConfig,
		},
		Storage:   StorageConfig{Path: defaultStoragePath},
		Report:    ReportConfig{Dir: defaultReportDir},
		Dashboard: DashboardConfig{Port: defaultDashboardPort, RateLimit: 20, Burst: 40},
	}
}

// normalize fills values a config file explicitly zeroed or left blank.
func (c *Config) normalize() {
	c.Environment.LogLevel = strings.ToLower(strings.TrimSpace(c.Environment.LogLevel))
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Environment.LogFormat == "" {
		c.Environment.LogFormat = "text"
	}
	c.Data.Provider = strings.ToLower(strings.TrimSpace(c.Data.Provider))
	if c.Data.Provider == "" {
		c.Data.Provider = ProviderSynthetic
	}
	c.Strategy.Symbol = strings.ToUpper(strings.TrimSpace(c.Strategy.Symbol))
	c.Strategy.SelectionPriority = strings.ToLower(strings.TrimSpace(c.Strategy.SelectionPriority))
	if c.Strategy.SelectionPriority == "" {
		c.Strategy.SelectionPriority = strategy.PriorityDTE
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}
	if c.Report.Dir == "" {
		c.Report.Dir = defaultReportDir
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = defaultDashboardPort
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	// Environment validation
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of debug, info, warn, error")
	}
	if c.Environment.LogFormat != "text" && c.Environment.LogFormat != "json" {
		return fmt.Errorf("environment.log_format must be 'text' or 'json'")
	}

	// Backtest validation
	start, err := parseDate(c.Backtest.Start)
	if err != nil {
		return fmt.Errorf("backtest.start invalid: %w", err)
	}
	end, err := parseDate(c.Backtest.End)
	if err != nil {
		return fmt.Errorf("backtest.end invalid: %w", err)
	}
	if !end.After(start) {
		return fmt.Errorf("backtest.end (%s) must be after backtest.start (%s)", c.Backtest.End, c.Backtest.Start)
	}
	if c.Backtest.Cash <= 0 {
		return fmt.Errorf("backtest.cash must be > 0")
	}
	if c.Backtest.RiskFreeRate < 0 || c.Backtest.RiskFreeRate >= 1 {
		return fmt.Errorf("backtest.risk_free_rate must be in [0,1)")
	}
	if c.Backtest.VolWindow < 3 {
		return fmt.Errorf("backtest.vol_window must be >= 3")
	}
	if c.Backtest.TickSize <= 0 {
		return fmt.Errorf("backtest.tick_size must be > 0")
	}

	// Data validation
	switch c.Data.Provider {
	case ProviderSynthetic:
	case ProviderCSV:
		if c.Data.CSVPath == "" {
			return fmt.Errorf("data.csv_path is required when data.provider is 'csv'")
		}
	default:
		return fmt.Errorf("data.provider must be 'synthetic' or 'csv'")
	}
	if c.Data.Chain.ExpiryWeeks < 0 {
		return fmt.Errorf("data.chain.expiry_weeks must be >= 0")
	}
	if c.Data.Chain.StrikeRange < 0 || c.Data.Chain.StrikeRange >= 1 {
		return fmt.Errorf("data.chain.strike_range must be in [0,1)")
	}

	// Strategy validation
	if err := c.StrategyParams().Validate(); err != nil {
		return fmt.Errorf("strategy.%w", err)
	}
	if c.Strategy.DaysBeforeExp >= c.Strategy.DTE-c.Strategy.DTETolerance {
		return fmt.Errorf("strategy.days_before_exp (%d) must be < dte - dte_tolerance (%d)",
			c.Strategy.DaysBeforeExp, c.Strategy.DTE-c.Strategy.DTETolerance)
	}

	// Broker validation
	if c.Broker.CircuitBreaker.FailureRatio < 0 || c.Broker.CircuitBreaker.FailureRatio > 1 {
		return fmt.Errorf("broker.circuit_breaker.failure_ratio must be in [0,1]")
	}
	if c.Broker.Retry.MaxRetries < 0 {
		return fmt.Errorf("broker.retry.max_retries must be >= 0")
	}

	// Dashboard validation
	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be between 1 and 65535")
	}
	if c.Dashboard.RateLimit < 0 || c.Dashboard.Burst < 0 {
		return fmt.Errorf("dashboard.rate_limit and dashboard.burst must be >= 0")
	}

	return nil
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, strings.TrimSpace(s), market.Exchange())
}

// StrategyParams converts the strategy section for strategy.NewMarriedPut.
func (c *Config) StrategyParams() strategy.Config {
	s := c.Strategy
	return strategy.Config{
		Symbol:            s.Symbol,
		DaysBeforeExp:     s.DaysBeforeExp,
		DTE:               s.DTE,
		DTETolerance:      s.DTETolerance,
		OTM:               s.OTM,
		Lookback:          s.Lookback,
		Threshold:         s.Threshold,
		Allocation:        s.Allocation,
		OptionsAlloc:      s.OptionsAlloc,
		PlotAfterOpen:     s.PlotAfterOpen,
		SelectionPriority: s.SelectionPriority,
	}
}

// EngineConfig converts the backtest section. Call after Validate.
func (c *Config) EngineConfig() engine.Config {
	start, _ := parseDate(c.Backtest.Start)
	end, _ := parseDate(c.Backtest.End)
	return engine.Config{
		Start:        start,
		End:          end,
		RiskFreeRate: c.Backtest.RiskFreeRate,
		VolWindow:    c.Backtest.VolWindow,
		TickSize:     c.Backtest.TickSize,
	}
}

// ChainParams converts the chain section.
func (c *Config) ChainParams() market.ChainConfig {
	return market.ChainConfig{ExpiryWeeks: c.Data.Chain.ExpiryWeeks, StrikeRange: c.Data.Chain.StrikeRange}
}

// NewProvider builds the configured bar source.
func (c *Config) NewProvider() market.Provider {
	if c.Data.Provider == ProviderCSV {
		return market.NewCSVProvider(c.Data.CSVPath, c.Strategy.Symbol, c.ChainParams())
	}
	return market.NewSyntheticProvider(c.Data.Synthetic, c.ChainParams())
}

// CircuitBreakerSettings converts the broker.circuit_breaker section.
func (c *Config) CircuitBreakerSettings() broker.CircuitBreakerSettings {
	cb := c.Broker.CircuitBreaker
	return broker.CircuitBreakerSettings{
		MaxRequests:  cb.MaxRequests,
		Interval:     cb.Interval,
		Timeout:      cb.Timeout,
		MinRequests:  cb.MinRequests,
		FailureRatio: cb.FailureRatio,
	}
}
