// Package config loads application configuration from YAML files and
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/quantdesk/rebalance-backend/pkg/types"
	"github.com/spf13/viper"
)

// Config aggregates every tunable of the backend.
type Config struct {
	Search   types.SearchConfig   `mapstructure:"search"`
	Data     types.DataConfig     `mapstructure:"data"`
	Backtest types.BacktestConfig `mapstructure:"backtest"`
	Server   types.ServerConfig   `mapstructure:"server"`
	Catalog  CatalogConfig        `mapstructure:"catalog"`
	LogLevel string               `mapstructure:"log_level"`
}

// CatalogConfig selects the event source.
type CatalogConfig struct {
	// Path to a JSON event file. Empty uses the built-in catalog.
	Path string `mapstructure:"path"`
}

// Load reads configuration from the given file (optional) and REBALANCE_*
// environment variables, over built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("REBALANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("search.sample_size", 10000)
	v.SetDefault("search.workers", 0) // 0 means NumCPU
	v.SetDefault("search.seed", 0)    // 0 means time-based
	v.SetDefault("search.deduplicate", false)
	v.SetDefault("search.top_n", 20)

	v.SetDefault("data.data_dir", "./data")
	v.SetDefault("data.synthetic", false)

	v.SetDefault("backtest.initial_capital", 1_000_000)
	v.SetDefault("backtest.risk_free_rate", 0.065)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocket_path", "/ws")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.max_connections", 100)

	v.SetDefault("catalog.path", "")
	v.SetDefault("log_level", "info")
}

// Validate rejects configurations that cannot produce a meaningful run.
func (c *Config) Validate() error {
	if c.Search.SampleSize <= 0 {
		return fmt.Errorf("search.sample_size must be positive, got %d", c.Search.SampleSize)
	}
	if c.Search.Workers < 0 {
		return fmt.Errorf("search.workers must not be negative, got %d", c.Search.Workers)
	}
	if c.Backtest.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital must be positive, got %v", c.Backtest.InitialCapital)
	}
	if c.Backtest.RiskFreeRate < 0 || c.Backtest.RiskFreeRate >= 1 {
		return fmt.Errorf("backtest.risk_free_rate must be in [0,1), got %v", c.Backtest.RiskFreeRate)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
