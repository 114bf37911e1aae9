// Package types provides configuration types for the rebalance backend.
package types

import "time"

// SearchConfig controls one parameter search run.
type SearchConfig struct {
	ID          string `json:"id" mapstructure:"-"`
	SampleSize  int    `json:"sampleSize" mapstructure:"sample_size"`
	Workers     int    `json:"workers" mapstructure:"workers"`
	Seed        int64  `json:"seed" mapstructure:"seed"` // 0 means time-based
	Deduplicate bool   `json:"deduplicate" mapstructure:"deduplicate"`
	TopN        int    `json:"topN" mapstructure:"top_n"`
}

// DataConfig describes where price series live on disk.
type DataConfig struct {
	DataDir   string `json:"dataDir" mapstructure:"data_dir"`
	Synthetic bool   `json:"synthetic" mapstructure:"synthetic"` // use the random-walk provider instead of files
}

// BacktestConfig carries the fixed inputs of every evaluation.
type BacktestConfig struct {
	InitialCapital float64 `json:"initialCapital" mapstructure:"initial_capital"`
	RiskFreeRate   float64 `json:"riskFreeRate" mapstructure:"risk_free_rate"` // annual, e.g. 0.065
}

// ServerConfig represents API server configuration
type ServerConfig struct {
	Host           string        `json:"host" mapstructure:"host"`
	Port           int           `json:"port" mapstructure:"port"`
	WebSocketPath  string        `json:"websocketPath" mapstructure:"websocket_path"`
	ReadTimeout    time.Duration `json:"readTimeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `json:"writeTimeout" mapstructure:"write_timeout"`
	EnableMetrics  bool          `json:"enableMetrics" mapstructure:"enable_metrics"`
	MetricsPort    int           `json:"metricsPort" mapstructure:"metrics_port"`
	MaxConnections int           `json:"maxConnections" mapstructure:"max_connections"`
}

// SearchProgress reports how far a running search has advanced.
type SearchProgress struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"` // "running", "completed", "failed"
	Evaluated int     `json:"evaluated"`
	Dropped   int     `json:"dropped"`
	Total     int     `json:"total"`
	Progress  float64 `json:"progress"` // 0-100
}
