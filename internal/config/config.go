// Package config handles gateway configuration: YAML with environment
// variable expansion and validation.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"perpsim/pkg/cli"
)

// Config is the complete gateway configuration.
type Config struct {
	Server Server `yaml:"server"`
	Replay Replay `yaml:"replay"`
	Engine Engine `yaml:"engine"`
	Data   Data   `yaml:"data"`
	System System `yaml:"system"`
}

// Server configures the HTTP/WebSocket front.
type Server struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxConnections int      `yaml:"max_connections"`
	RateLimit      float64  `yaml:"rate_limit"` // WS upgrades per second per IP
	RateBurst      int      `yaml:"rate_burst"`
	Production     bool     `yaml:"production"`

	// AdminToken guards /admin when set; empty leaves admin open,
	// which is the expected mode for local bot testing.
	AdminToken Secret `yaml:"admin_token"`
}

// Replay configures the initial replay window.
type Replay struct {
	Symbol     string  `yaml:"symbol"`
	Interval   string  `yaml:"interval"`
	Start      string  `yaml:"start"` // YYYY-MM-DD | ISO-8601 | epoch
	End        string  `yaml:"end"`
	BarsPerSec float64 `yaml:"bars_per_sec"`
}

// Engine configures the simulation core.
type Engine struct {
	StartingBalance float64 `yaml:"starting_balance"`
	MakerBps        float64 `yaml:"maker_bps"`
	TakerBps        float64 `yaml:"taker_bps"`
	SlippageBps     float64 `yaml:"slippage_bps"`
	SpreadBps       float64 `yaml:"spread_bps"`
	FillModel       string  `yaml:"fill_model"` // ohlc_up | ohlc_down | random | book
	Seed            int64   `yaml:"seed"`
}

// Data selects where replay bars come from and where runs are recorded.
type Data struct {
	Source         string `yaml:"source"` // api | files | sqlite | synthetic
	StorePath      string `yaml:"store_path"`
	FilesDir       string `yaml:"files_dir"`
	BinanceBaseURL string `yaml:"binance_base_url"`

	// RecordRuns persists fills and the equity curve into the store.
	// Requires a store_path even when bars come from another source.
	RecordRuns bool `yaml:"record_runs"`
}

// System contains process-level settings.
type System struct {
	LogLevel string `yaml:"log_level"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// DefaultConfig returns a runnable configuration: synthetic bars, no
// persistence, metrics on. Tests and the zero-setup demo path use it.
func DefaultConfig() *Config {
	return &Config{
		Server: Server{
			Port:           ":9001",
			AllowedOrigins: []string{"*"},
			MaxConnections: 1000,
			RateLimit:      10.0,
			RateBurst:      20,
		},
		Replay: Replay{
			Symbol:     "BTCUSDT",
			Interval:   "1m",
			Start:      "2024-07-01",
			End:        "2024-07-02",
			BarsPerSec: 10.0,
		},
		Engine: Engine{
			StartingBalance: 100_000,
			MakerBps:        2.0,
			TakerBps:        4.0,
			FillModel:       "ohlc_up",
			Seed:            42,
		},
		Data: Data{
			Source: "synthetic",
		},
		System: System{
			LogLevel: "INFO",
		},
	}
}

// LoadConfig loads configuration from a YAML file with environment
// variable expansion.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

var (
	validSources    = []string{"api", "files", "sqlite", "synthetic"}
	validFillModels = []string{"ohlc_up", "ohlc_down", "random", "book"}
	validLogLevels  = []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
)

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	for _, err := range []error{
		c.validateServer(),
		c.validateReplay(),
		c.validateEngine(),
		c.validateData(),
		c.validateSystem(),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port == "" {
		c.Server.Port = ":9001"
	}
	if !strings.Contains(c.Server.Port, ":") {
		c.Server.Port = ":" + c.Server.Port
	}
	if c.Server.MaxConnections <= 0 {
		c.Server.MaxConnections = 1000
	}
	if c.Server.RateLimit <= 0 {
		c.Server.RateLimit = 10.0
	}
	if c.Server.RateBurst <= 0 {
		c.Server.RateBurst = 20
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.Production && contains(c.Server.AllowedOrigins, "*") && len(c.Server.AllowedOrigins) == 1 {
		return ValidationError{
			Field:   "server.allowed_origins",
			Value:   "*",
			Message: "wildcard origin is rejected in production mode; list explicit origins",
		}
	}
	return nil
}

func (c *Config) validateReplay() error {
	if c.Replay.Symbol == "" {
		return ValidationError{Field: "replay.symbol", Message: "symbol is required"}
	}
	c.Replay.Symbol = strings.ToUpper(c.Replay.Symbol)
	if err := cli.ValidateSymbol(c.Replay.Symbol); err != nil {
		return ValidationError{
			Field:   "replay.symbol",
			Value:   c.Replay.Symbol,
			Message: "must be 2-20 characters A-Z 0-9",
		}
	}
	if c.Replay.Interval == "" {
		c.Replay.Interval = "1m"
	}
	if c.Replay.Start == "" {
		return ValidationError{Field: "replay.start", Message: "start is required"}
	}
	if c.Replay.End == "" {
		return ValidationError{Field: "replay.end", Message: "end is required"}
	}
	if c.Replay.BarsPerSec < 0 {
		return ValidationError{
			Field:   "replay.bars_per_sec",
			Value:   c.Replay.BarsPerSec,
			Message: "must be zero (unpaced) or positive",
		}
	}
	return nil
}

func (c *Config) validateEngine() error {
	if c.Engine.StartingBalance <= 0 {
		return ValidationError{
			Field:   "engine.starting_balance",
			Value:   c.Engine.StartingBalance,
			Message: "must be positive",
		}
	}
	if c.Engine.MakerBps < 0 || c.Engine.TakerBps < 0 {
		return ValidationError{
			Field:   "engine.maker_bps",
			Value:   fmt.Sprintf("%v/%v", c.Engine.MakerBps, c.Engine.TakerBps),
			Message: "fee rates must not be negative",
		}
	}
	if c.Engine.SlippageBps < 0 || c.Engine.SpreadBps < 0 {
		return ValidationError{
			Field:   "engine.slippage_bps",
			Value:   fmt.Sprintf("%v/%v", c.Engine.SlippageBps, c.Engine.SpreadBps),
			Message: "slippage and spread must not be negative",
		}
	}
	if c.Engine.FillModel == "" {
		c.Engine.FillModel = "ohlc_up"
	}
	if !contains(validFillModels, c.Engine.FillModel) {
		return ValidationError{
			Field:   "engine.fill_model",
			Value:   c.Engine.FillModel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validFillModels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateData() error {
	if c.Data.Source == "" {
		c.Data.Source = "synthetic"
	}
	if !contains(validSources, c.Data.Source) {
		return ValidationError{
			Field:   "data.source",
			Value:   c.Data.Source,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validSources, ", ")),
		}
	}
	if c.Data.Source == "sqlite" && c.Data.StorePath == "" {
		return ValidationError{
			Field:   "data.store_path",
			Message: "required when data.source is sqlite",
		}
	}
	if c.Data.Source == "files" && c.Data.FilesDir == "" {
		return ValidationError{
			Field:   "data.files_dir",
			Message: "required when data.source is files",
		}
	}
	if c.Data.RecordRuns && c.Data.StorePath == "" {
		return ValidationError{
			Field:   "data.store_path",
			Message: "required when data.record_runs is enabled",
		}
	}
	return nil
}

func (c *Config) validateSystem() error {
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	c.System.LogLevel = strings.ToUpper(c.System.LogLevel)
	if !contains(validLogLevels, c.System.LogLevel) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLogLevels, ", ")),
		}
	}
	return nil
}

// String renders the configuration for startup logging. The Secret
// type redacts itself during marshaling.
func (c *Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config (marshal error: %v)", err)
	}
	return string(out)
}

// expandEnvVars expands ${VAR} references against the environment.
// Unset variables expand to an empty string, matching os.Expand.
func expandEnvVars(input string) string {
	return os.Expand(input, os.Getenv)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
