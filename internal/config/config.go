// Package config loads the watcher configuration from YAML, an optional
// .env file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full watcher configuration.
type Config struct {
	Chain       ChainConfig     `yaml:"chain"`
	Contracts   ContractsConfig `yaml:"contracts"`
	Feeds       []string        `yaml:"feeds"`
	Traders     []string        `yaml:"traders"`
	Engine      EngineConfig    `yaml:"engine"`
	Reconcile   ReconcileConfig `yaml:"reconcile"`
	Reconnect   ReconnectConfig `yaml:"reconnect"`
	Sinks       SinksConfig     `yaml:"sinks"`
	MetricsAddr string          `yaml:"metrics_addr"`
	Log         LogConfig       `yaml:"log"`
}

// ChainConfig holds node endpoints.
type ChainConfig struct {
	WSEndpoint   string  `yaml:"ws_endpoint"`
	RPCEndpoint  string  `yaml:"rpc_endpoint"`
	RPCRateLimit float64 `yaml:"rpc_rate_limit"` // requests per second, 0 = unlimited
}

// ContractsConfig holds contract addresses as hex strings.
type ContractsConfig struct {
	Oracle  string `yaml:"oracle"`
	Trading string `yaml:"trading"`
}

// EngineConfig sizes the engine's bounded buffers.
type EngineConfig struct {
	DedupCapacity   int   `yaml:"dedup_capacity"`
	HistoryCapacity int   `yaml:"history_capacity"`
	AutoTrack       *bool `yaml:"auto_track"`
	RecentEvents    int   `yaml:"recent_events"`
}

// ReconcileConfig controls the reconciliation loop.
type ReconcileConfig struct {
	Interval            time.Duration `yaml:"interval"`
	DivergenceThreshold int           `yaml:"divergence_threshold"`
}

// ReconnectConfig bounds the websocket reconnect backoff.
type ReconnectConfig struct {
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

// SinksConfig enables outbound notification sinks. Empty values disable them.
type SinksConfig struct {
	NATSURL       string `yaml:"nats_url"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
	Console       bool   `yaml:"console"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// Load reads the YAML file at path, then applies .env and environment
// overrides and fills defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)

	return &cfg, nil
}

// Environment variable names.
const (
	EnvWSEndpoint    = "LEVERAGE_WS_ENDPOINT"
	EnvRPCEndpoint   = "LEVERAGE_RPC_ENDPOINT"
	EnvOracle        = "LEVERAGE_ORACLE_ADDRESS"
	EnvTrading       = "LEVERAGE_TRADING_ADDRESS"
	EnvFeeds         = "LEVERAGE_FEEDS"
	EnvTraders       = "LEVERAGE_TRADERS"
	EnvReconcile     = "LEVERAGE_RECONCILE_INTERVAL"
	EnvNATSURL       = "NATS_URL"
	EnvPostgresDSN   = "POSTGRES_DSN"
	EnvClickHouseDSN = "CLICKHOUSE_DSN"
	EnvMetricsAddr   = "METRICS_ADDR"
	EnvLogLevel      = "LOG_LEVEL"
)

func applyEnvOverrides(cfg *Config) error {
	str := map[string]*string{
		EnvWSEndpoint:    &cfg.Chain.WSEndpoint,
		EnvRPCEndpoint:   &cfg.Chain.RPCEndpoint,
		EnvOracle:        &cfg.Contracts.Oracle,
		EnvTrading:       &cfg.Contracts.Trading,
		EnvNATSURL:       &cfg.Sinks.NATSURL,
		EnvPostgresDSN:   &cfg.Sinks.PostgresDSN,
		EnvClickHouseDSN: &cfg.Sinks.ClickHouseDSN,
		EnvMetricsAddr:   &cfg.MetricsAddr,
		EnvLogLevel:      &cfg.Log.Level,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv(EnvFeeds); v != "" {
		cfg.Feeds = splitList(v)
	}
	if v := os.Getenv(EnvTraders); v != "" {
		cfg.Traders = splitList(v)
	}
	if v := os.Getenv(EnvReconcile); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("config.Load: %s: %w", EnvReconcile, err)
		}
		cfg.Reconcile.Interval = d
	}
	return nil
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setDefaults(cfg *Config) {
	if cfg.Engine.DedupCapacity <= 0 {
		cfg.Engine.DedupCapacity = 500
	}
	if cfg.Engine.HistoryCapacity <= 0 {
		cfg.Engine.HistoryCapacity = 50
	}
	if cfg.Engine.AutoTrack == nil {
		t := true
		cfg.Engine.AutoTrack = &t
	}
	if cfg.Engine.RecentEvents <= 0 {
		cfg.Engine.RecentEvents = 50
	}
	if cfg.Reconcile.Interval <= 0 {
		cfg.Reconcile.Interval = 10 * time.Second
	}
	if cfg.Reconcile.DivergenceThreshold <= 0 {
		cfg.Reconcile.DivergenceThreshold = 3
	}
	if cfg.Reconnect.BaseDelay <= 0 {
		cfg.Reconnect.BaseDelay = time.Second
	}
	if cfg.Reconnect.MaxDelay <= 0 {
		cfg.Reconnect.MaxDelay = 30 * time.Second
	}
	if cfg.Reconnect.MaxDelay < cfg.Reconnect.BaseDelay {
		cfg.Reconnect.MaxDelay = cfg.Reconnect.BaseDelay
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate reports every missing endpoint and malformed address.
func (c *Config) Validate() error {
	var errs []error
	if c.Chain.WSEndpoint == "" {
		errs = append(errs, errors.New("chain.ws_endpoint is required"))
	} else if !strings.HasPrefix(c.Chain.WSEndpoint, "ws://") && !strings.HasPrefix(c.Chain.WSEndpoint, "wss://") {
		errs = append(errs, fmt.Errorf("chain.ws_endpoint %q: want ws:// or wss://", c.Chain.WSEndpoint))
	}
	if c.Chain.RPCEndpoint == "" {
		errs = append(errs, errors.New("chain.rpc_endpoint is required"))
	}
	if c.Chain.RPCRateLimit < 0 {
		errs = append(errs, errors.New("chain.rpc_rate_limit must not be negative"))
	}

	errs = append(errs, checkAddress("contracts.oracle", c.Contracts.Oracle))
	errs = append(errs, checkAddress("contracts.trading", c.Contracts.Trading))
	for i, t := range c.Traders {
		errs = append(errs, checkAddress(fmt.Sprintf("traders[%d]", i), t))
	}

	seen := make(map[string]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		switch {
		case f == "":
			errs = append(errs, fmt.Errorf("feeds[%d] is empty", i))
		case seen[f]:
			errs = append(errs, fmt.Errorf("feeds[%d]: duplicate feed %q", i, f))
		}
		seen[f] = true
	}
	return errors.Join(errs...)
}

func checkAddress(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	if !common.IsHexAddress(v) {
		return fmt.Errorf("%s: %q is not a hex address", field, v)
	}
	return nil
}

// OracleAddress returns the parsed oracle contract address.
func (c *Config) OracleAddress() common.Address { return common.HexToAddress(c.Contracts.Oracle) }

// TradingAddress returns the parsed trading contract address.
func (c *Config) TradingAddress() common.Address { return common.HexToAddress(c.Contracts.Trading) }

// TraderAddresses returns the configured traders, parsed.
func (c *Config) TraderAddresses() []common.Address {
	out := make([]common.Address, 0, len(c.Traders))
	for _, t := range c.Traders {
		out = append(out, common.HexToAddress(t))
	}
	return out
}
