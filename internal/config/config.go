// Package config loads the root YAML configuration.
package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
	"github.com/quickdraw-trading/quickdraw/internal/monitor"
	"github.com/quickdraw-trading/quickdraw/internal/notify"
	"github.com/quickdraw-trading/quickdraw/internal/observability"
	"github.com/quickdraw-trading/quickdraw/internal/position"
	"github.com/quickdraw-trading/quickdraw/internal/resilience"
	"github.com/quickdraw-trading/quickdraw/internal/security"
	"github.com/quickdraw-trading/quickdraw/internal/trading"
)

// Config is the root configuration structure.
type Config struct {
	General    GeneralConfig              `yaml:"general"`
	Chain      chain.RPCConfig            `yaml:"chain"`
	Resilience resilience.Config          `yaml:"resilience"`
	Monitor    monitor.Config             `yaml:"monitor"`
	Security   security.Config            `yaml:"security"`
	Trading    trading.Config             `yaml:"trading"`
	Position   position.Config            `yaml:"position"`
	Store      StoreConfig                `yaml:"store"`
	Notify     notify.Config              `yaml:"notify"`
	Metrics    observability.ServerConfig `yaml:"metrics"`
}

type GeneralConfig struct {
	InstanceID string `yaml:"instance_id"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // json|text

	// BuyAmountWei is the fixed snipe size in wei.
	BuyAmountWei decimal.Decimal `yaml:"buy_amount_wei"`

	// MaxBalancePct caps a single buy to this percentage of the
	// wallet's ETH balance.
	MaxBalancePct decimal.Decimal `yaml:"max_balance_pct"`
}

type StoreConfig struct {
	// PostgresDSN enables durable persistence; empty keeps everything
	// in memory.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Load reads and parses a YAML configuration file. ${VAR} references
// are expanded from the environment before parsing, so secrets stay
// out of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	normalizeAddresses(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalizeAddresses lowercases every configured address so equality
// checks against decoded log topics hold.
func normalizeAddresses(cfg *Config) {
	cfg.Chain.From = chain.NormalizeAddress(string(cfg.Chain.From))
	cfg.Monitor.Factory = chain.NormalizeAddress(string(cfg.Monitor.Factory))
	cfg.Monitor.WETH = chain.NormalizeAddress(string(cfg.Monitor.WETH))
	cfg.Trading.Router = chain.NormalizeAddress(string(cfg.Trading.Router))
	cfg.Trading.WETH = chain.NormalizeAddress(string(cfg.Trading.WETH))
	cfg.Trading.Wallet = chain.NormalizeAddress(string(cfg.Trading.Wallet))
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			InstanceID:    "quickdraw-1",
			LogLevel:      "info",
			LogFormat:     "json",
			BuyAmountWei:  decimal.New(1, 17), // 0.1 ETH
			MaxBalancePct: decimal.NewFromInt(10),
		},
		Chain:      chain.DefaultRPCConfig(),
		Resilience: resilience.DefaultConfig(),
		Monitor:    monitor.DefaultConfig(),
		Security:   security.DefaultConfig(),
		Trading:    trading.DefaultConfig(),
		Position:   position.DefaultConfig(),
		Notify:     notify.DefaultConfig(),
		Metrics:    observability.DefaultServerConfig(),
	}
}

// applyDefaults fills zero values a partial YAML file left behind.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = def.General.InstanceID
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = def.General.LogLevel
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = def.General.LogFormat
	}
	if cfg.General.BuyAmountWei.IsZero() {
		cfg.General.BuyAmountWei = def.General.BuyAmountWei
	}
	if cfg.General.MaxBalancePct.IsZero() {
		cfg.General.MaxBalancePct = def.General.MaxBalancePct
	}
	if cfg.Chain.Timeout == 0 {
		cfg.Chain.Timeout = def.Chain.Timeout
	}
	if cfg.Chain.PollInterval == 0 {
		cfg.Chain.PollInterval = def.Chain.PollInterval
	}
	if cfg.Monitor.QueueSize == 0 {
		cfg.Monitor.QueueSize = def.Monitor.QueueSize
	}
	if cfg.Notify.Timeout == 0 {
		cfg.Notify.Timeout = def.Notify.Timeout
	}
}

// Validate rejects configurations that would misprice or stall trades.
func (c *Config) Validate() error {
	hundred := decimal.NewFromInt(100)

	if c.Chain.Endpoint == "" {
		return fmt.Errorf("config: chain.endpoint is required")
	}
	if c.Trading.Router == "" || c.Trading.WETH == "" || c.Trading.Wallet == "" {
		return fmt.Errorf("config: trading.router, trading.weth and trading.wallet are required")
	}
	if c.Monitor.Factory == "" {
		return fmt.Errorf("config: monitor.factory is required")
	}
	if !c.General.BuyAmountWei.IsPositive() {
		return fmt.Errorf("config: general.buy_amount_wei must be positive")
	}
	if !c.General.MaxBalancePct.IsPositive() || c.General.MaxBalancePct.GreaterThan(hundred) {
		return fmt.Errorf("config: general.max_balance_pct must be in (0, 100]")
	}
	if !c.Trading.SlippagePct.IsPositive() || c.Trading.SlippagePct.GreaterThan(hundred) {
		return fmt.Errorf("config: trading.slippage_pct must be in (0, 100]")
	}
	if c.Trading.GasMultiplier.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("config: trading.gas_multiplier must be >= 1")
	}
	if c.Position.StopLossPct.IsNegative() || c.Position.StopLossPct.GreaterThanOrEqual(hundred) {
		return fmt.Errorf("config: position.stop_loss_pct must be in [0, 100)")
	}
	if !c.Position.ProfitTargetPct.IsPositive() {
		return fmt.Errorf("config: position.profit_target_pct must be positive")
	}
	if c.Position.MaxPositions <= 0 {
		return fmt.Errorf("config: position.max_positions must be positive")
	}
	if c.Resilience.MaxCallsPerWindow <= 0 || c.Resilience.Window <= 0 {
		return fmt.Errorf("config: resilience rate limit parameters must be positive")
	}
	if c.Resilience.FailureThreshold == 0 || c.Resilience.RecoveryTimeout <= 0 {
		return fmt.Errorf("config: resilience breaker parameters must be positive")
	}
	if c.Security.PassThreshold <= 0 || c.Security.PassThreshold > 100 {
		return fmt.Errorf("config: security.pass_threshold must be in (0, 100]")
	}
	return nil
}
