// Package config defines the top-level configuration for pairarb and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PAIRARB_* environment
// variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Registry   RegistryConfig   `toml:"registry"`
	Feed       FeedConfig       `toml:"feed"`
	Trading    TradingConfig    `toml:"trading"`
	Risk       RiskConfig       `toml:"risk"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	DryRun     bool             `toml:"dry_run"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials used for order signing.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost  string `toml:"clob_host"`
	GammaHost string `toml:"gamma_host"`
	WsHost    string `toml:"ws_host"`
	ChainID   int    `toml:"chain_id"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// RegistryConfig holds market catalog refresh and eligibility parameters.
type RegistryConfig struct {
	RefreshInterval        duration `toml:"refresh_interval"`
	MinLiquidityUSD        float64  `toml:"min_liquidity_usd"`
	MaxDaysUntilResolution int      `toml:"max_days_until_resolution"`
	PageSize               int      `toml:"page_size"`
	MaxMarkets             int      `toml:"max_markets"`
}

// FeedConfig holds market-data hub parameters.
type FeedConfig struct {
	NumConnections       int      `toml:"num_connections"`
	MarketsPerConnection int      `toml:"markets_per_connection"`
	StalenessWindow      duration `toml:"staleness_window"`
	UpdateBuffer         int      `toml:"update_buffer"`
}

// TradingConfig holds detection and execution parameters.
type TradingConfig struct {
	MinProfitThreshold float64  `toml:"min_profit_threshold"` // 0.005 = 0.5%
	MaxPositionSize    float64  `toml:"max_position_size"`    // USD per market
	SweepInterval      duration `toml:"sweep_interval"`
	CooldownSec        int      `toml:"cooldown_sec"`
	ExecutionTimeout   duration `toml:"execution_timeout"`
	CancelGrace        duration `toml:"cancel_grace"`
	MinOrderShares     float64  `toml:"min_order_shares"`
	MinOrderUSD        float64  `toml:"min_order_usd"`
	OrderRatePerSec    int      `toml:"order_rate_per_sec"`
	StartingBalance    float64  `toml:"starting_balance"` // dry-run account balance
}

// RiskConfig holds circuit-breaker, pre-trade filter, and sizing parameters.
// The optional filters (volatility, volume, z-score, RSI) are disabled when
// their threshold is zero.
type RiskConfig struct {
	RiskPerTradePct            float64 `toml:"risk_per_trade_pct"`   // 0.8 = 0.8% of balance
	StopLossPct                float64 `toml:"stop_loss_pct"`        // stop distance from entry, percent
	PositionCapPct             float64 `toml:"position_cap_pct"`     // max position as % of balance
	ConsecutiveLossesPause     int     `toml:"consecutive_losses_pause"`
	ConsecutiveLossPauseMinute int     `toml:"consecutive_loss_pause_minutes"`
	SessionDrawdownPct         float64 `toml:"session_drawdown_pct"`
	SessionPauseMinutes        int     `toml:"session_pause_minutes"`
	DailyDrawdownPct           float64 `toml:"daily_drawdown_pct"`
	MonthlyDrawdownPct         float64 `toml:"monthly_drawdown_pct"`
	MinSecondsUntilResolution  int     `toml:"min_seconds_until_resolution"`
	VolatilitySkip1MinStd      float64 `toml:"volatility_skip_1min_std"` // 0 = disabled
	MinVolume60sUSD            float64 `toml:"min_volume_60s_usd"`       // 0 = disabled
	MaxZScore3Min              float64 `toml:"max_zscore_3min"`          // 0 = disabled
	MaxRSIOverbought           float64 `toml:"max_rsi_overbought"`       // 0 = disabled
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken   string   `toml:"telegram_token"`
	TelegramChatID  string   `toml:"telegram_chat_id"`
	SlackWebhookURL string   `toml:"slack_webhook_url"`
	Events          []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:  "https://clob.polymarket.com",
			GammaHost: "https://gamma-api.polymarket.com",
			WsHost:    "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:   137,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "pairarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		Registry: RegistryConfig{
			RefreshInterval:        duration{60 * time.Second},
			MinLiquidityUSD:        10_000,
			MaxDaysUntilResolution: 7,
			PageSize:               500,
			MaxMarkets:             1_500,
		},
		Feed: FeedConfig{
			NumConnections:       6,
			MarketsPerConnection: 250,
			StalenessWindow:      duration{5 * time.Second},
			UpdateBuffer:         1024,
		},
		Trading: TradingConfig{
			MinProfitThreshold: 0.005,
			MaxPositionSize:    100.0,
			SweepInterval:      duration{2 * time.Second},
			CooldownSec:        2,
			ExecutionTimeout:   duration{10 * time.Second},
			CancelGrace:        duration{3 * time.Second},
			MinOrderShares:     5,
			MinOrderUSD:        1.0,
			OrderRatePerSec:    10,
			StartingBalance:    1_000,
		},
		Risk: RiskConfig{
			RiskPerTradePct:            0.8,
			StopLossPct:                5.0,
			PositionCapPct:             25.0,
			ConsecutiveLossesPause:     5,
			ConsecutiveLossPauseMinute: 30,
			SessionDrawdownPct:         4.0,
			SessionPauseMinutes:        60,
			DailyDrawdownPct:           8.0,
			MonthlyDrawdownPct:         20.0,
			MinSecondsUntilResolution:  90,
			VolatilitySkip1MinStd:      0.028,
			MaxZScore3Min:              2.5,
			MaxRSIOverbought:           80.0,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_completed", "breaker_tripped", "error"},
		},
		Mode:     "trade",
		DryRun:   true,
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade": true,
	"scan":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found. Startup must abort on any
// validation failure before trading activity begins.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, scan)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — live trading requires a signing key; dry-run and scan do not.
	if c.Mode == "trade" && !c.DryRun {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for live trading")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Polymarket endpoints.
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}

	// Postgres.
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	// Redis.
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Registry.
	if c.Registry.MinLiquidityUSD < 0 {
		errs = append(errs, "registry: min_liquidity_usd must be >= 0")
	}
	if c.Registry.MaxDaysUntilResolution < 1 || c.Registry.MaxDaysUntilResolution > 365 {
		errs = append(errs, fmt.Sprintf("registry: max_days_until_resolution must be 1-365, got %d", c.Registry.MaxDaysUntilResolution))
	}
	if c.Registry.RefreshInterval.Duration <= 0 {
		errs = append(errs, "registry: refresh_interval must be > 0")
	}

	// Feed.
	if c.Feed.NumConnections < 1 || c.Feed.NumConnections > 20 {
		errs = append(errs, fmt.Sprintf("feed: num_connections must be 1-20, got %d", c.Feed.NumConnections))
	}
	if c.Feed.MarketsPerConnection < 1 {
		errs = append(errs, "feed: markets_per_connection must be >= 1")
	}
	if c.Feed.StalenessWindow.Duration <= 0 {
		errs = append(errs, "feed: staleness_window must be > 0")
	}

	// Trading.
	if c.Trading.MinProfitThreshold < 0 || c.Trading.MinProfitThreshold > 0.1 {
		errs = append(errs, fmt.Sprintf("trading: min_profit_threshold must be 0-0.1, got %g", c.Trading.MinProfitThreshold))
	}
	if c.Trading.MaxPositionSize < 1 {
		errs = append(errs, "trading: max_position_size must be >= 1")
	}
	if c.Trading.ExecutionTimeout.Duration <= 0 {
		errs = append(errs, "trading: execution_timeout must be > 0")
	}
	if c.Trading.CancelGrace.Duration < 0 {
		errs = append(errs, "trading: cancel_grace must be >= 0")
	}
	if c.DryRun && c.Trading.StartingBalance <= 0 {
		errs = append(errs, "trading: starting_balance must be > 0 in dry-run mode")
	}

	// Risk.
	if c.Risk.RiskPerTradePct < 0.1 || c.Risk.RiskPerTradePct > 5.0 {
		errs = append(errs, fmt.Sprintf("risk: risk_per_trade_pct must be 0.1-5.0, got %g", c.Risk.RiskPerTradePct))
	}
	if c.Risk.StopLossPct < 1.0 || c.Risk.StopLossPct > 20.0 {
		errs = append(errs, fmt.Sprintf("risk: stop_loss_pct must be 1-20, got %g", c.Risk.StopLossPct))
	}
	if c.Risk.PositionCapPct < 5.0 || c.Risk.PositionCapPct > 100.0 {
		errs = append(errs, fmt.Sprintf("risk: position_cap_pct must be 5-100, got %g", c.Risk.PositionCapPct))
	}
	if c.Risk.ConsecutiveLossesPause < 2 || c.Risk.ConsecutiveLossesPause > 20 {
		errs = append(errs, fmt.Sprintf("risk: consecutive_losses_pause must be 2-20, got %d", c.Risk.ConsecutiveLossesPause))
	}
	if c.Risk.ConsecutiveLossPauseMinute < 5 || c.Risk.ConsecutiveLossPauseMinute > 120 {
		errs = append(errs, fmt.Sprintf("risk: consecutive_loss_pause_minutes must be 5-120, got %d", c.Risk.ConsecutiveLossPauseMinute))
	}
	if c.Risk.SessionDrawdownPct < 1.0 || c.Risk.SessionDrawdownPct > 20.0 {
		errs = append(errs, fmt.Sprintf("risk: session_drawdown_pct must be 1-20, got %g", c.Risk.SessionDrawdownPct))
	}
	if c.Risk.DailyDrawdownPct < 2.0 || c.Risk.DailyDrawdownPct > 25.0 {
		errs = append(errs, fmt.Sprintf("risk: daily_drawdown_pct must be 2-25, got %g", c.Risk.DailyDrawdownPct))
	}
	if c.Risk.MonthlyDrawdownPct < 5.0 || c.Risk.MonthlyDrawdownPct > 50.0 {
		errs = append(errs, fmt.Sprintf("risk: monthly_drawdown_pct must be 5-50, got %g", c.Risk.MonthlyDrawdownPct))
	}
	if c.Risk.MinSecondsUntilResolution < 0 || c.Risk.MinSecondsUntilResolution > 600 {
		errs = append(errs, fmt.Sprintf("risk: min_seconds_until_resolution must be 0-600, got %d", c.Risk.MinSecondsUntilResolution))
	}

	// Notify — token and chat ID must come together.
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
