package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads configuration from the TOML file at path, applies PAIRARB_*
// environment overrides on top, and validates the result. A missing file is
// not an error; defaults plus environment are used instead.
func Load(path string) (Config, error) {
	// .env is optional and only fills in unset environment variables.
	_ = godotenv.Load()

	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides maps PAIRARB_* environment variables onto cfg. Secrets
// (wallet key, database password, API tokens) are expected to arrive this
// way rather than through the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr("PAIRARB_WALLET_PRIVATE_KEY", &cfg.Wallet.PrivateKey)
	setStr("PAIRARB_WALLET_ENCRYPTED_KEY_PATH", &cfg.Wallet.EncryptedKeyPath)
	setStr("PAIRARB_WALLET_KEY_PASSWORD", &cfg.Wallet.KeyPassword)

	setStr("PAIRARB_CLOB_HOST", &cfg.Polymarket.ClobHost)
	setStr("PAIRARB_GAMMA_HOST", &cfg.Polymarket.GammaHost)
	setStr("PAIRARB_WS_HOST", &cfg.Polymarket.WsHost)
	setInt("PAIRARB_CHAIN_ID", &cfg.Polymarket.ChainID)

	setStr("PAIRARB_POSTGRES_DSN", &cfg.Postgres.DSN)
	setStr("PAIRARB_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("PAIRARB_POSTGRES_PORT", &cfg.Postgres.Port)
	setStr("PAIRARB_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setStr("PAIRARB_POSTGRES_USER", &cfg.Postgres.User)
	setStr("PAIRARB_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setStr("PAIRARB_POSTGRES_SSL_MODE", &cfg.Postgres.SSLMode)
	setBool("PAIRARB_POSTGRES_RUN_MIGRATIONS", &cfg.Postgres.RunMigrations)

	setStr("PAIRARB_REDIS_ADDR", &cfg.Redis.Addr)
	setStr("PAIRARB_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("PAIRARB_REDIS_DB", &cfg.Redis.DB)
	setBool("PAIRARB_REDIS_TLS", &cfg.Redis.TLSEnabled)

	setDuration("PAIRARB_REGISTRY_REFRESH_INTERVAL", &cfg.Registry.RefreshInterval)
	setFloat64("PAIRARB_MIN_LIQUIDITY_USD", &cfg.Registry.MinLiquidityUSD)
	setInt("PAIRARB_MAX_DAYS_UNTIL_RESOLUTION", &cfg.Registry.MaxDaysUntilResolution)

	setInt("PAIRARB_NUM_WS_CONNECTIONS", &cfg.Feed.NumConnections)
	setInt("PAIRARB_MARKETS_PER_CONNECTION", &cfg.Feed.MarketsPerConnection)
	setDuration("PAIRARB_STALENESS_WINDOW", &cfg.Feed.StalenessWindow)

	setFloat64("PAIRARB_MIN_PROFIT_THRESHOLD", &cfg.Trading.MinProfitThreshold)
	setFloat64("PAIRARB_MAX_POSITION_SIZE", &cfg.Trading.MaxPositionSize)
	setDuration("PAIRARB_EXECUTION_TIMEOUT", &cfg.Trading.ExecutionTimeout)
	setFloat64("PAIRARB_STARTING_BALANCE", &cfg.Trading.StartingBalance)

	setFloat64("PAIRARB_RISK_PER_TRADE_PCT", &cfg.Risk.RiskPerTradePct)
	setFloat64("PAIRARB_STOP_LOSS_PCT", &cfg.Risk.StopLossPct)
	setFloat64("PAIRARB_POSITION_CAP_PCT", &cfg.Risk.PositionCapPct)
	setInt("PAIRARB_CONSECUTIVE_LOSSES_PAUSE", &cfg.Risk.ConsecutiveLossesPause)
	setFloat64("PAIRARB_SESSION_DRAWDOWN_PCT", &cfg.Risk.SessionDrawdownPct)
	setFloat64("PAIRARB_DAILY_DRAWDOWN_PCT", &cfg.Risk.DailyDrawdownPct)
	setFloat64("PAIRARB_MONTHLY_DRAWDOWN_PCT", &cfg.Risk.MonthlyDrawdownPct)

	setStr("PAIRARB_TELEGRAM_TOKEN", &cfg.Notify.TelegramToken)
	setStr("PAIRARB_TELEGRAM_CHAT_ID", &cfg.Notify.TelegramChatID)
	setStr("PAIRARB_SLACK_WEBHOOK_URL", &cfg.Notify.SlackWebhookURL)
	setStringSlice("PAIRARB_NOTIFY_EVENTS", &cfg.Notify.Events)

	setStr("PAIRARB_MODE", &cfg.Mode)
	setBool("PAIRARB_DRY_RUN", &cfg.DryRun)
	setStr("PAIRARB_LOG_LEVEL", &cfg.LogLevel)
}

func setStr(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(key string, dst *duration) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(key string, dst *[]string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}
