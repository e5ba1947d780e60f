package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.LogLevel = "loud"
	cfg.Polymarket.ClobHost = ""
	cfg.Risk.StopLossPct = 50

	err := cfg.Validate()
	if err == nil {
		t.Fatal("broken config validated")
	}
	for _, want := range []string{"unknown mode", "unknown log_level", "clob_host", "stop_loss_pct"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestValidateLiveTradingRequiresKey(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.DryRun = false

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "private_key or encrypted_key_path") {
		t.Fatalf("live trading without a key validated: %v", err)
	}

	cfg.Wallet.EncryptedKeyPath = "/secrets/key.json"
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "key_password") {
		t.Fatalf("encrypted key without password validated: %v", err)
	}

	cfg.Wallet.KeyPassword = "hunter2"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("complete wallet config rejected: %v", err)
	}
}

func TestValidateTelegramPairing(t *testing.T) {
	cfg := Defaults()
	cfg.Notify.TelegramToken = "123:abc"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "telegram_token and telegram_chat_id") {
		t.Fatalf("token without chat ID validated: %v", err)
	}

	cfg.Notify.TelegramChatID = "-100200300"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("paired telegram config rejected: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "scan"
log_level = "debug"

[trading]
min_profit_threshold = 0.01
execution_timeout = "15s"

[registry]
refresh_interval = "2m"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "scan" || cfg.LogLevel != "debug" {
		t.Fatalf("mode=%s log_level=%s", cfg.Mode, cfg.LogLevel)
	}
	if cfg.Trading.MinProfitThreshold != 0.01 {
		t.Fatalf("min_profit_threshold = %g", cfg.Trading.MinProfitThreshold)
	}
	if cfg.Trading.ExecutionTimeout.Duration != 15*time.Second {
		t.Fatalf("execution_timeout = %v", cfg.Trading.ExecutionTimeout.Duration)
	}
	if cfg.Registry.RefreshInterval.Duration != 2*time.Minute {
		t.Fatalf("refresh_interval = %v", cfg.Registry.RefreshInterval.Duration)
	}
	// Untouched sections keep their defaults.
	if cfg.Feed.NumConnections != 6 {
		t.Fatalf("feed defaults lost: num_connections = %d", cfg.Feed.NumConnections)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "trade" || !cfg.DryRun {
		t.Fatalf("defaults not applied: mode=%s dry_run=%v", cfg.Mode, cfg.DryRun)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PAIRARB_MODE", "scan")
	t.Setenv("PAIRARB_DRY_RUN", "true")
	t.Setenv("PAIRARB_MIN_PROFIT_THRESHOLD", "0.02")
	t.Setenv("PAIRARB_STALENESS_WINDOW", "10s")
	t.Setenv("PAIRARB_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("PAIRARB_NOTIFY_EVENTS", "trade_completed, error")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "scan" {
		t.Fatalf("mode = %s", cfg.Mode)
	}
	if cfg.Trading.MinProfitThreshold != 0.02 {
		t.Fatalf("min_profit_threshold = %g", cfg.Trading.MinProfitThreshold)
	}
	if cfg.Feed.StalenessWindow.Duration != 10*time.Second {
		t.Fatalf("staleness_window = %v", cfg.Feed.StalenessWindow.Duration)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Fatalf("redis addr = %s", cfg.Redis.Addr)
	}
	if len(cfg.Notify.Events) != 2 || cfg.Notify.Events[1] != "error" {
		t.Fatalf("notify events = %v", cfg.Notify.Events)
	}
}

func TestEnvOverridesIgnoreGarbage(t *testing.T) {
	t.Setenv("PAIRARB_CHAIN_ID", "not-a-number")
	t.Setenv("PAIRARB_EXECUTION_TIMEOUT", "soon")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Polymarket.ChainID != 137 {
		t.Fatalf("chain_id = %d, want default 137", cfg.Polymarket.ChainID)
	}
	if cfg.Trading.ExecutionTimeout.Duration != 10*time.Second {
		t.Fatalf("execution_timeout = %v, want default 10s", cfg.Trading.ExecutionTimeout.Duration)
	}
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if d.Duration != 90*time.Second {
		t.Fatalf("parsed %v", d.Duration)
	}
	out, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(out) != "1m30s" {
		t.Fatalf("marshalled %q", out)
	}
	if err := d.UnmarshalText([]byte("fast")); err == nil {
		t.Fatal("garbage duration parsed")
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Postgres.Password = "pgpass"
	cfg.Notify.SlackWebhookURL = "https://hooks.slack.com/services/T/B/x"

	red := RedactedConfig(cfg)
	if red.Wallet.PrivateKey != "***" || red.Postgres.Password != "***" || red.Notify.SlackWebhookURL != "***" {
		t.Fatalf("secrets not redacted: %+v", red)
	}
	if red.Redis.Password != "" {
		t.Fatalf("empty secret turned into %q", red.Redis.Password)
	}
	if cfg.Wallet.PrivateKey != "0xdeadbeef" {
		t.Fatal("redaction mutated the original")
	}
	if red.Polymarket.ClobHost != cfg.Polymarket.ClobHost {
		t.Fatal("non-secret field changed")
	}
}
