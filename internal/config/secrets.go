package config

// RedactedConfig returns a copy of cfg with secret values replaced by a
// placeholder, safe for logging at startup.
func RedactedConfig(cfg Config) Config {
	out := cfg
	out.Wallet.PrivateKey = redact(cfg.Wallet.PrivateKey)
	out.Wallet.KeyPassword = redact(cfg.Wallet.KeyPassword)
	out.Postgres.DSN = redact(cfg.Postgres.DSN)
	out.Postgres.Password = redact(cfg.Postgres.Password)
	out.Redis.Password = redact(cfg.Redis.Password)
	out.Notify.TelegramToken = redact(cfg.Notify.TelegramToken)
	out.Notify.SlackWebhookURL = redact(cfg.Notify.SlackWebhookURL)
	return out
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
