package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies OSTIUM_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. An empty path skips the
// file entirely and builds the config from defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known OSTIUM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "OSTIUM_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "OSTIUM_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "OSTIUM_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.DelegatedTrader, "OSTIUM_WALLET_DELEGATED_TRADER")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "OSTIUM_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "OSTIUM_CHAIN_ID")
	setStr(&cfg.Chain.Network, "OSTIUM_CHAIN_NETWORK")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "OSTIUM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "OSTIUM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OSTIUM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OSTIUM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OSTIUM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OSTIUM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OSTIUM_REDIS_TLS_ENABLED")

	// ── Submitter ──
	setInt(&cfg.Submitter.MaxRetries, "OSTIUM_SUBMITTER_MAX_RETRIES")
	setDuration(&cfg.Submitter.InitialInterval, "OSTIUM_SUBMITTER_INITIAL_INTERVAL")
	setDuration(&cfg.Submitter.MaxInterval, "OSTIUM_SUBMITTER_MAX_INTERVAL")
	setFloat64(&cfg.Submitter.DefaultSlippagePct, "OSTIUM_SUBMITTER_DEFAULT_SLIPPAGE_PCT")

	// ── Tracker ──
	setDuration(&cfg.Tracker.PollInterval, "OSTIUM_TRACKER_POLL_INTERVAL")
	setDuration(&cfg.Tracker.Timeout, "OSTIUM_TRACKER_TIMEOUT")

	// ── Ledger ──
	setDuration(&cfg.Ledger.StaleAfter, "OSTIUM_LEDGER_STALE_AFTER")
	setDuration(&cfg.Ledger.BalanceTTL, "OSTIUM_LEDGER_BALANCE_TTL")

	// ── Server ──
	setInt(&cfg.Server.Port, "OSTIUM_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "OSTIUM_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "OSTIUM_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "OSTIUM_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "OSTIUM_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "OSTIUM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "OSTIUM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "OSTIUM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "OSTIUM_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "OSTIUM_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
