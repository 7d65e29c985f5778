// Package config defines the top-level configuration for the trading gateway
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by OSTIUM_* environment variables.
type Config struct {
	Wallet    WalletConfig    `toml:"wallet"`
	Chain     ChainConfig     `toml:"chain"`
	Redis     RedisConfig     `toml:"redis"`
	Submitter SubmitterConfig `toml:"submitter"`
	Tracker   TrackerConfig   `toml:"tracker"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	LogLevel  string          `toml:"log_level"`
}

// WalletConfig holds the signing key source. When any field is set the wallet
// session is initialized at startup; otherwise the wallet endpoints must be
// used to create or import a key before trading.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	// DelegatedTrader, when set, routes all reads and writes through this
	// on-chain trader address instead of the signing key's own address.
	DelegatedTrader string `toml:"delegated_trader"`
}

// ChainConfig holds RPC endpoint and network parameters.
type ChainConfig struct {
	RPCURL  string `toml:"rpc_url"`
	ChainID int64  `toml:"chain_id"`
	Network string `toml:"network"`
}

// RedisConfig holds Redis connection parameters. When Enabled is false the
// gateway runs entirely on in-memory stores, which is fine for a single
// process but loses pending-transaction state on restart.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// SubmitterConfig holds transaction submission and retry parameters.
type SubmitterConfig struct {
	MaxRetries      int      `toml:"max_retries"`
	InitialInterval duration `toml:"initial_interval"`
	MaxInterval     duration `toml:"max_interval"`
	// DefaultSlippagePct is the market-order slippage tolerance in percent.
	DefaultSlippagePct float64 `toml:"default_slippage_pct"`
}

// TrackerConfig holds confirmation polling parameters.
type TrackerConfig struct {
	PollInterval duration `toml:"poll_interval"`
	Timeout      duration `toml:"timeout"`
}

// LedgerConfig holds position cache freshness parameters.
type LedgerConfig struct {
	StaleAfter duration `toml:"stale_after"`
	BalanceTTL duration `toml:"balance_ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:  "https://sepolia-rollup.arbitrum.io/rpc",
			ChainID: 421614,
			Network: "arbitrum-sepolia",
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Submitter: SubmitterConfig{
			MaxRetries:         3,
			InitialInterval:    duration{500 * time.Millisecond},
			MaxInterval:        duration{5 * time.Second},
			DefaultSlippagePct: 1.0,
		},
		Tracker: TrackerConfig{
			PollInterval: duration{2 * time.Second},
			Timeout:      duration{2 * time.Minute},
		},
		Ledger: LedgerConfig{
			StaleAfter: duration{30 * time.Second},
			BalanceTTL: duration{15 * time.Second},
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"order_confirmed", "order_reverted", "order_timed_out"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is optional; keys can be imported through the API after boot.
	// An encrypted key file without a password can never be opened though.
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}
	if c.Wallet.PrivateKey != "" && c.Wallet.EncryptedKeyPath != "" {
		errs = append(errs, "wallet: private_key and encrypted_key_path are mutually exclusive")
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, fmt.Sprintf("chain: chain_id must be positive, got %d", c.Chain.ChainID))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Submitter
	if c.Submitter.MaxRetries < 0 {
		errs = append(errs, "submitter: max_retries must be >= 0")
	}
	if c.Submitter.InitialInterval.Duration <= 0 {
		errs = append(errs, "submitter: initial_interval must be > 0")
	}
	if c.Submitter.MaxInterval.Duration < c.Submitter.InitialInterval.Duration {
		errs = append(errs, "submitter: max_interval must be >= initial_interval")
	}
	if c.Submitter.DefaultSlippagePct < 0 || c.Submitter.DefaultSlippagePct > 100 {
		errs = append(errs, fmt.Sprintf("submitter: default_slippage_pct must be 0-100, got %g", c.Submitter.DefaultSlippagePct))
	}

	// Tracker
	if c.Tracker.PollInterval.Duration <= 0 {
		errs = append(errs, "tracker: poll_interval must be > 0")
	}
	if c.Tracker.Timeout.Duration <= c.Tracker.PollInterval.Duration {
		errs = append(errs, "tracker: timeout must exceed poll_interval")
	}

	// Ledger
	if c.Ledger.StaleAfter.Duration <= 0 {
		errs = append(errs, "ledger: stale_after must be > 0")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
