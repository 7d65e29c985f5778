package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ambjn/ostium-whop/internal/chain/evm"
	"github.com/ambjn/ostium-whop/internal/config"
	"github.com/ambjn/ostium-whop/internal/domain"
	"github.com/ambjn/ostium-whop/internal/gateway"
	"github.com/ambjn/ostium-whop/internal/ledger"
	"github.com/ambjn/ostium-whop/internal/notify"
	"github.com/ambjn/ostium-whop/internal/store/memory"
	"github.com/ambjn/ostium-whop/internal/store/rediskv"
	"github.com/ambjn/ostium-whop/internal/submit"
	"github.com/ambjn/ostium-whop/internal/tracker"
	"github.com/ambjn/ostium-whop/internal/wallet"
)

// Dependencies bundles everything the application needs to serve the gateway.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	TxStore       domain.TxStore
	PositionStore domain.PositionStore
	LockManager   domain.LockManager
	RateLimiter   domain.RateLimiter
	SignalBus     domain.SignalBus

	// Chain and wallet
	Chain   domain.ChainClient
	Session *wallet.Session

	// Lifecycle components
	Submitter *submit.Submitter
	Tracker   *tracker.Tracker
	Ledger    *ledger.Ledger
	Facade    *gateway.Facade

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Stores: Redis when enabled, in-memory otherwise ---
	// The position view is a process-local cache rebuilt from the chain on
	// demand, so it always lives in memory. Transaction records, locks, the
	// rate limiter and the event bus move to Redis when it is enabled so
	// idempotency and mutual exclusion survive restarts and span replicas.
	deps.PositionStore = memory.NewPositionStore()
	if cfg.Redis.Enabled {
		redisClient, err := rediskv.New(ctx, rediskv.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.TxStore = rediskv.NewTxStore(redisClient)
		deps.LockManager = rediskv.NewLockManager(redisClient)
		deps.RateLimiter = rediskv.NewRateLimiter(redisClient)
		deps.SignalBus = rediskv.NewSignalBus(redisClient)
	} else {
		deps.TxStore = memory.NewTxStore()
		deps.LockManager = memory.NewLockManager()
		deps.RateLimiter = memory.NewRateLimiter()
		deps.SignalBus = memory.NewSignalBus()
	}

	// --- Chain client ---
	chainClient, err := evm.New(evm.Config{
		RPCURL:    cfg.Chain.RPCURL,
		ChainID:   cfg.Chain.ChainID,
		Contracts: evm.ArbitrumSepolia(),
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain client: %w", err)
	}
	closers = append(closers, chainClient.Close)
	deps.Chain = chainClient

	// --- Wallet session, initialized from config when a key source is set ---
	deps.Session = wallet.NewSession(logger)
	if cfg.Wallet.PrivateKey != "" || cfg.Wallet.EncryptedKeyPath != "" {
		key, err := wallet.LoadKey(wallet.KeySource{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
		}
		if _, err := deps.Session.Import(key); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet import: %w", err)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Transaction lifecycle ---
	deps.Tracker = tracker.New(deps.Chain, deps.TxStore, tracker.Config{
		PollInterval: cfg.Tracker.PollInterval.Duration,
		Timeout:      cfg.Tracker.Timeout.Duration,
	}, logger)

	deps.Submitter = submit.New(deps.Chain, deps.TxStore, deps.Tracker, submit.Config{
		MaxRetries:      cfg.Submitter.MaxRetries,
		InitialInterval: cfg.Submitter.InitialInterval.Duration,
		MaxInterval:     cfg.Submitter.MaxInterval.Duration,
		DefaultSlippage: cfg.Submitter.DefaultSlippagePct,
	}, logger)

	deps.Ledger = ledger.New(deps.Chain, deps.PositionStore, deps.SignalBus, ledger.Config{
		StaleAfter: cfg.Ledger.StaleAfter.Duration,
		BalanceTTL: cfg.Ledger.BalanceTTL.Duration,
	}, logger)
	if len(senders) > 0 {
		deps.Ledger.SetNotifier(deps.Notifier)
	}

	var delegated common.Address
	if cfg.Wallet.DelegatedTrader != "" {
		if !common.IsHexAddress(cfg.Wallet.DelegatedTrader) {
			cleanup()
			return nil, nil, fmt.Errorf("wire: delegated_trader %q is not a valid address", cfg.Wallet.DelegatedTrader)
		}
		delegated = common.HexToAddress(cfg.Wallet.DelegatedTrader)
	}

	deps.Facade = gateway.New(
		deps.Session,
		deps.Submitter,
		deps.Ledger,
		deps.TxStore,
		deps.Chain,
		deps.LockManager,
		gateway.Config{
			DelegatedTrader: delegated,
			Network:         cfg.Chain.Network,
			RPCURL:          cfg.Chain.RPCURL,
		},
		logger,
	)

	return deps, cleanup, nil
}
