// Package tracker watches broadcast transactions until they settle. Each
// tracked transaction gets its own polling task; terminal outcomes are
// recorded in the transaction store and delivered to the ledger over a
// channel. Terminal states are absorbing: once a record is confirmed,
// reverted or timed out, nothing moves it again.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ambjn/ostium-whop/internal/domain"
)

// Config controls polling cadence and the local confirmation deadline.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// Defaults returns the tracking policy used when config is silent.
func Defaults() Config {
	return Config{
		PollInterval: 2 * time.Second,
		Timeout:      2 * time.Minute,
	}
}

// Tracker polls receipts for submitted transactions.
type Tracker struct {
	chain  domain.ChainClient
	txs    domain.TxStore
	cfg    Config
	logger *slog.Logger

	outcomes chan domain.Outcome

	mu      sync.Mutex
	baseCtx context.Context
	wg      sync.WaitGroup
	started bool
	backlog []domain.PendingTransaction
}

// New creates a Tracker. Run must be called before outcomes flow.
func New(chain domain.ChainClient, txs domain.TxStore, cfg Config, logger *slog.Logger) *Tracker {
	return &Tracker{
		chain:    chain,
		txs:      txs,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "tracker")),
		outcomes: make(chan domain.Outcome, 64),
	}
}

// Outcomes is the stream of terminal results, consumed by the ledger.
func (t *Tracker) Outcomes() <-chan domain.Outcome {
	return t.outcomes
}

// Track registers a broadcast transaction for confirmation polling. Safe to
// call before Run; such transactions are picked up once Run starts.
func (t *Tracker) Track(tx domain.PendingTransaction) {
	t.mu.Lock()
	if !t.started {
		t.backlog = append(t.backlog, tx)
		t.mu.Unlock()
		return
	}
	ctx := t.baseCtx
	t.wg.Add(1)
	t.mu.Unlock()

	go t.poll(ctx, tx)
}

// Run resumes polling for every outstanding record, then serves new Track
// calls until ctx is cancelled. It blocks until all polling tasks stop.
func (t *Tracker) Run(ctx context.Context) error {
	outstanding, err := t.txs.ListOutstanding(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.baseCtx = ctx
	t.started = true
	backlog := t.backlog
	t.backlog = nil
	t.mu.Unlock()

	for _, tx := range outstanding {
		t.wg.Add(1)
		go t.poll(ctx, tx)
	}
	for _, tx := range backlog {
		t.wg.Add(1)
		go t.poll(ctx, tx)
	}
	if n := len(outstanding); n > 0 {
		t.logger.InfoContext(ctx, "resumed outstanding transactions", slog.Int("count", n))
	}

	<-ctx.Done()
	t.wg.Wait()
	close(t.outcomes)
	return nil
}

// poll watches one transaction until a terminal state or the deadline.
func (t *Tracker) poll(ctx context.Context, tx domain.PendingTransaction) {
	defer t.wg.Done()

	deadline := tx.SubmittedAt.Add(t.cfg.Timeout)
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		rcpt, err := t.chain.Receipt(ctx, tx.Hash)
		switch {
		case err == nil:
			status := domain.TxConfirmed
			if !rcpt.Succeeded {
				status = domain.TxReverted
			}
			t.settle(ctx, tx, status, rcpt)
			return

		case errors.Is(err, domain.ErrReceiptPending):
			// Still in the mempool; keep waiting.

		case ctx.Err() != nil:
			return

		default:
			t.logger.WarnContext(ctx, "receipt poll failed",
				slog.String("hash", tx.Hash.Hex()),
				slog.String("error", err.Error()))
		}

		if time.Now().After(deadline) {
			// Timed out locally. The transaction may still land on chain;
			// this state reports that tracking gave up, nothing more, and
			// never licenses a resubmission.
			t.settle(ctx, tx, domain.TxTimedOut, nil)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// settle records the terminal state and hands the outcome to the ledger.
func (t *Tracker) settle(ctx context.Context, tx domain.PendingTransaction, status domain.TxStatus, rcpt *domain.Receipt) {
	tx.Status = status
	tx.ResolvedAt = time.Now().UTC()
	if rcpt != nil {
		tx.BlockNumber = rcpt.BlockNumber
		tx.RevertReason = rcpt.RevertReason
	}

	if err := t.txs.Update(ctx, tx); err != nil {
		// An already-terminal record means someone settled first; the
		// absorbing-state rule says we stand down.
		t.logger.WarnContext(ctx, "settle skipped",
			slog.String("key", tx.Key),
			slog.String("error", err.Error()))
		return
	}

	t.logger.InfoContext(ctx, "transaction settled",
		slog.String("key", tx.Key),
		slog.String("hash", tx.Hash.Hex()),
		slog.String("status", string(status)))

	out := domain.Outcome{
		Key:     tx.Key,
		OrderID: tx.OrderID,
		Intent:  tx.Intent,
		Hash:    tx.Hash,
		Status:  status,
		Receipt: rcpt,
	}
	select {
	case t.outcomes <- out:
	case <-ctx.Done():
	}
}
