package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TxStatus tracks the on-chain lifecycle of a submitted transaction.
type TxStatus string

const (
	TxSubmitted TxStatus = "submitted"
	TxConfirmed TxStatus = "confirmed"
	TxReverted  TxStatus = "reverted"
	TxTimedOut  TxStatus = "timed_out"
)

// Terminal reports whether the status is absorbing: no further transitions
// are permitted out of a terminal state.
func (s TxStatus) Terminal() bool {
	return s == TxConfirmed || s == TxReverted || s == TxTimedOut
}

// PendingTransaction is the bookkeeping record for one logical intent's chain
// transaction. Retries reuse the same record (and idempotency key) but
// produce a new Hash.
type PendingTransaction struct {
	Key         string // idempotency key
	OrderID     string // gateway order id, equal to the intent ID
	Intent      OrderIntent
	Hash        common.Hash // zero before first successful submission
	Status      TxStatus
	Retries     int
	SubmittedAt time.Time

	// PriceTicks is the reference price at submission (limit price for
	// limit orders, index price otherwise).
	PriceTicks int64

	// Terminal outcome detail, populated by the confirmation tracker.
	BlockNumber  uint64
	RevertReason string
	ResolvedAt   time.Time
}

// Outcome is the terminal result the confirmation tracker delivers to the
// position ledger. Receipt is nil when the tracker gave up waiting
// (timed-out), which proves nothing about on-chain execution.
type Outcome struct {
	Key     string
	OrderID string
	Intent  OrderIntent
	Hash    common.Hash
	Status  TxStatus
	Receipt *Receipt
}
