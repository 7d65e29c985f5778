package notify

import (
	"fmt"

	"github.com/ambjn/ostium-whop/internal/domain"
)

// Event types emitted by the gateway. These are the values operators list in
// notify.events to choose which alerts they receive.
const (
	EventOrderConfirmed = "order_confirmed"
	EventOrderReverted  = "order_reverted"
	EventOrderTimedOut  = "order_timed_out"
)

// explorerTxURL prefixes transaction links in outbound alerts. The gateway
// trades on Arbitrum Sepolia.
const explorerTxURL = "https://sepolia.arbiscan.io/tx/"

// Alert is one outbound trading notification. Senders own the channel
// formatting; the alert carries the structured facts.
type Alert struct {
	Event   string
	Title   string
	Kind    string // intent kind, e.g. "open" or "close"
	Pair    string // market symbol, e.g. "BTC/USD"
	Side    string // "long", "short", or empty when not applicable
	OrderID string
	TxHash  string
	Detail  string
}

// TxURL returns the block-explorer link for the alert's transaction.
func (a Alert) TxURL() string {
	if a.TxHash == "" {
		return ""
	}
	return explorerTxURL + a.TxHash
}

// OrderEvent maps a terminal transaction outcome to the alert operators
// receive for it. The zero Alert is returned for statuses that do not
// produce notifications.
func OrderEvent(out domain.Outcome) Alert {
	side := ""
	if out.Intent.Kind == domain.IntentOpen {
		side = "short"
		if out.Intent.Long {
			side = "long"
		}
	}
	base := Alert{
		Kind:    string(out.Intent.Kind),
		Pair:    out.Intent.Pair(),
		Side:    side,
		OrderID: out.OrderID,
		TxHash:  out.Hash.Hex(),
	}

	switch out.Status {
	case domain.TxConfirmed:
		base.Event = EventOrderConfirmed
		base.Title = "Order confirmed"
		var block uint64
		if out.Receipt != nil {
			block = out.Receipt.BlockNumber
		}
		base.Detail = fmt.Sprintf("executed in block %d", block)
		return base
	case domain.TxReverted:
		base.Event = EventOrderReverted
		base.Title = "Order reverted"
		base.Detail = "no revert reason available"
		if out.Receipt != nil && out.Receipt.RevertReason != "" {
			base.Detail = out.Receipt.RevertReason
		}
		return base
	case domain.TxTimedOut:
		base.Event = EventOrderTimedOut
		base.Title = "Order confirmation timed out"
		base.Detail = "still unconfirmed after the tracking deadline; reconcile against the chain before acting on this position"
		return base
	default:
		return Alert{}
	}
}
