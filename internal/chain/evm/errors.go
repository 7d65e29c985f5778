package evm

import (
	"context"
	"errors"
	"strings"

	"github.com/ambjn/ostium-whop/internal/domain"
)

// rejectedFragments are node error messages that indicate the transaction
// can never succeed as submitted. Retrying the identical call is pointless.
var rejectedFragments = []string{
	"execution reverted",
	"insufficient funds",
	"gas required exceeds allowance",
	"nonce too low",
	"invalid opcode",
	"intrinsic gas too low",
	"max fee per gas less than block base fee",
}

// transientFragments are transport or node conditions that a later retry may
// not hit.
var transientFragments = []string{
	"connection refused",
	"connection reset",
	"i/o timeout",
	"eof",
	"too many requests",
	"request timed out",
	"temporarily unavailable",
	"replacement transaction underpriced",
	"already known",
	"502",
	"503",
}

// classify maps a raw node error into the domain taxonomy. Unknown errors
// are treated as transient so the retry budget, not a guess, decides their
// fate.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := strings.ToLower(err.Error())
	for _, frag := range rejectedFragments {
		if strings.Contains(msg, frag) {
			return domain.Rejected("%s", err.Error())
		}
	}
	for _, frag := range transientFragments {
		if strings.Contains(msg, frag) {
			return domain.Transient(err)
		}
	}
	return domain.Transient(err)
}
