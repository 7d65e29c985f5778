package evm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambjn/ostium-whop/internal/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want domain.ErrorKind
	}{
		{"revert", errors.New("execution reverted: BELOW_MIN_POS"), domain.KindChainRejected},
		{"insufficient funds", errors.New("insufficient funds for gas * price + value"), domain.KindChainRejected},
		{"nonce too low", errors.New("nonce too low"), domain.KindChainRejected},
		{"connection refused", errors.New("dial tcp 127.0.0.1:8545: connection refused"), domain.KindChainTransient},
		{"rate limited", errors.New("429 Too Many Requests"), domain.KindChainTransient},
		{"bad gateway", errors.New("502 Bad Gateway"), domain.KindChainTransient},
		{"unknown defaults to transient", errors.New("something odd happened"), domain.KindChainTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.err)
			require.Error(t, got)
			assert.Equal(t, tc.want, domain.Kind(got))
		})
	}
}

func TestClassifyPreservesContextErrors(t *testing.T) {
	assert.NoError(t, classify(nil))

	for _, err := range []error{context.Canceled, context.DeadlineExceeded} {
		got := classify(fmt.Errorf("call: %w", err))
		assert.ErrorIs(t, got, err)
		assert.Equal(t, domain.KindInternal, domain.Kind(got))
	}
}

func TestRejectedKeepsUpstreamReason(t *testing.T) {
	got := classify(errors.New("execution reverted: SL_TOO_BIG"))

	var rej *domain.RejectedError
	require.ErrorAs(t, got, &rej)
	assert.Contains(t, rej.Reason, "SL_TOO_BIG")
}
