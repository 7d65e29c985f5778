package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{ErrNotInitialized, KindNotInitialized},
		{Invalid("bad %s", "field"), KindInvalidRequest},
		{Rejected("insufficient balance"), KindChainRejected},
		{Transient(errors.New("connection refused")), KindChainTransient},
		{ErrNotFound, KindNotFound},
		{errors.New("something else"), KindInternal},
		{fmt.Errorf("submit: %w", ErrChainRejected), KindChainRejected},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Kind(tc.err), "err: %v", tc.err)
	}
}

func TestRejectedAndTransientUnwrap(t *testing.T) {
	assert.ErrorIs(t, Rejected("nope"), ErrChainRejected)

	cause := errors.New("dial tcp: timeout")
	err := Transient(cause)
	assert.ErrorIs(t, err, ErrChainTransient)
	assert.Contains(t, err.Error(), "dial tcp")
}

func TestCredentialStringRedactsKey(t *testing.T) {
	cred, err := GenerateCredential()
	assert.NoError(t, err)
	s := cred.String()
	assert.Contains(t, s, cred.Address.Hex())
	assert.NotContains(t, s, cred.PrivateKeyHex()[2:])
}
