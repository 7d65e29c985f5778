package domain

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Credential is the session signing identity: a derived public address plus
// the secret key material. The key is never logged or serialized outward;
// String and log formatting expose the address only.
type Credential struct {
	Address common.Address
	key     *ecdsa.PrivateKey
}

// NewCredential parses a hex-encoded secp256k1 private key (with or without
// 0x prefix) and derives the public address.
func NewCredential(privateKeyHex string) (Credential, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return Credential{}, fmt.Errorf("domain: invalid private key: %w", err)
	}
	return Credential{
		Address: ethcrypto.PubkeyToAddress(pk.PublicKey),
		key:     pk,
	}, nil
}

// GenerateCredential creates a fresh random credential.
func GenerateCredential() (Credential, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return Credential{}, fmt.Errorf("domain: generate key: %w", err)
	}
	return Credential{
		Address: ethcrypto.PubkeyToAddress(pk.PublicKey),
		key:     pk,
	}, nil
}

// PrivateKey returns the secret key for signing. Callers must not log or
// serialize the result.
func (c Credential) PrivateKey() *ecdsa.PrivateKey { return c.key }

// PrivateKeyHex returns the hex-encoded secret, 0x-prefixed. Used only by the
// wallet export path; never logged.
func (c Credential) PrivateKeyHex() string {
	return "0x" + fmt.Sprintf("%064x", c.key.D)
}

// Zero reports whether the credential is the unset zero value.
func (c Credential) Zero() bool { return c.key == nil }

// String renders the credential for logs without exposing key material.
func (c Credential) String() string {
	if c.Zero() {
		return "Credential(unset)"
	}
	return fmt.Sprintf("Credential(%s)", c.Address.Hex())
}
