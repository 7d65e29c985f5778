package wallet

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambjn/ostium-whop/internal/domain"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	require.NoError(t, err)

	// The key material must never appear in the encrypted output.
	assert.NotContains(t, string(blob), testKeyHex)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestEncryptKeyAcceptsPrefix(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "pw")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "pw")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestKeyfileRecordsDerivedAddress(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "pw")
	require.NoError(t, err)

	var stored struct {
		Address string `json:"address"`
	}
	require.NoError(t, json.Unmarshal(blob, &stored))

	cred, err := domain.NewCredential(testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, cred.Address.Hex(), stored.Address)
}

func TestDecryptKeyRejectsTamperedAddress(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "pw")
	require.NoError(t, err)

	var stored map[string]any
	require.NoError(t, json.Unmarshal(blob, &stored))
	stored["address"] = "0x00000000000000000000000000000000000000aa"
	tampered, err := json.Marshal(stored)
	require.NoError(t, err)

	_, err = DecryptKey(tampered, "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "derives")
}

func TestDecryptKeyWrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "correct")
	require.NoError(t, err)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decryption failed")
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	_, err := EncryptKey(testKeyHex, "")
	assert.Error(t, err, "empty password")

	_, err = EncryptKey("zznot-hex", "pw")
	assert.Error(t, err, "non-hex key")

	_, err = EncryptKey("abcd", "pw")
	assert.Error(t, err, "short key")
}

func TestLoadKey(t *testing.T) {
	t.Run("raw key takes precedence", func(t *testing.T) {
		got, err := LoadKey(KeySource{RawPrivateKey: "0x" + testKeyHex, EncryptedKeyPath: "/nonexistent"})
		require.NoError(t, err)
		assert.Equal(t, testKeyHex, got)
	})

	t.Run("encrypted file", func(t *testing.T) {
		blob, err := EncryptKey(testKeyHex, "pw")
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "key.json")
		require.NoError(t, os.WriteFile(path, blob, 0o600))

		got, err := LoadKey(KeySource{EncryptedKeyPath: path, KeyPassword: "pw"})
		require.NoError(t, err)
		assert.Equal(t, testKeyHex, got)
	})

	t.Run("no source", func(t *testing.T) {
		_, err := LoadKey(KeySource{})
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "no private key source"))
	})
}
