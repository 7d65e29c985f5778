package evm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambjn/ostium-whop/internal/domain"
)

// nullResultServer answers every JSON-RPC call with a null result, which is
// how a node reports a transaction it has no receipt for yet.
func nullResultServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": nil}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReceiptPendingWhileUnmined(t *testing.T) {
	srv := nullResultServer(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	client, err := New(Config{RPCURL: srv.URL, ChainID: 421614}, logger)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Receipt(context.Background(), common.Hash{0xab})
	assert.ErrorIs(t, err, domain.ErrReceiptPending)
}
