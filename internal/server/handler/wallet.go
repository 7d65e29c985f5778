package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ambjn/ostium-whop/internal/gateway"
	"github.com/ambjn/ostium-whop/internal/wallet"
)

// WalletService defines the methods the wallet handler requires from the
// gateway facade.
type WalletService interface {
	CreateWallet() (gateway.WalletCreation, error)
	ImportWallet(privateKeyHex string) (common.Address, error)
	WalletStatus() wallet.Status
	ClearWallet()
}

// WalletHandler serves wallet lifecycle endpoints.
type WalletHandler struct {
	svc    WalletService
	logger *slog.Logger
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(svc WalletService, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{svc: svc, logger: logger}
}

// createWalletResponse carries the generated key exactly once; it is never
// retrievable again through the API.
type createWalletResponse struct {
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
	Warning    string `json:"warning"`
}

// CreateWallet generates a fresh wallet and installs it as the session
// credential.
// POST /wallet/create
func (h *WalletHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	created, err := h.svc.CreateWallet()
	if err != nil {
		logHandler(h.logger, "create_wallet").ErrorContext(r.Context(), "wallet generation failed",
			slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createWalletResponse{
		Address:    created.Address.Hex(),
		PrivateKey: created.PrivateKey,
		Warning:    "store this private key securely; it will not be shown again",
	})
}

type importWalletRequest struct {
	PrivateKey string `json:"private_key"`
}

type importWalletResponse struct {
	Address string `json:"address"`
}

// ImportWallet installs a credential from a caller-provided private key.
// POST /wallet/from-private-key
func (h *WalletHandler) ImportWallet(w http.ResponseWriter, r *http.Request) {
	var req importWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid request body: "+err.Error())
		return
	}
	if req.PrivateKey == "" {
		writeInvalid(w, "private_key is required")
		return
	}

	addr, err := h.svc.ImportWallet(req.PrivateKey)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, importWalletResponse{Address: addr.Hex()})
}

// Status reports whether a credential is active, without key material.
// GET /wallet/status
func (h *WalletHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.WalletStatus())
}

// Clear removes the session credential.
// DELETE /wallet
func (h *WalletHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.svc.ClearWallet()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
