package wallet

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ambjn/ostium-whop/internal/domain"
)

// Session is the gateway's credential store. It holds at most one active
// signing credential; every trading operation obtains the credential through
// Active and fails with domain.ErrNotInitialized when none is set.
//
// The private key never leaves this package except as a domain.Credential
// capability handed to the submitter, or through PrivateKeyHex when the
// caller explicitly exports a freshly generated wallet.
type Session struct {
	mu     sync.RWMutex
	cred   domain.Credential
	active bool
	setAt  time.Time

	logger *slog.Logger
}

// Status is a redacted snapshot of the session for API responses.
type Status struct {
	Initialized bool           `json:"initialized"`
	Address     common.Address `json:"address,omitempty"`
	SetAt       time.Time      `json:"set_at,omitempty"`
}

// NewSession creates an empty session.
func NewSession(logger *slog.Logger) *Session {
	return &Session{
		logger: logger.With(slog.String("component", "wallet")),
	}
}

// Generate creates a fresh random credential and installs it, replacing any
// previous one. It returns the new credential so the caller can surface the
// private key exactly once at creation time.
func (s *Session) Generate() (domain.Credential, error) {
	cred, err := domain.GenerateCredential()
	if err != nil {
		return domain.Credential{}, err
	}
	s.install(cred)
	return cred, nil
}

// Import installs a credential derived from the given hex private key,
// replacing any previous one.
func (s *Session) Import(privateKeyHex string) (domain.Credential, error) {
	cred, err := domain.NewCredential(privateKeyHex)
	if err != nil {
		return domain.Credential{}, err
	}
	s.install(cred)
	return cred, nil
}

func (s *Session) install(cred domain.Credential) {
	s.mu.Lock()
	prev := s.active
	s.cred = cred
	s.active = true
	s.setAt = time.Now().UTC()
	s.mu.Unlock()

	s.logger.Info("credential installed",
		slog.String("address", cred.Address.Hex()),
		slog.Bool("replaced", prev))
}

// Active returns the current credential, or domain.ErrNotInitialized when no
// wallet has been created or imported.
func (s *Session) Active() (domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.active {
		return domain.Credential{}, domain.ErrNotInitialized
	}
	return s.cred, nil
}

// Address returns the active credential's address without exposing the key.
func (s *Session) Address() (common.Address, error) {
	cred, err := s.Active()
	if err != nil {
		return common.Address{}, err
	}
	return cred.Address, nil
}

// Clear removes the active credential. Subsequent trading operations fail
// with domain.ErrNotInitialized until a new credential is installed.
func (s *Session) Clear() {
	s.mu.Lock()
	had := s.active
	addr := s.cred.Address
	s.cred = domain.Credential{}
	s.active = false
	s.mu.Unlock()

	if had {
		s.logger.Info("credential cleared", slog.String("address", addr.Hex()))
	}
}

// Status reports whether a credential is active and for which address.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.active {
		return Status{}
	}
	return Status{Initialized: true, Address: s.cred.Address, SetAt: s.setAt}
}
