package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/Lagnajit09/swiftpay-infraops-sub000/internal/domain"
)

// memStore implements Store with the same atomicity and compare-and-swap
// semantics as the Postgres store, so engine behavior can be exercised
// under real goroutine interleavings.
type memStore struct {
	mu      sync.Mutex
	wallets map[string]*domain.Wallet
	byUser  map[string]string
	entries map[string]domain.LedgerEntry
	byKey   map[string]string // walletID+"\x00"+idemKey -> entryID

	// test hooks
	beforeApply func()
	applyErr    error
}

func newMemStore() *memStore {
	return &memStore{
		wallets: make(map[string]*domain.Wallet),
		byUser:  make(map[string]string),
		entries: make(map[string]domain.LedgerEntry),
		byKey:   make(map[string]string),
	}
}

func (s *memStore) addWallet(w domain.Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := w
	s.wallets[w.ID] = &cp
	s.byUser[w.UserID] = w.ID
}

func (s *memStore) GetWallet(_ context.Context, walletID string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[walletID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *memStore) GetWalletByUser(_ context.Context, userID string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byUser[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *s.wallets[id]
	return &cp, nil
}

func (s *memStore) CreateWallet(_ context.Context, w domain.Wallet) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byUser[w.UserID]; ok {
		cp := *s.wallets[id]
		return &cp, nil
	}
	w.CreatedAt = time.Now()
	w.UpdatedAt = w.CreatedAt
	cp := w
	s.wallets[w.ID] = &cp
	s.byUser[w.UserID] = w.ID
	out := w
	return &out, nil
}

func (s *memStore) SetWalletStatus(_ context.Context, walletID string, status domain.WalletStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}
	w.Status = status
	return nil
}

func (s *memStore) FindEntryByKey(_ context.Context, walletID, key string) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[walletID+"\x00"+key]
	if !ok {
		return nil, nil
	}
	e := s.entries[id]
	return &e, nil
}

func (s *memStore) ApplyMutation(_ context.Context, m Mutation) error {
	if s.beforeApply != nil {
		s.beforeApply()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		err := s.applyErr
		s.applyErr = nil
		return err
	}
	return s.applyLocked(m)
}

func (s *memStore) ApplyTransfer(_ context.Context, debit, credit Mutation) error {
	if s.beforeApply != nil {
		s.beforeApply()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		err := s.applyErr
		s.applyErr = nil
		return err
	}
	// Validate both legs before touching anything so failure leaves no
	// partial state, mirroring the transactional store.
	if err := s.checkLocked(debit); err != nil {
		return err
	}
	if err := s.checkLocked(credit); err != nil {
		return err
	}
	if err := s.applyLocked(debit); err != nil {
		return err
	}
	return s.applyLocked(credit)
}

func (s *memStore) checkLocked(m Mutation) error {
	w, ok := s.wallets[m.Entry.WalletID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Version != m.ExpectedVersion {
		return ErrVersionConflict
	}
	if m.Entry.IdempotencyKey != "" {
		if _, dup := s.byKey[m.Entry.WalletID+"\x00"+m.Entry.IdempotencyKey]; dup {
			return ErrDuplicateEntry
		}
	}
	return nil
}

func (s *memStore) applyLocked(m Mutation) error {
	if err := s.checkLocked(m); err != nil {
		return err
	}
	w := s.wallets[m.Entry.WalletID]
	e := m.Entry
	e.BalanceAfter = m.NewBalance
	e.CreatedAt = time.Now()
	s.entries[e.ID] = e
	if e.IdempotencyKey != "" {
		s.byKey[e.WalletID+"\x00"+e.IdempotencyKey] = e.ID
	}
	w.Balance = m.NewBalance
	w.Version++
	w.UpdatedAt = e.CreatedAt
	return nil
}

func (s *memStore) ListEntries(_ context.Context, walletID string, limit, offset int) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range s.entries {
		if e.WalletID == walletID {
			out = append(out, e)
		}
	}
	return out, nil
}

// entrySum returns the signed sum of all entries for a wallet.
func (s *memStore) entrySum(walletID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, e := range s.entries {
		if e.WalletID != walletID {
			continue
		}
		if e.Type == domain.EntryCredit {
			sum += e.Amount
		} else {
			sum -= e.Amount
		}
	}
	return sum
}

func (s *memStore) entryCount(walletID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.WalletID == walletID {
			n++
		}
	}
	return n
}
