package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Lagnajit09/swiftpay-infraops-sub000/internal/domain"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidStatus       = errors.New("invalid wallet status")
	ErrWalletNotActive     = errors.New("wallet not active")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrSameWallet          = errors.New("sender and recipient wallet are the same")
	ErrConcurrencyConflict = errors.New("concurrent modification, retries exhausted")
)

// Engine owns all wallet balance mutations. Every operation is one atomic
// store transaction; conflicting writers are resolved by retrying the full
// read-validate-write cycle against the wallet version.
type Engine struct {
	store   Store
	retries int
}

func NewEngine(store Store, retries int) *Engine {
	if retries <= 0 {
		retries = 3
	}
	return &Engine{store: store, retries: retries}
}

// MutationParams describes a single-wallet credit or debit.
type MutationParams struct {
	WalletID       string
	Amount         int64
	Description    string
	ReferenceID    string
	IdempotencyKey string
}

// MutationResult reports the outcome of a credit or debit. Applied is false
// when the idempotency key had already been used and the stored outcome was
// returned instead of re-applying the change.
type MutationResult struct {
	WalletID string `json:"wallet_id"`
	Balance  int64  `json:"balance"`
	EntryID  string `json:"ledger_entry_id"`
	Applied  bool   `json:"-"`
}

// GetOrCreateWallet returns the user's wallet, creating an ACTIVE one with
// zero balance on first access.
func (e *Engine) GetOrCreateWallet(ctx context.Context, userID, currency string) (*domain.Wallet, error) {
	w, err := e.store.GetWalletByUser(ctx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}
	if currency == "" {
		currency = "INR"
	}
	created, err := e.store.CreateWallet(ctx, domain.Wallet{
		ID:       uuid.NewString(),
		UserID:   userID,
		Currency: currency,
		Status:   domain.WalletActive,
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("wallet created",
		zap.String("wallet_id", created.ID), zap.String("user_id", userID))
	return created, nil
}

func (e *Engine) GetWallet(ctx context.Context, walletID string) (*domain.Wallet, error) {
	return e.store.GetWallet(ctx, walletID)
}

func (e *Engine) ListEntries(ctx context.Context, walletID string, limit, offset int) ([]domain.LedgerEntry, error) {
	if _, err := e.store.GetWallet(ctx, walletID); err != nil {
		return nil, err
	}
	return e.store.ListEntries(ctx, walletID, limit, offset)
}

// SetWalletStatus transitions a wallet's status. CLOSED is one-way.
func (e *Engine) SetWalletStatus(ctx context.Context, walletID string, status domain.WalletStatus) error {
	switch status {
	case domain.WalletActive, domain.WalletSuspended, domain.WalletClosed:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	w, err := e.store.GetWallet(ctx, walletID)
	if err != nil {
		return err
	}
	if w.Status == domain.WalletClosed {
		return fmt.Errorf("wallet closed: %w", ErrWalletNotActive)
	}
	return e.store.SetWalletStatus(ctx, walletID, status)
}

// Credit adds funds to a wallet.
func (e *Engine) Credit(ctx context.Context, p MutationParams) (*MutationResult, error) {
	return e.mutate(ctx, domain.EntryCredit, p)
}

// Debit removes funds from a wallet, refusing to take the balance negative.
func (e *Engine) Debit(ctx context.Context, p MutationParams) (*MutationResult, error) {
	return e.mutate(ctx, domain.EntryDebit, p)
}

func (e *Engine) mutate(ctx context.Context, typ domain.EntryType, p MutationParams) (*MutationResult, error) {
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	for attempt := 0; attempt < e.retries; attempt++ {
		w, err := e.store.GetWallet(ctx, p.WalletID)
		if err != nil {
			return nil, err
		}

		// Replay detection before any validation: a key that already
		// produced an entry returns the original outcome even if the
		// wallet state has since changed.
		if p.IdempotencyKey != "" {
			prior, err := e.store.FindEntryByKey(ctx, p.WalletID, p.IdempotencyKey)
			if err != nil {
				return nil, err
			}
			if prior != nil {
				return replayResult(prior), nil
			}
		}

		if w.Status != domain.WalletActive {
			return nil, fmt.Errorf("wallet %s is %s: %w", w.ID, w.Status, ErrWalletNotActive)
		}
		newBalance := w.Balance + p.Amount
		if typ == domain.EntryDebit {
			if w.Balance < p.Amount {
				return nil, ErrInsufficientFunds
			}
			newBalance = w.Balance - p.Amount
		}

		m := Mutation{
			Entry: domain.LedgerEntry{
				ID:             uuid.NewString(),
				WalletID:       w.ID,
				Type:           typ,
				Amount:         p.Amount,
				ReferenceID:    p.ReferenceID,
				Description:    p.Description,
				IdempotencyKey: p.IdempotencyKey,
			},
			NewBalance:      newBalance,
			ExpectedVersion: w.Version,
		}

		switch err := e.store.ApplyMutation(ctx, m); {
		case err == nil:
			zap.L().Info("ledger mutation applied",
				zap.String("wallet_id", w.ID),
				zap.String("type", string(typ)),
				zap.Int64("amount", p.Amount),
				zap.Int64("balance", newBalance))
			return &MutationResult{WalletID: w.ID, Balance: newBalance, EntryID: m.Entry.ID, Applied: true}, nil
		case errors.Is(err, ErrVersionConflict):
			casConflicts.WithLabelValues(string(typ)).Inc()
			continue
		case errors.Is(err, ErrDuplicateEntry):
			// Two requests with the same key raced past the read check;
			// the other one committed. Return its stored outcome.
			prior, ferr := e.store.FindEntryByKey(ctx, p.WalletID, p.IdempotencyKey)
			if ferr != nil {
				return nil, ferr
			}
			if prior == nil {
				return nil, fmt.Errorf("duplicate entry without stored outcome: %w", err)
			}
			return replayResult(prior), nil
		default:
			return nil, err
		}
	}
	return nil, ErrConcurrencyConflict
}

func replayResult(e *domain.LedgerEntry) *MutationResult {
	idempotentReplays.Inc()
	return &MutationResult{
		WalletID: e.WalletID,
		Balance:  e.BalanceAfter,
		EntryID:  e.ID,
		Applied:  false,
	}
}

// TransferParams describes a wallet-to-wallet transfer.
type TransferParams struct {
	SenderWalletID    string
	RecipientWalletID string
	Amount            int64
	Description       string
	DebitReferenceID  string
	CreditReferenceID string
	IdempotencyKey    string
}

// TransferResult reports both legs of a committed transfer.
type TransferResult struct {
	SenderWalletID    string `json:"sender_wallet"`
	RecipientWalletID string `json:"recipient_wallet"`
	SenderBalance     int64  `json:"sender_balance"`
	RecipientBalance  int64  `json:"recipient_balance"`
	DebitEntryID      string `json:"debit_ledger_entry_id"`
	CreditEntryID     string `json:"credit_ledger_entry_id"`
	Applied           bool   `json:"-"`
}

// P2PTransfer moves funds between two wallets. Both legs commit in one
// store transaction or neither does.
func (e *Engine) P2PTransfer(ctx context.Context, p TransferParams) (*TransferResult, error) {
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if p.SenderWalletID == p.RecipientWalletID {
		return nil, ErrSameWallet
	}

	for attempt := 0; attempt < e.retries; attempt++ {
		sender, err := e.store.GetWallet(ctx, p.SenderWalletID)
		if err != nil {
			return nil, fmt.Errorf("sender wallet: %w", err)
		}
		recipient, err := e.store.GetWallet(ctx, p.RecipientWalletID)
		if err != nil {
			return nil, fmt.Errorf("recipient wallet: %w", err)
		}

		if p.IdempotencyKey != "" {
			res, err := e.findTransferReplay(ctx, p)
			if err != nil {
				return nil, err
			}
			if res != nil {
				return res, nil
			}
		}

		if sender.Status != domain.WalletActive {
			return nil, fmt.Errorf("sender wallet is %s: %w", sender.Status, ErrWalletNotActive)
		}
		if recipient.Status != domain.WalletActive {
			return nil, fmt.Errorf("recipient wallet is %s: %w", recipient.Status, ErrWalletNotActive)
		}
		if sender.Balance < p.Amount {
			return nil, ErrInsufficientFunds
		}

		debit := Mutation{
			Entry: domain.LedgerEntry{
				ID:             uuid.NewString(),
				WalletID:       sender.ID,
				Type:           domain.EntryDebit,
				Amount:         p.Amount,
				ReferenceID:    p.DebitReferenceID,
				Description:    p.Description,
				IdempotencyKey: p.IdempotencyKey,
			},
			NewBalance:      sender.Balance - p.Amount,
			ExpectedVersion: sender.Version,
		}
		credit := Mutation{
			Entry: domain.LedgerEntry{
				ID:             uuid.NewString(),
				WalletID:       recipient.ID,
				Type:           domain.EntryCredit,
				Amount:         p.Amount,
				ReferenceID:    p.CreditReferenceID,
				Description:    p.Description,
				IdempotencyKey: p.IdempotencyKey,
			},
			NewBalance:      recipient.Balance + p.Amount,
			ExpectedVersion: recipient.Version,
		}

		switch err := e.store.ApplyTransfer(ctx, debit, credit); {
		case err == nil:
			zap.L().Info("p2p transfer applied",
				zap.String("sender_wallet", sender.ID),
				zap.String("recipient_wallet", recipient.ID),
				zap.Int64("amount", p.Amount))
			return &TransferResult{
				SenderWalletID:    sender.ID,
				RecipientWalletID: recipient.ID,
				SenderBalance:     debit.NewBalance,
				RecipientBalance:  credit.NewBalance,
				DebitEntryID:      debit.Entry.ID,
				CreditEntryID:     credit.Entry.ID,
				Applied:           true,
			}, nil
		case errors.Is(err, ErrVersionConflict):
			casConflicts.WithLabelValues("P2P").Inc()
			continue
		case errors.Is(err, ErrDuplicateEntry):
			res, ferr := e.findTransferReplay(ctx, p)
			if ferr != nil {
				return nil, ferr
			}
			if res == nil {
				return nil, fmt.Errorf("duplicate transfer without stored outcome: %w", err)
			}
			return res, nil
		default:
			return nil, err
		}
	}
	return nil, ErrConcurrencyConflict
}

// findTransferReplay reconstructs the original transfer result from the two
// stored legs. The legs were written in one transaction, so either both
// exist or neither does.
func (e *Engine) findTransferReplay(ctx context.Context, p TransferParams) (*TransferResult, error) {
	debit, err := e.store.FindEntryByKey(ctx, p.SenderWalletID, p.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if debit == nil {
		return nil, nil
	}
	credit, err := e.store.FindEntryByKey(ctx, p.RecipientWalletID, p.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if credit == nil {
		return nil, fmt.Errorf("transfer replay found debit leg only for key %s", p.IdempotencyKey)
	}
	idempotentReplays.Inc()
	return &TransferResult{
		SenderWalletID:    p.SenderWalletID,
		RecipientWalletID: p.RecipientWalletID,
		SenderBalance:     debit.BalanceAfter,
		RecipientBalance:  credit.BalanceAfter,
		DebitEntryID:      debit.ID,
		CreditEntryID:     credit.ID,
		Applied:           false,
	}, nil
}
