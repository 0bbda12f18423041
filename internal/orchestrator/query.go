package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/Lagnajit09/swiftpay-infraops-sub000/internal/domain"
)

// EnrichedTransaction is a transaction with its ledger entry attached when
// the ledger service could be reached. Enrichment is best-effort: a failed
// lookup degrades the response rather than failing the read.
type EnrichedTransaction struct {
	Transaction *domain.Transaction `json:"transaction"`
	LedgerEntry *domain.LedgerEntry `json:"ledger_entry,omitempty"`
}

// GetTransaction returns one transaction, enriched with the ledger entry
// it produced when one exists and the ledger service answers.
func (s *Service) GetTransaction(ctx context.Context, id string) (*EnrichedTransaction, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &EnrichedTransaction{Transaction: t}
	if t.LedgerReferenceID == "" || t.WalletID == "" {
		return out, nil
	}
	entries, err := s.ledger.ListEntries(ctx, t.WalletID, 100)
	if err != nil {
		zap.L().Warn("ledger enrichment unavailable",
			zap.String("transaction_id", id), zap.Error(err))
		return out, nil
	}
	for i := range entries {
		if entries[i].ID == t.LedgerReferenceID {
			out.LedgerEntry = &entries[i]
			break
		}
	}
	return out, nil
}

func (s *Service) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]domain.Transaction, error) {
	return s.store.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]domain.Transaction, error) {
	return s.store.ListByWallet(ctx, walletID, limit, offset)
}

// ListPending exposes unresolved transactions, including those flagged for
// reconciliation, for an operator or batch job.
func (s *Service) ListPending(ctx context.Context, limit, offset int) ([]domain.Transaction, error) {
	return s.store.ListPending(ctx, limit, offset)
}

func (s *Service) Summary(ctx context.Context, userID string) ([]SummaryRow, error) {
	return s.store.Summary(ctx, userID)
}

// Cancel flips a PENDING transaction to CANCELLED. Transactions flagged
// for reconciliation are refused: money moved at the gateway, and
// cancelling the record would hide that.
func (s *Service) Cancel(ctx context.Context, id, userID string) (*domain.Transaction, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, ErrTxnNotFound
	}
	if t.NeedsReconciliation() {
		return nil, ErrNotCancellable
	}
	return s.store.CancelIfPending(ctx, id)
}
