package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Lagnajit09/swiftpay-infraops-sub000/internal/domain"
)

var (
	ErrTxnNotFound    = errors.New("transaction not found")
	ErrDuplicateTxn   = errors.New("duplicate transaction")
	ErrNotCancellable = errors.New("transaction is not pending")
)

// Update carries the fields a saga step may set on a transaction. Metadata
// keys are merged into the stored metadata, never replaced wholesale.
type Update struct {
	Status             domain.TransactionStatus
	LedgerReferenceID  string
	PaymentReferenceID string
	Metadata           map[string]string
}

// SummaryRow is one bucket of the per-user summary projection.
type SummaryRow struct {
	Status      domain.TransactionStatus `json:"status"`
	Flow        domain.TransactionFlow   `json:"flow"`
	Count       int64                    `json:"count"`
	TotalAmount int64                    `json:"total_amount"`
}

// Store is the persistence contract for transaction records.
type Store interface {
	Create(ctx context.Context, t *domain.Transaction) error
	// CreatePair inserts both legs of a P2P transfer atomically.
	CreatePair(ctx context.Context, debit, credit *domain.Transaction) error
	Get(ctx context.Context, id string) (*domain.Transaction, error)
	// FindByKey returns the transaction for (userID, idempotencyKey), or
	// nil when the key is unused.
	FindByKey(ctx context.Context, userID, key string) (*domain.Transaction, error)
	Apply(ctx context.Context, id string, u Update) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Transaction, error)
	ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]domain.Transaction, error)
	ListPending(ctx context.Context, limit, offset int) ([]domain.Transaction, error)
	Summary(ctx context.Context, userID string) ([]SummaryRow, error)
	// CancelIfPending flips PENDING to CANCELLED; any other state fails
	// with ErrNotCancellable.
	CancelIfPending(ctx context.Context, id string) (*domain.Transaction, error)
}

// PGStore is the Postgres-backed Store.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const txnSchema = `
CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	wallet_id TEXT NOT NULL DEFAULT '',
	amount BIGINT NOT NULL CHECK (amount > 0),
	currency TEXT NOT NULL DEFAULT 'INR',
	type TEXT NOT NULL,
	flow TEXT NOT NULL,
	status TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	payment_method_id TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT,
	ledger_reference_id TEXT NOT NULL DEFAULT '',
	payment_reference_id TEXT NOT NULL DEFAULT '',
	related_txn_id TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS transactions_user_idem_key
	ON transactions (user_id, idempotency_key)
	WHERE idempotency_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS transactions_user_created
	ON transactions (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS transactions_wallet_created
	ON transactions (wallet_id, created_at DESC);
CREATE INDEX IF NOT EXISTS transactions_status
	ON transactions (status) WHERE status = 'PENDING';
`

// InitSchema creates the transactions table if it does not exist.
func (s *PGStore) InitSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, txnSchema)
	if err != nil {
		return fmt.Errorf("orchestrator schema init failed: %w", err)
	}
	return nil
}

const txnColumns = `id, user_id, wallet_id, amount, currency, type, flow, status, description,
	payment_method_id, COALESCE(idempotency_key, ''), ledger_reference_id, payment_reference_id,
	related_txn_id, metadata, created_at, updated_at`

func scanTxn(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.WalletID, &t.Amount, &t.Currency, &t.Type, &t.Flow,
		&t.Status, &t.Description, &t.PaymentMethodID, &t.IdempotencyKey,
		&t.LedgerReferenceID, &t.PaymentReferenceID, &t.RelatedTxnID, &t.Metadata,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func insertTxnTx(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	var key any
	if t.IdempotencyKey != "" {
		key = t.IdempotencyKey
	}
	meta := t.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, wallet_id, amount, currency, type, flow, status,
			description, payment_method_id, idempotency_key, related_txn_id, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.UserID, t.WalletID, t.Amount, t.Currency, t.Type, t.Flow, t.Status,
		t.Description, t.PaymentMethodID, key, t.RelatedTxnID, meta,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateTxn
		}
		return fmt.Errorf("transaction insert failed: %w", err)
	}
	return nil
}

func (s *PGStore) Create(ctx context.Context, t *domain.Transaction) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := insertTxnTx(ctx, tx, t); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) CreatePair(ctx context.Context, debit, credit *domain.Transaction) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := insertTxnTx(ctx, tx, debit); err != nil {
		return err
	}
	if err := insertTxnTx(ctx, tx, credit); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	t, err := scanTxn(s.db.QueryRow(ctx, "SELECT "+txnColumns+" FROM transactions WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTxnNotFound
	}
	return t, err
}

func (s *PGStore) FindByKey(ctx context.Context, userID, key string) (*domain.Transaction, error) {
	t, err := scanTxn(s.db.QueryRow(ctx,
		"SELECT "+txnColumns+" FROM transactions WHERE user_id = $1 AND idempotency_key = $2",
		userID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *PGStore) Apply(ctx context.Context, id string, u Update) error {
	meta := u.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	ct, err := s.db.Exec(ctx,
		`UPDATE transactions SET
			status = COALESCE(NULLIF($1, ''), status),
			ledger_reference_id = COALESCE(NULLIF($2, ''), ledger_reference_id),
			payment_reference_id = COALESCE(NULLIF($3, ''), payment_reference_id),
			metadata = metadata || $4,
			updated_at = NOW()
		 WHERE id = $5`,
		string(u.Status), u.LedgerReferenceID, u.PaymentReferenceID, meta, id)
	if err != nil {
		return fmt.Errorf("transaction update failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrTxnNotFound
	}
	return nil
}

func (s *PGStore) list(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, fmt.Errorf("transaction scan failed: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 50
	}
	return limit
}

func (s *PGStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Transaction, error) {
	return s.list(ctx,
		"SELECT "+txnColumns+" FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
		userID, clampLimit(limit), offset)
}

func (s *PGStore) ListByWallet(ctx context.Context, walletID string, limit, offset int) ([]domain.Transaction, error) {
	return s.list(ctx,
		"SELECT "+txnColumns+" FROM transactions WHERE wallet_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
		walletID, clampLimit(limit), offset)
}

func (s *PGStore) ListPending(ctx context.Context, limit, offset int) ([]domain.Transaction, error) {
	return s.list(ctx,
		"SELECT "+txnColumns+" FROM transactions WHERE status = 'PENDING' ORDER BY created_at ASC LIMIT $1 OFFSET $2",
		clampLimit(limit), offset)
}

func (s *PGStore) Summary(ctx context.Context, userID string) ([]SummaryRow, error) {
	rows, err := s.db.Query(ctx,
		`SELECT status, flow, COUNT(*), COALESCE(SUM(amount), 0)
		 FROM transactions WHERE user_id = $1
		 GROUP BY status, flow ORDER BY status, flow`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SummaryRow
	for rows.Next() {
		var r SummaryRow
		if err := rows.Scan(&r.Status, &r.Flow, &r.Count, &r.TotalAmount); err != nil {
			return nil, fmt.Errorf("summary scan failed: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) CancelIfPending(ctx context.Context, id string) (*domain.Transaction, error) {
	t, err := scanTxn(s.db.QueryRow(ctx,
		`UPDATE transactions SET status = 'CANCELLED', updated_at = NOW()
		 WHERE id = $1 AND status = 'PENDING'
		 RETURNING `+txnColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		// Either absent or not pending; look it up to tell the two apart.
		existing, gerr := s.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return existing, ErrNotCancellable
	}
	return t, err
}
