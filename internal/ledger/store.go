package ledger

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
	// ErrWalletNotFound is returned when no wallet row exists for the id.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrVersionConflict is returned when the guarded balance update matched
	// zero rows, i.e. another writer committed first.
	ErrVersionConflict = errors.New("wallet version conflict")
	// ErrDuplicateEntry is returned when the (wallet_id, idempotency_key)
	// unique constraint rejected an insert.
	ErrDuplicateEntry = errors.New("duplicate ledger entry")
)

// Mutation is one balance change ready to be applied: the entry to append
// and the compare-and-swap guard read from the wallet row.
type Mutation struct {
	Entry           domain.LedgerEntry
	NewBalance      int64
	ExpectedVersion int64
}

// Store is the persistence contract the engine runs against.
type Store interface {
	GetWallet(ctx context.Context, walletID string) (*domain.Wallet, error)
	GetWalletByUser(ctx context.Context, userID string) (*domain.Wallet, error)
	CreateWallet(ctx context.Context, w domain.Wallet) (*domain.Wallet, error)
	SetWalletStatus(ctx context.Context, walletID string, status domain.WalletStatus) error
	// FindEntryByKey returns the stored entry for (walletID, key), or nil
	// when the key has not been used on this wallet.
	FindEntryByKey(ctx context.Context, walletID, key string) (*domain.LedgerEntry, error)
	// ApplyMutation inserts the entry and updates the wallet balance in one
	// transaction, guarded by the expected version.
	ApplyMutation(ctx context.Context, m Mutation) error
	// ApplyTransfer applies a debit and a credit mutation atomically.
	ApplyTransfer(ctx context.Context, debit, credit Mutation) error
	ListEntries(ctx context.Context, walletID string, limit, offset int) ([]domain.LedgerEntry, error)
}

// PGStore is the Postgres-backed Store.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS wallets (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL UNIQUE,
	currency TEXT NOT NULL DEFAULT 'INR',
	balance BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'ACTIVE',
	version BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS ledger_entries (
	id TEXT PRIMARY KEY,
	wallet_id TEXT NOT NULL REFERENCES wallets(id),
	type TEXT NOT NULL,
	amount BIGINT NOT NULL CHECK (amount > 0),
	balance_after BIGINT NOT NULL,
	reference_id TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}',
	idempotency_key TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_wallet_idem_key
	ON ledger_entries (wallet_id, idempotency_key)
	WHERE idempotency_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS ledger_entries_wallet_created
	ON ledger_entries (wallet_id, created_at DESC);
`

// InitSchema creates the ledger tables if they do not exist.
func (s *PGStore) InitSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, ledgerSchema)
	if err != nil {
		return fmt.Errorf("ledger schema init failed: %w", err)
	}
	return nil
}

const walletColumns = `id, user_id, currency, balance, status, version, created_at, updated_at`

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.Currency, &w.Balance, &w.Status, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (s *PGStore) GetWallet(ctx context.Context, walletID string) (*domain.Wallet, error) {
	row := s.db.QueryRow(ctx, "SELECT "+walletColumns+" FROM wallets WHERE id = $1", walletID)
	return scanWallet(row)
}

func (s *PGStore) GetWalletByUser(ctx context.Context, userID string) (*domain.Wallet, error) {
	row := s.db.QueryRow(ctx, "SELECT "+walletColumns+" FROM wallets WHERE user_id = $1", userID)
	return scanWallet(row)
}

// CreateWallet inserts a wallet for the user; on a user_id conflict it
// returns the existing row so get-or-create is race-safe.
func (s *PGStore) CreateWallet(ctx context.Context, w domain.Wallet) (*domain.Wallet, error) {
	_, err := s.db.Exec(ctx,
		"INSERT INTO wallets (id, user_id, currency, balance, status, version) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (user_id) DO NOTHING",
		w.ID, w.UserID, w.Currency, w.Balance, w.Status, w.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("wallet insert failed: %w", err)
	}
	return s.GetWalletByUser(ctx, w.UserID)
}

func (s *PGStore) SetWalletStatus(ctx context.Context, walletID string, status domain.WalletStatus) error {
	ct, err := s.db.Exec(ctx,
		"UPDATE wallets SET status = $1, updated_at = NOW() WHERE id = $2", status, walletID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

const entryColumns = `id, wallet_id, type, amount, balance_after, reference_id, description, metadata, COALESCE(idempotency_key, ''), created_at`

func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := row.Scan(&e.ID, &e.WalletID, &e.Type, &e.Amount, &e.BalanceAfter,
		&e.ReferenceID, &e.Description, &e.Metadata, &e.IdempotencyKey, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PGStore) FindEntryByKey(ctx context.Context, walletID, key string) (*domain.LedgerEntry, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE wallet_id = $1 AND idempotency_key = $2",
		walletID, key)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	}
	return e, nil
}

func (s *PGStore) ApplyMutation(ctx context.Context, m Mutation) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := applyMutationTx(ctx, tx, m); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// ApplyTransfer applies both legs in a single transaction; legs are ordered
// by wallet id so concurrent transfers cannot deadlock on row locks.
func (s *PGStore) ApplyTransfer(ctx context.Context, debit, credit Mutation) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	first, second := debit, credit
	if first.Entry.WalletID > second.Entry.WalletID {
		first, second = second, first
	}
	if err := applyMutationTx(ctx, tx, first); err != nil {
		return err
	}
	if err := applyMutationTx(ctx, tx, second); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func applyMutationTx(ctx context.Context, tx pgx.Tx, m Mutation) error {
	e := m.Entry
	var key any
	if e.IdempotencyKey != "" {
		key = e.IdempotencyKey
	}
	meta := e.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, wallet_id, type, amount, balance_after, reference_id, description, metadata, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.WalletID, e.Type, e.Amount, m.NewBalance, e.ReferenceID, e.Description, meta, key,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("ledger entry insert failed: %w", err)
	}

	ct, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2 AND version = $3`,
		m.NewBalance, e.WalletID, m.ExpectedVersion,
	)
	if err != nil {
		return fmt.Errorf("balance update failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *PGStore) ListEntries(ctx context.Context, walletID string, limit, offset int) ([]domain.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE wallet_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
		walletID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("entry scan failed: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
