package gateway

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
	// ErrDuplicatePayment is returned when (wallet_id, idempotency_key)
	// already has a payment row.
	ErrDuplicatePayment = errors.New("duplicate payment")
	ErrPaymentNotFound  = errors.New("payment not found")
)

// Store is the persistence contract for the gateway adapter.
type Store interface {
	// FindPaymentByKey returns the stored payment for (walletID, key), or
	// nil when the key has not been used for this wallet.
	FindPaymentByKey(ctx context.Context, walletID, key string) (*domain.Payment, error)
	// CreatePayment inserts the payment and its first attempt atomically.
	CreatePayment(ctx context.Context, p domain.Payment, attempt domain.PaymentAttempt) error
	// FinishAttempt records the gateway response on the attempt row.
	FinishAttempt(ctx context.Context, attemptID string, status domain.AttemptStatus, rawResponse, errCode, errMsg string) error
	// FinalizePayment moves the payment to its terminal status.
	FinalizePayment(ctx context.Context, paymentID string, status domain.PaymentStatus, gatewayRef string) error
}

// PGStore is the Postgres-backed Store.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const gatewaySchema = `
CREATE TABLE IF NOT EXISTS payments (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	wallet_id TEXT NOT NULL,
	transaction_id TEXT NOT NULL,
	amount BIGINT NOT NULL CHECK (amount > 0),
	currency TEXT NOT NULL,
	status TEXT NOT NULL,
	type TEXT NOT NULL,
	gateway_reference TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (wallet_id, idempotency_key)
);
CREATE TABLE IF NOT EXISTS payment_attempts (
	id TEXT PRIMARY KEY,
	payment_id TEXT NOT NULL REFERENCES payments(id),
	gateway TEXT NOT NULL,
	status TEXT NOT NULL,
	raw_request JSONB NOT NULL DEFAULT '{}',
	raw_response JSONB NOT NULL DEFAULT '{}',
	error_code TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	attempt_number INT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS payment_attempts_payment
	ON payment_attempts (payment_id, attempt_number);
`

// InitSchema creates the payment tables if they do not exist.
func (s *PGStore) InitSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, gatewaySchema)
	if err != nil {
		return fmt.Errorf("gateway schema init failed: %w", err)
	}
	return nil
}

const paymentColumns = `id, user_id, wallet_id, transaction_id, amount, currency, status, type, gateway_reference, idempotency_key, created_at, updated_at`

func (s *PGStore) FindPaymentByKey(ctx context.Context, walletID, key string) (*domain.Payment, error) {
	var p domain.Payment
	err := s.db.QueryRow(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE wallet_id = $1 AND idempotency_key = $2",
		walletID, key,
	).Scan(&p.ID, &p.UserID, &p.WalletID, &p.TransactionID, &p.Amount, &p.Currency,
		&p.Status, &p.Type, &p.GatewayReference, &p.IdempotencyKey, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("payment lookup failed: %w", err)
	}
	return &p, nil
}

func (s *PGStore) CreatePayment(ctx context.Context, p domain.Payment, attempt domain.PaymentAttempt) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO payments (id, user_id, wallet_id, transaction_id, amount, currency, status, type, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.UserID, p.WalletID, p.TransactionID, p.Amount, p.Currency, p.Status, p.Type, p.IdempotencyKey,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("payment insert failed: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO payment_attempts (id, payment_id, gateway, status, raw_request, attempt_number)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		attempt.ID, attempt.PaymentID, attempt.Gateway, attempt.Status, attempt.RawRequest, attempt.AttemptNumber,
	)
	if err != nil {
		return fmt.Errorf("attempt insert failed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (s *PGStore) FinishAttempt(ctx context.Context, attemptID string, status domain.AttemptStatus, rawResponse, errCode, errMsg string) error {
	if rawResponse == "" {
		rawResponse = "{}"
	}
	ct, err := s.db.Exec(ctx,
		`UPDATE payment_attempts SET status = $1, raw_response = $2, error_code = $3, error_message = $4
		 WHERE id = $5`,
		status, rawResponse, errCode, errMsg, attemptID)
	if err != nil {
		return fmt.Errorf("attempt update failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("attempt %s not found", attemptID)
	}
	return nil
}

func (s *PGStore) FinalizePayment(ctx context.Context, paymentID string, status domain.PaymentStatus, gatewayRef string) error {
	ct, err := s.db.Exec(ctx,
		`UPDATE payments SET status = $1, gateway_reference = $2, updated_at = NOW() WHERE id = $3`,
		status, gatewayRef, paymentID)
	if err != nil {
		return fmt.Errorf("payment update failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}
