package postgres

import (
	"context"
	"database/sql"
	"time"

	"pitaxi/internal/domain"
	"pitaxi/internal/repository"
)

// TransactionRepository is a PostgreSQL implementation of repository.TransactionRepository.
type TransactionRepository struct {
	q Querier
}

const transactionColumns = `id, trip_id, transaction_type, from_user_id, to_user_id, amount,
	external_payment_id, external_tx_id, status, failure_reason, metadata, created_at, updated_at`

// Create appends a ledger row.
func (r *TransactionRepository) Create(ctx context.Context, txn *domain.PaymentTransaction) error {
	metadata, err := marshalJSON(txn.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payment_transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.q.ExecContext(ctx, query,
		txn.ID,
		txn.TripID,
		txn.Type,
		nullString(txn.FromUserID),
		nullString(txn.ToUserID),
		txn.Amount,
		nullString(txn.ExternalPaymentID),
		nullString(txn.ExternalTxID),
		txn.Status,
		txn.FailureReason,
		metadata,
		txn.CreatedAt,
		txn.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

// ListByTrip returns every row of a trip in creation order.
func (r *TransactionRepository) ListByTrip(ctx context.Context, tripID string) ([]*domain.PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE trip_id = $1 ORDER BY created_at, id`

	rows, err := r.q.QueryContext(ctx, query, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.PaymentTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}

	return out, rows.Err()
}

// GetByExternalPaymentID retrieves the row of a given type keyed by the external payment identifier.
func (r *TransactionRepository) GetByExternalPaymentID(ctx context.Context, paymentID string, txType domain.TransactionType) (*domain.PaymentTransaction, error) {
	query := `
		SELECT ` + transactionColumns + ` FROM payment_transactions
		WHERE external_payment_id = $1 AND transaction_type = $2
		ORDER BY created_at DESC LIMIT 1
	`
	return scanTransaction(r.q.QueryRowContext(ctx, query, paymentID, txType))
}

// GetActive retrieves the newest non-failed row of a type for a trip.
func (r *TransactionRepository) GetActive(ctx context.Context, tripID string, txType domain.TransactionType) (*domain.PaymentTransaction, error) {
	query := `
		SELECT ` + transactionColumns + ` FROM payment_transactions
		WHERE trip_id = $1 AND transaction_type = $2 AND status <> 'failed'
		ORDER BY created_at DESC LIMIT 1
	`
	return scanTransaction(r.q.QueryRowContext(ctx, query, tripID, txType))
}

// UpdateStatus moves a row that is not final from one status to another.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, u repository.TransactionUpdate) (bool, error) {
	query := `
		UPDATE payment_transactions
		SET status = $3,
			external_payment_id = COALESCE($4::text, external_payment_id),
			external_tx_id = COALESCE($5::text, external_tx_id),
			failure_reason = COALESCE($6::text, failure_reason),
			updated_at = $7
		WHERE id = $1 AND status = $2 AND status NOT IN ('completed', 'failed')
	`

	result, err := r.q.ExecContext(ctx, query,
		u.ID,
		u.From,
		u.To,
		nullString(u.ExternalPaymentID),
		nullString(u.ExternalTxID),
		nullString(u.FailureReason),
		time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}
	return affected(result)
}

func scanTransaction(row rowScanner) (*domain.PaymentTransaction, error) {
	var txn domain.PaymentTransaction
	var fromUser, toUser, paymentID, txID sql.NullString
	var metadata []byte

	err := row.Scan(
		&txn.ID,
		&txn.TripID,
		&txn.Type,
		&fromUser,
		&toUser,
		&txn.Amount,
		&paymentID,
		&txID,
		&txn.Status,
		&txn.FailureReason,
		&metadata,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}

	txn.FromUserID = fromUser.String
	txn.ToUserID = toUser.String
	txn.ExternalPaymentID = paymentID.String
	txn.ExternalTxID = txID.String
	if txn.Metadata, err = unmarshalJSON(metadata); err != nil {
		return nil, err
	}

	return &txn, nil
}

// treasuryLockKey serializes treasury appends across transactions.
const treasuryLockKey int64 = 0x7452534c

// TreasuryRepository is a PostgreSQL implementation of repository.TreasuryRepository.
type TreasuryRepository struct {
	q Querier
}

// Append stores the next ledger entry. It must run inside a transaction: the
// advisory lock is held until commit so concurrent appends see each other's balance.
func (r *TreasuryRepository) Append(ctx context.Context, entry *domain.TreasuryEntry) error {
	if _, err := r.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, treasuryLockKey); err != nil {
		return err
	}

	query := `
		INSERT INTO treasury_ledger (trip_id, transaction_id, entry_type, amount, balance_after, description, created_at)
		SELECT $1::uuid, $2::uuid, $3::text, $4::numeric,
		       COALESCE((SELECT balance_after FROM treasury_ledger ORDER BY id DESC LIMIT 1), 0) + $4::numeric,
		       $5::text, $6::timestamptz
		RETURNING id, balance_after
	`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	return r.q.QueryRowContext(ctx, query,
		nullString(entry.TripID),
		nullString(entry.TransactionID),
		entry.Type,
		entry.Amount,
		entry.Description,
		entry.CreatedAt,
	).Scan(&entry.ID, &entry.BalanceAfter)
}

// Latest returns the most recent entry.
func (r *TreasuryRepository) Latest(ctx context.Context) (*domain.TreasuryEntry, error) {
	entries, err := r.list(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, repository.ErrNotFound
	}
	return entries[0], nil
}

// List returns the newest entries first.
func (r *TreasuryRepository) List(ctx context.Context, limit int) ([]*domain.TreasuryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return r.list(ctx, limit)
}

func (r *TreasuryRepository) list(ctx context.Context, limit int) ([]*domain.TreasuryEntry, error) {
	query := `
		SELECT id, trip_id, transaction_id, entry_type, amount, balance_after, description, created_at
		FROM treasury_ledger ORDER BY id DESC LIMIT $1
	`

	rows, err := r.q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.TreasuryEntry
	for rows.Next() {
		var e domain.TreasuryEntry
		var tripID, txnID sql.NullString
		if err := rows.Scan(&e.ID, &tripID, &txnID, &e.Type, &e.Amount, &e.BalanceAfter, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.TripID = tripID.String
		e.TransactionID = txnID.String
		out = append(out, &e)
	}

	return out, rows.Err()
}

// Ensure implementations satisfy the interfaces.
var (
	_ repository.TransactionRepository = (*TransactionRepository)(nil)
	_ repository.TreasuryRepository    = (*TreasuryRepository)(nil)
)
