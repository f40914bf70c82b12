package repository

import (
	"context"

	"pitaxi/internal/domain"
)

// TransactionRepository defines the persistence operations for the payment ledger.
type TransactionRepository interface {
	// Create appends a ledger row. Returns ErrDuplicate when a non-failed row
	// of the same settlement type already exists for the trip.
	Create(ctx context.Context, txn *domain.PaymentTransaction) error

	// ListByTrip returns every row of a trip in creation order.
	ListByTrip(ctx context.Context, tripID string) ([]*domain.PaymentTransaction, error)

	// GetByExternalPaymentID retrieves the row of a given type keyed by the
	// external payment identifier.
	GetByExternalPaymentID(ctx context.Context, paymentID string, txType domain.TransactionType) (*domain.PaymentTransaction, error)

	// GetActive retrieves the newest non-failed row of a type for a trip.
	GetActive(ctx context.Context, tripID string, txType domain.TransactionType) (*domain.PaymentTransaction, error)

	// UpdateStatus moves a row that is not final from one status to another.
	UpdateStatus(ctx context.Context, update TransactionUpdate) (bool, error)
}

// TransactionUpdate is a conditional ledger row update. Empty identifiers and
// reason keep the stored values.
type TransactionUpdate struct {
	ID                string
	From              domain.TransactionStatus
	To                domain.TransactionStatus
	ExternalPaymentID string
	ExternalTxID      string
	FailureReason     string
}

// TreasuryRepository defines the persistence operations for the treasury ledger.
type TreasuryRepository interface {
	// Append computes balance_after from the latest entry and stores the new
	// entry. ID and BalanceAfter are filled in on success.
	Append(ctx context.Context, entry *domain.TreasuryEntry) error

	// Latest returns the most recent entry. Returns ErrNotFound on an empty ledger.
	Latest(ctx context.Context) (*domain.TreasuryEntry, error)

	// List returns the newest entries first.
	List(ctx context.Context, limit int) ([]*domain.TreasuryEntry, error)
}
