package memory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
	"pitaxi/internal/repository"
)

type transactionRepo struct{ view }

func (r *transactionRepo) Create(ctx context.Context, txn *domain.PaymentTransaction) error {
	defer r.lock()()
	for _, existing := range r.s.data.txns {
		if existing.ID == txn.ID {
			return repository.ErrDuplicate
		}
		if existing.TripID == txn.TripID && existing.Type == txn.Type &&
			existing.Status != domain.TransactionStatusFailed && txn.Status != domain.TransactionStatusFailed {
			return repository.ErrDuplicate
		}
	}
	r.s.data.txns = append(r.s.data.txns, *txn)
	return nil
}

func (r *transactionRepo) ListByTrip(ctx context.Context, tripID string) ([]*domain.PaymentTransaction, error) {
	defer r.lock()()
	var out []*domain.PaymentTransaction
	for _, txn := range r.s.data.txns {
		if txn.TripID == tripID {
			out = append(out, &txn)
		}
	}
	return out, nil
}

func (r *transactionRepo) GetByExternalPaymentID(ctx context.Context, paymentID string, txType domain.TransactionType) (*domain.PaymentTransaction, error) {
	defer r.lock()()
	for i := len(r.s.data.txns) - 1; i >= 0; i-- {
		txn := r.s.data.txns[i]
		if txn.ExternalPaymentID == paymentID && txn.Type == txType {
			return &txn, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *transactionRepo) GetActive(ctx context.Context, tripID string, txType domain.TransactionType) (*domain.PaymentTransaction, error) {
	defer r.lock()()
	for i := len(r.s.data.txns) - 1; i >= 0; i-- {
		txn := r.s.data.txns[i]
		if txn.TripID == tripID && txn.Type == txType && txn.Status != domain.TransactionStatusFailed {
			return &txn, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *transactionRepo) UpdateStatus(ctx context.Context, u repository.TransactionUpdate) (bool, error) {
	defer r.lock()()
	for i, txn := range r.s.data.txns {
		if txn.ID != u.ID {
			continue
		}
		if txn.Status != u.From || txn.Status.IsFinal() {
			return false, nil
		}
		txn.Status = u.To
		if u.ExternalPaymentID != "" {
			txn.ExternalPaymentID = u.ExternalPaymentID
		}
		if u.ExternalTxID != "" {
			txn.ExternalTxID = u.ExternalTxID
		}
		if u.FailureReason != "" {
			txn.FailureReason = u.FailureReason
		}
		txn.UpdatedAt = time.Now().UTC()
		r.s.data.txns[i] = txn
		return true, nil
	}
	return false, nil
}

type treasuryRepo struct{ view }

func (r *treasuryRepo) Append(ctx context.Context, entry *domain.TreasuryEntry) error {
	defer r.lock()()
	balance := decimal.Zero
	if n := len(r.s.data.treasury); n > 0 {
		balance = r.s.data.treasury[n-1].BalanceAfter
	}
	entry.ID = int64(len(r.s.data.treasury) + 1)
	entry.BalanceAfter = balance.Add(entry.Amount)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.s.data.treasury = append(r.s.data.treasury, *entry)
	return nil
}

func (r *treasuryRepo) Latest(ctx context.Context) (*domain.TreasuryEntry, error) {
	defer r.lock()()
	n := len(r.s.data.treasury)
	if n == 0 {
		return nil, repository.ErrNotFound
	}
	e := r.s.data.treasury[n-1]
	return &e, nil
}

func (r *treasuryRepo) List(ctx context.Context, limit int) ([]*domain.TreasuryEntry, error) {
	defer r.lock()()
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*domain.TreasuryEntry
	for i := len(r.s.data.treasury) - 1; i >= 0 && len(out) < limit; i-- {
		e := r.s.data.treasury[i]
		out = append(out, &e)
	}
	return out, nil
}

var (
	_ repository.TransactionRepository = (*transactionRepo)(nil)
	_ repository.TreasuryRepository    = (*treasuryRepo)(nil)
)
