package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
	"pitaxi/internal/repository"
)

type tripRepo struct{ view }

func (r *tripRepo) Create(ctx context.Context, trip *domain.Trip) error {
	defer r.lock()()
	if _, ok := r.s.data.trips[trip.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, t := range r.s.data.trips {
		if t.TripNumber == trip.TripNumber {
			return repository.ErrDuplicate
		}
	}
	r.s.data.trips[trip.ID] = *trip
	return nil
}

func (r *tripRepo) GetByID(ctx context.Context, id string) (*domain.Trip, error) {
	defer r.lock()()
	t, ok := r.s.data.trips[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (r *tripRepo) List(ctx context.Context, filter domain.TripFilter) ([]*domain.Trip, error) {
	defer r.lock()()
	var out []*domain.Trip
	for _, t := range r.s.data.trips {
		if filter.RiderID != "" && t.RiderID != filter.RiderID {
			continue
		}
		if filter.DriverID != "" && t.DriverID != filter.DriverID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *tripRepo) CountByStatus(ctx context.Context, status domain.TripStatus) (int, error) {
	defer r.lock()()
	n := 0
	for _, t := range r.s.data.trips {
		if t.Status == status {
			n++
		}
	}
	return n, nil
}

// update applies fn to the trip while holding the lock. fn returns false to
// signal that the precondition did not hold.
func (r *tripRepo) update(id string, fn func(t *domain.Trip) bool) (bool, error) {
	defer r.lock()()
	t, ok := r.s.data.trips[id]
	if !ok {
		return false, nil
	}
	if !fn(&t) {
		return false, nil
	}
	t.UpdatedAt = time.Now().UTC()
	r.s.data.trips[id] = t
	return true, nil
}

func (r *tripRepo) Assign(ctx context.Context, tripID, driverID string, at time.Time) (bool, error) {
	return r.update(tripID, func(t *domain.Trip) bool {
		if t.Status != domain.TripStatusRequested || t.DriverID != "" {
			return false
		}
		t.Status = domain.TripStatusAccepted
		t.DriverID = driverID
		t.AcceptedAt = &at
		return true
	})
}

func (r *tripRepo) UpdateStatus(ctx context.Context, change repository.StatusChange) (bool, error) {
	return r.update(change.TripID, func(t *domain.Trip) bool {
		if !slices.Contains(change.From, t.Status) {
			return false
		}
		if len(change.PaymentIn) > 0 && !slices.Contains(change.PaymentIn, t.PaymentStatus) {
			return false
		}
		at := change.At
		t.Status = change.To
		switch change.To {
		case domain.TripStatusInProgress:
			t.StartedAt = &at
		case domain.TripStatusCompleted:
			t.CompletedAt = &at
		case domain.TripStatusCancelled:
			t.CancelledAt = &at
			t.CancellationReason = change.Reason
		}
		return true
	})
}

func (r *tripRepo) UpdatePaymentStatus(ctx context.Context, tripID string, from, to domain.PaymentStatus) (bool, error) {
	return r.update(tripID, func(t *domain.Trip) bool {
		if t.PaymentStatus != from {
			return false
		}
		t.PaymentStatus = to
		return true
	})
}

func (r *tripRepo) MarkEscrowed(ctx context.Context, tripID, paymentRef string, amount decimal.Decimal) (bool, error) {
	return r.update(tripID, func(t *domain.Trip) bool {
		if t.PaymentStatus != domain.PaymentStatusPending {
			return false
		}
		switch t.Status {
		case domain.TripStatusRequested, domain.TripStatusAccepted, domain.TripStatusInProgress:
		default:
			return false
		}
		t.PaymentStatus = domain.PaymentStatusEscrowed
		t.PaymentRef = paymentRef
		t.EscrowAmount = amount
		return true
	})
}

func (r *tripRepo) MarkSettled(ctx context.Context, tripID string, from domain.PaymentStatus, finalFare decimal.Decimal) (bool, error) {
	return r.update(tripID, func(t *domain.Trip) bool {
		if t.PaymentStatus != from {
			return false
		}
		t.PaymentStatus = domain.PaymentStatusCompleted
		t.FinalFare = &finalFare
		return true
	})
}

func (r *tripRepo) MarkDisputed(ctx context.Context, tripID string) (bool, error) {
	return r.update(tripID, func(t *domain.Trip) bool {
		switch t.Status {
		case domain.TripStatusAccepted, domain.TripStatusInProgress, domain.TripStatusCompleted:
		default:
			return false
		}
		if t.PaymentStatus != domain.PaymentStatusPending && t.PaymentStatus != domain.PaymentStatusEscrowed {
			return false
		}
		t.DisputedFromStatus = t.Status
		t.DisputedFromPaymentStatus = t.PaymentStatus
		t.Status = domain.TripStatusDisputed
		t.PaymentStatus = domain.PaymentStatusDisputed
		return true
	})
}

func (r *tripRepo) RestoreFromDispute(ctx context.Context, tripID string) (bool, error) {
	return r.update(tripID, func(t *domain.Trip) bool {
		if t.Status != domain.TripStatusDisputed || t.PaymentStatus != domain.PaymentStatusDisputed || t.DisputedFromStatus == "" {
			return false
		}
		t.Status = t.DisputedFromStatus
		t.PaymentStatus = t.DisputedFromPaymentStatus
		t.DisputedFromStatus = ""
		t.DisputedFromPaymentStatus = ""
		return true
	})
}

func (r *tripRepo) SetRating(ctx context.Context, tripID string, byRider bool, rating int, feedback string) (bool, error) {
	return r.update(tripID, func(t *domain.Trip) bool {
		if t.Status != domain.TripStatusCompleted {
			return false
		}
		if byRider {
			if t.RiderRating != nil {
				return false
			}
			t.RiderRating = &rating
			t.RiderFeedback = feedback
			return true
		}
		if t.DriverRating != nil {
			return false
		}
		t.DriverRating = &rating
		t.DriverFeedback = feedback
		return true
	})
}

var _ repository.TripRepository = (*tripRepo)(nil)
