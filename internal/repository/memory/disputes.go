package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"pitaxi/internal/domain"
	"pitaxi/internal/repository"
)

type disputeRepo struct{ view }

func (r *disputeRepo) Create(ctx context.Context, d *domain.Dispute) error {
	defer r.lock()()
	for _, existing := range r.s.data.disputes {
		if existing.ID == d.ID {
			return repository.ErrDuplicate
		}
		if existing.TripID == d.TripID && !existing.Status.IsClosed() {
			return repository.ErrDuplicate
		}
	}
	r.s.data.disputes[d.ID] = *d
	return nil
}

func (r *disputeRepo) GetByID(ctx context.Context, id string) (*domain.Dispute, error) {
	defer r.lock()()
	d, ok := r.s.data.disputes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

func (r *disputeRepo) ListByTrip(ctx context.Context, tripID string) ([]*domain.Dispute, error) {
	defer r.lock()()
	var out []*domain.Dispute
	for _, d := range r.s.data.disputes {
		if d.TripID == tripID {
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *disputeRepo) GetOpenByTrip(ctx context.Context, tripID string) (*domain.Dispute, error) {
	defer r.lock()()
	for _, d := range r.s.data.disputes {
		if d.TripID == tripID && !d.Status.IsClosed() {
			return &d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *disputeRepo) UpdateStatus(ctx context.Context, id string, from []domain.DisputeStatus, to domain.DisputeStatus) (bool, error) {
	defer r.lock()()
	d, ok := r.s.data.disputes[id]
	if !ok || !slices.Contains(from, d.Status) {
		return false, nil
	}
	d.Status = to
	d.UpdatedAt = time.Now().UTC()
	r.s.data.disputes[id] = d
	return true, nil
}

func (r *disputeRepo) Close(ctx context.Context, c repository.DisputeClosure) (bool, error) {
	defer r.lock()()
	d, ok := r.s.data.disputes[c.DisputeID]
	if !ok || !slices.Contains(c.From, d.Status) {
		return false, nil
	}
	resolvedAt := c.ResolvedAt
	d.Status = c.Status
	d.Resolution = c.Resolution
	d.ResolutionNotes = c.Notes
	d.RefundAmount = c.RefundAmount
	d.RefundTarget = c.RefundTarget
	d.RefundStatus = c.RefundStatus
	d.ResolvedBy = c.ResolvedBy
	d.ResolvedAt = &resolvedAt
	d.UpdatedAt = resolvedAt
	r.s.data.disputes[c.DisputeID] = d
	return true, nil
}

type transparencyRepo struct{ view }

func (r *transparencyRepo) Append(ctx context.Context, entry *domain.TransparencyLog) error {
	defer r.lock()()
	r.s.data.logs = append(r.s.data.logs, *entry)
	return nil
}

func (r *transparencyRepo) List(ctx context.Context, filter domain.TransparencyFilter) ([]*domain.TransparencyLog, error) {
	defer r.lock()()
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*domain.TransparencyLog
	for i := len(r.s.data.logs) - 1; i >= 0 && len(out) < limit; i-- {
		entry := r.s.data.logs[i]
		if filter.TripID != "" && entry.TripID != filter.TripID {
			continue
		}
		if filter.EventType != "" && entry.EventType != filter.EventType {
			continue
		}
		out = append(out, &entry)
	}
	return out, nil
}

var (
	_ repository.DisputeRepository      = (*disputeRepo)(nil)
	_ repository.TransparencyRepository = (*transparencyRepo)(nil)
)
