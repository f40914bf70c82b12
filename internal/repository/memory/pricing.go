package memory

import (
	"context"
	"sort"

	"pitaxi/internal/domain"
	"pitaxi/internal/repository"
)

type pricingRepo struct{ view }

func (r *pricingRepo) Create(ctx context.Context, cfg *domain.PricingConfig) error {
	defer r.lock()()
	if _, ok := r.s.data.pricing[cfg.ID]; ok {
		return repository.ErrDuplicate
	}
	c := *cfg
	c.IsActive = false
	r.s.data.pricing[c.ID] = c
	return nil
}

func (r *pricingRepo) GetByID(ctx context.Context, id string) (*domain.PricingConfig, error) {
	defer r.lock()()
	c, ok := r.s.data.pricing[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (r *pricingRepo) GetActive(ctx context.Context) (*domain.PricingConfig, error) {
	defer r.lock()()
	for _, c := range r.s.data.pricing {
		if c.IsActive {
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *pricingRepo) List(ctx context.Context) ([]*domain.PricingConfig, error) {
	defer r.lock()()
	out := make([]*domain.PricingConfig, 0, len(r.s.data.pricing))
	for _, c := range r.s.data.pricing {
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *pricingRepo) DeactivateAll(ctx context.Context) error {
	defer r.lock()()
	for id, c := range r.s.data.pricing {
		c.IsActive = false
		r.s.data.pricing[id] = c
	}
	return nil
}

// Activate mirrors the partial unique index: a second active row is rejected.
func (r *pricingRepo) Activate(ctx context.Context, id string) error {
	defer r.lock()()
	c, ok := r.s.data.pricing[id]
	if !ok {
		return repository.ErrNotFound
	}
	for otherID, other := range r.s.data.pricing {
		if otherID != id && other.IsActive {
			return repository.ErrDuplicate
		}
	}
	c.IsActive = true
	r.s.data.pricing[id] = c
	return nil
}

func (r *pricingRepo) AppendHistory(ctx context.Context, entry *domain.PricingHistory) error {
	defer r.lock()()
	r.s.data.history = append(r.s.data.history, *entry)
	return nil
}

var _ repository.PricingRepository = (*pricingRepo)(nil)
