package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
	"pitaxi/internal/repository"
)

type userRepo struct{ view }

func (r *userRepo) Create(ctx context.Context, user *domain.User) error {
	defer r.lock()()
	if _, ok := r.s.data.users[user.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, u := range r.s.data.users {
		if u.PiUID == user.PiUID {
			return repository.ErrDuplicate
		}
	}
	r.s.data.users[user.ID] = *user
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	defer r.lock()()
	u, ok := r.s.data.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r *userRepo) GetByPiUID(ctx context.Context, piUID string) (*domain.User, error) {
	defer r.lock()()
	for _, u := range r.s.data.users {
		if u.PiUID == piUID {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *userRepo) IncrementTrips(ctx context.Context, id string) error {
	defer r.lock()()
	u, ok := r.s.data.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.TotalTrips++
	u.UpdatedAt = time.Now().UTC()
	r.s.data.users[id] = u
	return nil
}

func (r *userRepo) ApplyRating(ctx context.Context, id string, rating int) error {
	defer r.lock()()
	u, ok := r.s.data.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.RatingCount++
	delta := decimal.NewFromInt(int64(rating)).Sub(u.Rating).Div(decimal.NewFromInt(int64(u.RatingCount)))
	u.Rating = u.Rating.Add(delta).Round(2)
	u.UpdatedAt = time.Now().UTC()
	r.s.data.users[id] = u
	return nil
}

type referralRepo struct{ view }

func (r *referralRepo) RecordTrip(ctx context.Context, agentID, referredUserID string, commission decimal.Decimal) error {
	defer r.lock()()
	key := agentID + "|" + referredUserID
	ref := r.s.data.referrals[key]
	ref.AgentID = agentID
	ref.ReferredUserID = referredUserID
	ref.TotalTrips++
	ref.TotalCommission = ref.TotalCommission.Add(commission)
	ref.UpdatedAt = time.Now().UTC()
	r.s.data.referrals[key] = ref
	return nil
}

func (r *referralRepo) ListByAgent(ctx context.Context, agentID string) ([]*domain.AgentReferral, error) {
	defer r.lock()()
	var out []*domain.AgentReferral
	for _, ref := range r.s.data.referrals {
		if ref.AgentID == agentID {
			out = append(out, &ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

type driverRepo struct{ view }

func (r *driverRepo) Create(ctx context.Context, profile *domain.DriverProfile) error {
	defer r.lock()()
	if _, ok := r.s.data.drivers[profile.UserID]; ok {
		return repository.ErrDuplicate
	}
	p := *profile
	p.IsAvailable = p.IsAvailable && p.IsOnline
	r.s.data.drivers[p.UserID] = p
	return nil
}

func (r *driverRepo) GetByUserID(ctx context.Context, userID string) (*domain.DriverProfile, error) {
	defer r.lock()()
	d, ok := r.s.data.drivers[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &d, nil
}

func (r *driverRepo) SetOnline(ctx context.Context, userID string, online bool) error {
	defer r.lock()()
	d, ok := r.s.data.drivers[userID]
	if !ok {
		return repository.ErrNotFound
	}
	busy := false
	for _, t := range r.s.data.trips {
		if t.DriverID == userID && (t.Status == domain.TripStatusAccepted || t.Status == domain.TripStatusInProgress) {
			busy = true
			break
		}
	}
	d.IsOnline = online
	d.IsAvailable = online && !busy
	d.UpdatedAt = time.Now().UTC()
	r.s.data.drivers[userID] = d
	return nil
}

func (r *driverRepo) ClaimAvailability(ctx context.Context, userID string) (bool, error) {
	defer r.lock()()
	d, ok := r.s.data.drivers[userID]
	if !ok || !d.CanAcceptTrips() {
		return false, nil
	}
	d.IsAvailable = false
	d.UpdatedAt = time.Now().UTC()
	r.s.data.drivers[userID] = d
	return true, nil
}

func (r *driverRepo) ReleaseAvailability(ctx context.Context, userID string) error {
	defer r.lock()()
	d, ok := r.s.data.drivers[userID]
	if !ok {
		return repository.ErrNotFound
	}
	d.IsAvailable = d.IsOnline
	d.UpdatedAt = time.Now().UTC()
	r.s.data.drivers[userID] = d
	return nil
}

func (r *driverRepo) AddEarnings(ctx context.Context, userID string, amount decimal.Decimal) error {
	defer r.lock()()
	d, ok := r.s.data.drivers[userID]
	if !ok {
		return repository.ErrNotFound
	}
	d.TotalEarnings = d.TotalEarnings.Add(amount)
	r.s.data.drivers[userID] = d
	return nil
}

func (r *driverRepo) UpdateVerification(ctx context.Context, userID string, status domain.VerificationStatus) error {
	defer r.lock()()
	d, ok := r.s.data.drivers[userID]
	if !ok {
		return repository.ErrNotFound
	}
	d.VerificationStatus = status
	r.s.data.drivers[userID] = d
	return nil
}

func (r *driverRepo) CountAvailable(ctx context.Context) (int, error) {
	defer r.lock()()
	n := 0
	for _, d := range r.s.data.drivers {
		if d.CanAcceptTrips() {
			n++
		}
	}
	return n, nil
}

var (
	_ repository.UserRepository     = (*userRepo)(nil)
	_ repository.ReferralRepository = (*referralRepo)(nil)
	_ repository.DriverRepository   = (*driverRepo)(nil)
)
