// Package memory is an in-process implementation of the repository
// interfaces. It backs tests and local runs without PostgreSQL.
package memory

import (
	"context"
	"sync"

	"pitaxi/internal/domain"
	"pitaxi/internal/repository"
)

// Store keeps every table in maps guarded by one mutex. WithinTx holds the
// mutex for the whole unit of work and restores a snapshot when fn fails, so
// other writers wait for the commit as they would on a row lock.
type Store struct {
	mu   sync.Mutex
	data *state
}

// view is the handle every repository works through. Inside WithinTx the
// store mutex is already held.
type view struct {
	s    *Store
	inTx bool
}

func (v view) lock() func() {
	if v.inTx {
		return func() {}
	}
	v.s.mu.Lock()
	return v.s.mu.Unlock
}

type state struct {
	users     map[string]domain.User
	drivers   map[string]domain.DriverProfile
	referrals map[string]domain.AgentReferral
	pricing   map[string]domain.PricingConfig
	history   []domain.PricingHistory
	trips     map[string]domain.Trip
	txns      []domain.PaymentTransaction
	treasury  []domain.TreasuryEntry
	disputes  map[string]domain.Dispute
	logs      []domain.TransparencyLog
}

func newState() *state {
	return &state{
		users:     make(map[string]domain.User),
		drivers:   make(map[string]domain.DriverProfile),
		referrals: make(map[string]domain.AgentReferral),
		pricing:   make(map[string]domain.PricingConfig),
		trips:     make(map[string]domain.Trip),
		disputes:  make(map[string]domain.Dispute),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.drivers {
		c.drivers[k] = v
	}
	for k, v := range s.referrals {
		c.referrals[k] = v
	}
	for k, v := range s.pricing {
		c.pricing[k] = v
	}
	for k, v := range s.trips {
		c.trips[k] = v
	}
	for k, v := range s.disputes {
		c.disputes[k] = v
	}
	c.history = append([]domain.PricingHistory(nil), s.history...)
	c.txns = append([]domain.PaymentTransaction(nil), s.txns...)
	c.treasury = append([]domain.TreasuryEntry(nil), s.treasury...)
	c.logs = append([]domain.TransparencyLog(nil), s.logs...)
	return c
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{data: newState()}
}

// Repos returns repositories over the store.
func (s *Store) Repos() repository.Repositories {
	return s.repos(false)
}

func (s *Store) repos(inTx bool) repository.Repositories {
	v := view{s: s, inTx: inTx}
	return repository.Repositories{
		Users:        &userRepo{v},
		Referrals:    &referralRepo{v},
		Drivers:      &driverRepo{v},
		Pricing:      &pricingRepo{v},
		Trips:        &tripRepo{v},
		Transactions: &transactionRepo{v},
		Treasury:     &treasuryRepo{v},
		Disputes:     &disputeRepo{v},
		Transparency: &transparencyRepo{v},
	}
}

// WithinTx runs fn with the store locked. Writes made by fn are discarded if
// it returns an error. fn must only use the repositories it is given.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(ctx, s.repos(true)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

var _ repository.Store = (*Store)(nil)
