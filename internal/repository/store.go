package repository

import "context"

// Repositories groups every repository bound to the same connection or transaction.
type Repositories struct {
	Users        UserRepository
	Referrals    ReferralRepository
	Drivers      DriverRepository
	Pricing      PricingRepository
	Trips        TripRepository
	Transactions TransactionRepository
	Treasury     TreasuryRepository
	Disputes     DisputeRepository
	Transparency TransparencyRepository
}

// Store hands out repositories and runs units of work.
type Store interface {
	// Repos returns repositories that are not bound to a transaction.
	Repos() Repositories

	// WithinTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
