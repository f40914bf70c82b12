package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
	"pitaxi/internal/repository"
)

func newTrip(id string, requestedAt time.Time) *domain.Trip {
	return &domain.Trip{
		ID:            id,
		TripNumber:    "TRP-" + id,
		RiderID:       "rider-1",
		Status:        domain.TripStatusRequested,
		PaymentStatus: domain.PaymentStatusPending,
		EstimatedFare: decimal.RequireFromString("21.40"),
		RequestedAt:   requestedAt,
	}
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	t.Parallel()
	store := NewStore()
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if err := repos.Trips.Create(ctx, newTrip("t1", time.Now())); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := store.Repos().Trips.GetByID(ctx, "t1"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected the write to be discarded, got %v", err)
	}

	if err := store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		return repos.Trips.Create(ctx, newTrip("t2", time.Now()))
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := store.Repos().Trips.GetByID(ctx, "t2"); err != nil {
		t.Errorf("expected the write to persist, got %v", err)
	}
}

func TestWithinTx_RollbackKeepsOutsideWrites(t *testing.T) {
	t.Parallel()
	store := NewStore()
	ctx := context.Background()
	trips := store.Repos().Trips

	trip := newTrip("t1", time.Now())
	trip.PaymentStatus = domain.PaymentStatusEscrowed
	if err := trips.Create(ctx, trip); err != nil {
		t.Fatalf("create: %v", err)
	}

	var (
		wg         sync.WaitGroup
		outsideOK  bool
		outsideErr error
	)
	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if err := repos.Users.Create(ctx, &domain.User{ID: "u1", PiUID: "pi-u1"}); err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			outsideOK, outsideErr = trips.UpdatePaymentStatus(ctx, "t1", domain.PaymentStatusEscrowed, domain.PaymentStatusSettling)
		}()
		time.Sleep(20 * time.Millisecond)
		return boom
	})
	wg.Wait()

	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if outsideErr != nil || !outsideOK {
		t.Fatalf("outside write: ok=%v err=%v", outsideOK, outsideErr)
	}
	got, err := trips.GetByID(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PaymentStatus != domain.PaymentStatusSettling {
		t.Errorf("expected the outside write to survive the rollback, got %s", got.PaymentStatus)
	}
	if _, err := store.Repos().Users.GetByID(ctx, "u1"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected the transaction's write to be discarded, got %v", err)
	}
}

func TestTrips_AssignIsCompareAndSet(t *testing.T) {
	t.Parallel()
	store := NewStore()
	ctx := context.Background()
	trips := store.Repos().Trips

	if err := trips.Create(ctx, newTrip("t1", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for _, driver := range []string{"d1", "d2", "d3", "d4"} {
		wg.Add(1)
		go func(driver string) {
			defer wg.Done()
			ok, err := trips.Assign(ctx, "t1", driver, time.Now())
			if err != nil {
				t.Errorf("assign: %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners = append(winners, driver)
				mu.Unlock()
			}
		}(driver)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected one winner, got %v", winners)
	}
	got, _ := trips.GetByID(ctx, "t1")
	if got.DriverID != winners[0] || got.Status != domain.TripStatusAccepted {
		t.Errorf("unexpected trip %s/%s", got.DriverID, got.Status)
	}
}

func TestTrips_ListNewestFirst(t *testing.T) {
	t.Parallel()
	store := NewStore()
	ctx := context.Background()
	trips := store.Repos().Trips

	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := trips.Create(ctx, newTrip(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := trips.Create(ctx, newTrip("a", base)); !errors.Is(err, repository.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	list, err := trips.List(ctx, domain.TripFilter{RiderID: "rider-1", Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "b" {
		t.Errorf("unexpected order: %v", ids(list))
	}
}

func TestTransactions_OneNonFailedRowPerType(t *testing.T) {
	t.Parallel()
	store := NewStore()
	ctx := context.Background()
	txns := store.Repos().Transactions

	row := func(id string, status domain.TransactionStatus) *domain.PaymentTransaction {
		return &domain.PaymentTransaction{
			ID:     id,
			TripID: "t1",
			Type:   domain.TransactionDriverPayout,
			Amount: decimal.RequireFromString("19.26"),
			Status: status,
		}
	}

	if err := txns.Create(ctx, row("r1", domain.TransactionStatusFailed)); err != nil {
		t.Fatalf("failed row: %v", err)
	}
	if err := txns.Create(ctx, row("r2", domain.TransactionStatusPending)); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if err := txns.Create(ctx, row("r3", domain.TransactionStatusPending)); !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for a second live row, got %v", err)
	}

	active, err := txns.GetActive(ctx, "t1", domain.TransactionDriverPayout)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active.ID != "r2" {
		t.Errorf("expected r2 active, got %s", active.ID)
	}

	ok, err := txns.UpdateStatus(ctx, repository.TransactionUpdate{
		ID: "r2", From: domain.TransactionStatusPending, To: domain.TransactionStatusCompleted, ExternalTxID: "chain-1",
	})
	if err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}
	ok, err = txns.UpdateStatus(ctx, repository.TransactionUpdate{
		ID: "r2", From: domain.TransactionStatusCompleted, To: domain.TransactionStatusFailed,
	})
	if err != nil || ok {
		t.Errorf("a completed row must not change: ok=%v err=%v", ok, err)
	}
}

func TestTreasury_RunningBalance(t *testing.T) {
	t.Parallel()
	store := NewStore()
	ctx := context.Background()
	treasury := store.Repos().Treasury

	for _, amount := range []string{"2.14", "0.80", "11.40"} {
		if err := treasury.Append(ctx, &domain.TreasuryEntry{
			Type:   domain.TreasuryEntryFee,
			Amount: decimal.RequireFromString(amount),
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	latest, err := treasury.Latest(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !latest.BalanceAfter.Equal(decimal.RequireFromString("14.34")) {
		t.Errorf("balance = %s, want 14.34", latest.BalanceAfter)
	}

	entries, err := treasury.List(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != latest.ID {
		t.Errorf("expected newest first, got %+v", entries)
	}
}

func TestPricing_SingleActive(t *testing.T) {
	t.Parallel()
	store := NewStore()
	ctx := context.Background()
	pricing := store.Repos().Pricing

	for _, id := range []string{"p1", "p2"} {
		if err := pricing.Create(ctx, &domain.PricingConfig{ID: id, Name: id, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := pricing.Activate(ctx, "p1"); err != nil {
		t.Fatalf("activate p1: %v", err)
	}
	if err := pricing.Activate(ctx, "p2"); !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate while p1 is active, got %v", err)
	}

	if err := pricing.DeactivateAll(ctx); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := pricing.Activate(ctx, "p2"); err != nil {
		t.Fatalf("activate p2: %v", err)
	}
	active, err := pricing.GetActive(ctx)
	if err != nil || active.ID != "p2" {
		t.Errorf("expected p2 active, got %v / %v", active, err)
	}
	if err := pricing.Activate(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUsers_ApplyRatingAverages(t *testing.T) {
	t.Parallel()
	store := NewStore()
	ctx := context.Background()
	users := store.Repos().Users

	if err := users.Create(ctx, &domain.User{ID: "u1", PiUID: "pi-u1", Rating: decimal.NewFromInt(5)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, r := range []int{4, 3} {
		if err := users.ApplyRating(ctx, "u1", r); err != nil {
			t.Fatalf("rate: %v", err)
		}
	}

	u, err := users.GetByID(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !u.Rating.Equal(decimal.RequireFromString("3.5")) || u.RatingCount != 2 {
		t.Errorf("rating = %s over %d, want 3.5 over 2", u.Rating, u.RatingCount)
	}
}

func TestDrivers_Availability(t *testing.T) {
	t.Parallel()
	store := NewStore()
	ctx := context.Background()
	drivers := store.Repos().Drivers

	if err := drivers.Create(ctx, &domain.DriverProfile{
		UserID:             "d1",
		IsOnline:           true,
		IsAvailable:        true,
		VerificationStatus: domain.VerificationVerified,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := drivers.ClaimAvailability(ctx, "d1")
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	if ok, _ := drivers.ClaimAvailability(ctx, "d1"); ok {
		t.Error("a busy driver must not be claimed twice")
	}
	if n, _ := drivers.CountAvailable(ctx); n != 0 {
		t.Errorf("expected no available drivers, got %d", n)
	}

	if err := drivers.ReleaseAvailability(ctx, "d1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if n, _ := drivers.CountAvailable(ctx); n != 1 {
		t.Errorf("expected one available driver, got %d", n)
	}
}

func ids(trips []*domain.Trip) []string {
	out := make([]string, 0, len(trips))
	for _, t := range trips {
		out = append(out, t.ID)
	}
	return out
}
