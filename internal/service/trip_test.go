package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"pitaxi/internal/domain"
	"pitaxi/internal/repository"
)

// ──────────────────────────────────────────────
// Creation
// ──────────────────────────────────────────────

func TestTrip_CreateFixesFareSplit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	trip := env.requestTrip(t, env.rider.ID)

	assertAmount(t, "estimated fare", trip.EstimatedFare, "21.40")
	assertAmount(t, "treasury fee", trip.TreasuryFee, "2.14")
	assertAmount(t, "agent commission", trip.AgentCommission, "0")
	assertAmount(t, "driver payout", trip.DriverPayout, "19.26")

	if trip.Status != domain.TripStatusRequested || trip.PaymentStatus != domain.PaymentStatusPending {
		t.Errorf("expected requested/pending, got %s/%s", trip.Status, trip.PaymentStatus)
	}
	if trip.ServiceType != domain.ServiceTypeTaxi || trip.VehicleType != domain.VehicleTypeEconomy {
		t.Errorf("expected taxi/economy defaults, got %s/%s", trip.ServiceType, trip.VehicleType)
	}
	if trip.PricingConfigID != domain.DefaultPricingConfigID {
		t.Errorf("expected default pricing, got %q", trip.PricingConfigID)
	}
	if !regexp.MustCompile(`^TRP-\d{8}-[0-9A-F]{6}$`).MatchString(trip.TripNumber) {
		t.Errorf("unexpected trip number %q", trip.TripNumber)
	}

	logs, err := env.audit.List(context.Background(), domain.TransparencyFilter{TripID: trip.ID})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 || logs[0].EventType != domain.EventTripRequested {
		t.Errorf("expected one trip_requested entry, got %+v", logs)
	}
	if got := env.publisher.published(); len(got) != 1 || got[0] != domain.EventTripRequested {
		t.Errorf("expected trip_requested to be published, got %v", got)
	}
}

func TestTrip_AgentComesFromReferral(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	referred := env.seedUser(t, "rider-referred", domain.UserRoleRider, env.agent.ID)

	trip := env.requestTrip(t, referred.ID)

	if trip.AgentID != env.agent.ID {
		t.Errorf("expected agent %s, got %q", env.agent.ID, trip.AgentID)
	}
	assertAmount(t, "agent commission", trip.AgentCommission, "1.07")
	assertAmount(t, "driver payout", trip.DriverPayout, "18.19")
}

func TestTrip_NoDriversDoublesFare(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	if _, err := env.drivers.SetOnline(context.Background(), env.driver.ID, false); err != nil {
		t.Fatalf("go offline: %v", err)
	}

	trip := env.requestTrip(t, env.rider.ID)
	assertAmount(t, "surge", trip.SurgeMultiplier, "2")
	assertAmount(t, "estimated fare", trip.EstimatedFare, "42.80")
}

func TestTrip_CreateValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateTripRequest
		want error
	}{
		{
			name: "unknown service type",
			req:  CreateTripRequest{ServiceType: "helicopter", DistanceKm: dec("3")},
			want: ErrInvalidServiceType,
		},
		{
			name: "unknown vehicle type",
			req:  CreateTripRequest{VehicleType: "limo", DistanceKm: dec("3")},
			want: ErrInvalidVehicleType,
		},
		{
			name: "latitude out of range",
			req:  CreateTripRequest{Pickup: domain.Location{Lat: 91}, DistanceKm: dec("3")},
			want: ErrInvalidLocation,
		},
		{
			name: "zero distance",
			req:  CreateTripRequest{},
			want: ErrInvalidDistance,
		},
		{
			name: "negative duration",
			req:  CreateTripRequest{DistanceKm: dec("3"), DurationMinutes: dec("-4")},
			want: ErrInvalidDuration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.RiderID = env.rider.ID
			if _, err := env.trips.Create(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// ──────────────────────────────────────────────
// Assignment
// ──────────────────────────────────────────────

func TestTrip_ConcurrentAssignHasOneWinner(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	second := env.seedUser(t, "driver-2", domain.UserRoleRider, "")
	env.seedDriver(t, second.ID)

	trip := env.requestTrip(t, env.rider.ID)

	drivers := []string{env.driver.ID, second.ID}
	errs := make([]error, len(drivers))

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, driverID := range drivers {
		wg.Add(1)
		go func(i int, driverID string) {
			defer wg.Done()
			<-start
			_, errs[i] = env.trips.Assign(context.Background(), trip.ID, driverID)
		}(i, driverID)
	}
	close(start)
	wg.Wait()

	winner := ""
	for i, err := range errs {
		switch {
		case err == nil:
			if winner != "" {
				t.Fatal("two drivers won the same trip")
			}
			winner = drivers[i]
		case errors.Is(err, ErrTripAlreadyTaken):
		default:
			t.Fatalf("unexpected error for %s: %v", drivers[i], err)
		}
	}
	if winner == "" {
		t.Fatal("expected one driver to win")
	}

	got := env.getTrip(t, trip.ID)
	if got.DriverID != winner {
		t.Errorf("expected driver %s on trip, got %s", winner, got.DriverID)
	}
	if got.Status != domain.TripStatusAccepted {
		t.Errorf("expected accepted, got %s", got.Status)
	}

	for _, driverID := range drivers {
		profile, err := env.store.Repos().Drivers.GetByUserID(context.Background(), driverID)
		if err != nil {
			t.Fatalf("get driver: %v", err)
		}
		if wantAvailable := driverID != winner; profile.IsAvailable != wantAvailable {
			t.Errorf("driver %s: expected available=%v", driverID, wantAvailable)
		}
	}
}

func TestTrip_AssignRequiresAvailableDriver(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.requestTrip(t, env.rider.ID)
	second := env.requestTrip(t, env.rider.ID)

	if _, err := env.trips.Assign(ctx, first.ID, env.driver.ID); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	if _, err := env.trips.Assign(ctx, second.ID, env.driver.ID); !errors.Is(err, ErrDriverUnavailable) {
		t.Fatalf("expected ErrDriverUnavailable, got %v", err)
	}

	// The failed claim must not leave the second trip assigned.
	got := env.getTrip(t, second.ID)
	if got.Status != domain.TripStatusRequested || got.DriverID != "" {
		t.Errorf("expected second trip untouched, got %s driver=%q", got.Status, got.DriverID)
	}
}

func TestTrip_AssignRejectsNonDrivers(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	trip := env.requestTrip(t, env.rider.ID)

	if _, err := env.trips.Assign(ctx, trip.ID, env.agent.ID); !errors.Is(err, ErrNotDriver) {
		t.Errorf("expected ErrNotDriver, got %v", err)
	}

	// A driver may not take their own trip request.
	own := env.requestTrip(t, env.driver.ID)
	if _, err := env.trips.Assign(ctx, own.ID, env.driver.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

// ──────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────

func TestTrip_CompletionRequiresEscrow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	trip := env.acceptedTrip(t)
	env.start(t, trip.ID)

	_, err := env.trips.Advance(ctx, trip.ID, env.driver.ID, domain.TripStatusCompleted)
	if !errors.Is(err, ErrPaymentNotEscrowed) {
		t.Fatalf("expected ErrPaymentNotEscrowed, got %v", err)
	}
	if got := env.getTrip(t, trip.ID); got.Status != domain.TripStatusInProgress {
		t.Errorf("expected trip to stay in progress, got %s", got.Status)
	}
}

func TestTrip_FullLifecycleSettlesPayment(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	trip := env.completedTrip(t, "pay-1", "chain-1")

	if trip.Status != domain.TripStatusCompleted {
		t.Fatalf("expected completed, got %s", trip.Status)
	}
	if trip.PaymentStatus != domain.PaymentStatusCompleted {
		t.Fatalf("expected payment completed, got %s", trip.PaymentStatus)
	}
	if trip.StartedAt == nil || trip.CompletedAt == nil || trip.AcceptedAt == nil {
		t.Error("expected lifecycle timestamps to be set")
	}
	if trip.FinalFare == nil || !trip.FinalFare.Equal(trip.EstimatedFare) {
		t.Errorf("expected final fare %s, got %v", trip.EstimatedFare, trip.FinalFare)
	}

	profile, err := env.drivers.Get(context.Background(), env.driver.ID)
	if err != nil {
		t.Fatalf("get driver: %v", err)
	}
	if !profile.IsAvailable {
		t.Error("expected driver to be available after completion")
	}
	assertAmount(t, "driver earnings", profile.TotalEarnings, "19.26")

	if got := env.getUser(t, env.rider.ID).TotalTrips; got != 1 {
		t.Errorf("expected rider total trips 1, got %d", got)
	}
	if got := env.getUser(t, env.driver.ID).TotalTrips; got != 1 {
		t.Errorf("expected driver total trips 1, got %d", got)
	}
}

func TestTrip_AdvanceOnlyByAssignedDriver(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	trip := env.acceptedTrip(t)

	if _, err := env.trips.Advance(ctx, trip.ID, env.rider.ID, domain.TripStatusInProgress); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for rider, got %v", err)
	}
	if _, err := env.trips.Advance(ctx, trip.ID, env.driver.ID, domain.TripStatusCancelled); !errors.Is(err, ErrInvalidTripStatus) {
		t.Errorf("expected ErrInvalidTripStatus, got %v", err)
	}
	if _, err := env.trips.Advance(ctx, trip.ID, env.driver.ID, domain.TripStatusCompleted); !errors.Is(err, ErrPaymentNotEscrowed) && !errors.Is(err, ErrTripStateConflict) {
		t.Errorf("expected completion from accepted to fail, got %v", err)
	}
}

func TestTrip_CancelRules(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("outsider cannot cancel", func(t *testing.T) {
		trip := env.requestTrip(t, env.rider.ID)
		if _, err := env.trips.Cancel(ctx, trip.ID, env.agent.ID, ""); !errors.Is(err, ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("in progress cannot be cancelled", func(t *testing.T) {
		trip := env.inProgressTrip(t, "pay-cancel-ip", "")
		if _, err := env.trips.Cancel(ctx, trip.ID, env.rider.ID, "changed my mind"); !errors.Is(err, ErrTripInProgress) {
			t.Errorf("expected ErrTripInProgress, got %v", err)
		}
	})
}

func TestTrip_CancelAcceptedRefundsEscrow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	trip := env.acceptedTrip(t)
	env.fund(t, trip.ID, "pay-1", "")

	cancelled, err := env.trips.Cancel(context.Background(), trip.ID, env.rider.ID, "  driver too far  ")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.TripStatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.CancellationReason != "driver too far" {
		t.Errorf("expected trimmed reason, got %q", cancelled.CancellationReason)
	}
	if cancelled.PaymentStatus != domain.PaymentStatusRefunded {
		t.Errorf("expected refunded, got %s", cancelled.PaymentStatus)
	}
	if _, _, cancels := env.network.counts(); cancels != 1 {
		t.Errorf("expected one network cancel, got %d", cancels)
	}

	profile, err := env.drivers.Get(context.Background(), env.driver.ID)
	if err != nil {
		t.Fatalf("get driver: %v", err)
	}
	if !profile.IsAvailable {
		t.Error("expected driver to be released")
	}
}

func TestTrip_GetHidesTripsFromOutsiders(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	trip := env.requestTrip(t, env.rider.ID)

	if _, err := env.trips.Get(ctx, trip.ID, env.agent.ID, false); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound for outsider, got %v", err)
	}
	if _, err := env.trips.Get(ctx, trip.ID, env.admin.ID, true); err != nil {
		t.Errorf("expected admin to see trip, got %v", err)
	}
	if _, err := env.trips.Get(ctx, trip.ID, env.rider.ID, false); err != nil {
		t.Errorf("expected rider to see trip, got %v", err)
	}
}

func TestTrip_AvailableListsRequestedTrips(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	open := env.requestTrip(t, env.rider.ID)
	taken := env.requestTrip(t, env.rider.ID)
	if _, err := env.trips.Assign(ctx, taken.ID, env.driver.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	trips, err := env.trips.Available(ctx, env.driver.ID, 10)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(trips) != 1 || trips[0].ID != open.ID {
		t.Errorf("expected only the open trip, got %d trips", len(trips))
	}

	if _, err := env.trips.Available(ctx, env.agent.ID, 10); !errors.Is(err, ErrNotDriver) {
		t.Errorf("expected ErrNotDriver, got %v", err)
	}
}

// ──────────────────────────────────────────────
// Ratings
// ──────────────────────────────────────────────

func TestTrip_RateUpdatesCounterparty(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	trip := env.completedTrip(t, "pay-1", "chain-1")

	if _, err := env.trips.Rate(ctx, trip.ID, env.rider.ID, 4, "ok ride"); err != nil {
		t.Fatalf("rate: %v", err)
	}
	driver := env.getUser(t, env.driver.ID)
	assertAmount(t, "driver rating", driver.Rating, "4")
	if driver.RatingCount != 1 {
		t.Errorf("expected rating count 1, got %d", driver.RatingCount)
	}

	if _, err := env.trips.Rate(ctx, trip.ID, env.rider.ID, 5, ""); !errors.Is(err, ErrAlreadyRated) {
		t.Errorf("expected ErrAlreadyRated, got %v", err)
	}

	if _, err := env.trips.Rate(ctx, trip.ID, env.driver.ID, 3, ""); err != nil {
		t.Fatalf("driver rate: %v", err)
	}
	assertAmount(t, "rider rating", env.getUser(t, env.rider.ID).Rating, "3")
}

func TestTrip_RateValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	trip := env.acceptedTrip(t)

	if _, err := env.trips.Rate(ctx, trip.ID, env.rider.ID, 6, ""); !errors.Is(err, ErrInvalidRating) {
		t.Errorf("expected ErrInvalidRating, got %v", err)
	}
	if _, err := env.trips.Rate(ctx, trip.ID, env.rider.ID, 5, ""); !errors.Is(err, ErrTripNotCompleted) {
		t.Errorf("expected ErrTripNotCompleted, got %v", err)
	}
	if _, err := env.trips.Rate(ctx, trip.ID, env.agent.ID, 5, ""); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestTripNumber(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 1, 31, 23, 59, 0, 0, time.UTC)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		n := tripNumber(at)
		if n[:13] != "TRP-20240131-" {
			t.Fatalf("unexpected prefix in %q", n)
		}
		if seen[n] {
			t.Fatalf("duplicate trip number %q", n)
		}
		seen[n] = true
	}
}
