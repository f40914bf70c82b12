package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to TripStatus
		want     bool
	}{
		{TripStatusRequested, TripStatusAccepted, true},
		{TripStatusRequested, TripStatusCancelled, true},
		{TripStatusRequested, TripStatusInProgress, false},
		{TripStatusRequested, TripStatusDisputed, false},
		{TripStatusAccepted, TripStatusInProgress, true},
		{TripStatusAccepted, TripStatusCancelled, true},
		{TripStatusAccepted, TripStatusCompleted, false},
		{TripStatusInProgress, TripStatusCompleted, true},
		{TripStatusInProgress, TripStatusCancelled, false},
		{TripStatusCompleted, TripStatusDisputed, true},
		{TripStatusCompleted, TripStatusRequested, false},
		{TripStatusCancelled, TripStatusRequested, false},
		{TripStatusDisputed, TripStatusCompleted, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestVehicleMultiplier(t *testing.T) {
	t.Parallel()

	cfg := DefaultPricingConfig()
	tests := []struct {
		vehicle VehicleType
		want    string
	}{
		{VehicleTypeEconomy, "1"},
		{VehicleTypeComfort, "1.5"},
		{VehicleTypePremium, "2"},
		{"", "1"},
	}
	for _, tt := range tests {
		if got := cfg.VehicleMultiplier(tt.vehicle); !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("VehicleMultiplier(%q) = %s, want %s", tt.vehicle, got, tt.want)
		}
	}

	cfg.PremiumMultiplier = decimal.Zero
	if got := cfg.VehicleMultiplier(VehicleTypePremium); !got.Equal(decimal.NewFromInt(1)) {
		t.Errorf("unset multiplier = %s, want 1", got)
	}
}

func TestPromotionActiveAt(t *testing.T) {
	t.Parallel()

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	until := from.Add(48 * time.Hour)

	promo := DefaultPricingConfig()
	promo.IsPromotional = true
	promo.PromotionalDiscountPercent = decimal.NewFromInt(15)
	promo.ValidFrom = from
	promo.ValidUntil = &until

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before window", from.Add(-time.Minute), false},
		{"at start", from, true},
		{"inside window", from.Add(time.Hour), true},
		{"at end", until, false},
		{"zero time skips window", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := promo.PromotionActiveAt(tt.at); got != tt.want {
				t.Errorf("PromotionActiveAt = %v, want %v", got, tt.want)
			}
		})
	}

	off := promo
	off.PromotionalDiscountPercent = decimal.Zero
	if off.PromotionActiveAt(from.Add(time.Hour)) {
		t.Error("a zero discount is never active")
	}
}

func TestTripParties(t *testing.T) {
	t.Parallel()

	trip := &Trip{RiderID: "rider", DriverID: "driver"}
	if !trip.IsParticipant("rider") || !trip.IsParticipant("driver") {
		t.Error("expected both parties to participate")
	}
	if trip.IsParticipant("") || trip.IsParticipant("someone") {
		t.Error("unexpected participant")
	}
	if got := trip.Counterparty("rider"); got != "driver" {
		t.Errorf("Counterparty(rider) = %q", got)
	}
	if got := trip.Counterparty("driver"); got != "rider" {
		t.Errorf("Counterparty(driver) = %q", got)
	}

	unassigned := &Trip{RiderID: "rider"}
	if got := unassigned.Counterparty("rider"); got != "" {
		t.Errorf("expected no counterparty before assignment, got %q", got)
	}
}

func TestDriverCanAcceptTrips(t *testing.T) {
	t.Parallel()

	ready := DriverProfile{IsOnline: true, IsAvailable: true, VerificationStatus: VerificationVerified}
	if !ready.CanAcceptTrips() {
		t.Error("expected a verified, online, available driver to accept trips")
	}

	for name, mutate := range map[string]func(*DriverProfile){
		"offline":    func(d *DriverProfile) { d.IsOnline = false },
		"busy":       func(d *DriverProfile) { d.IsAvailable = false },
		"unverified": func(d *DriverProfile) { d.VerificationStatus = VerificationPending },
	} {
		d := ready
		mutate(&d)
		if d.CanAcceptTrips() {
			t.Errorf("%s driver must not accept trips", name)
		}
	}
}
