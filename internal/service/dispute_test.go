package service

import (
	"context"
	"errors"
	"testing"

	"pitaxi/internal/domain"
)

func (e *testEnv) fileDispute(t *testing.T, tripID, filedBy string) *domain.Dispute {
	t.Helper()
	d, err := e.disputes.File(context.Background(), FileDisputeRequest{
		TripID:      tripID,
		FiledBy:     filedBy,
		Reason:      domain.DisputeReasonRoute,
		Description: "Driver took a much longer route",
	})
	if err != nil {
		t.Fatalf("file dispute: %v", err)
	}
	return d
}

// ──────────────────────────────────────────────
// Filing
// ──────────────────────────────────────────────

func TestDispute_FileFreezesPayment(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	trip := env.inProgressTrip(t, "pay-1", "chain-1")
	d := env.fileDispute(t, trip.ID, env.rider.ID)

	if d.FiledAgainst != env.driver.ID {
		t.Errorf("expected dispute against the driver, got %q", d.FiledAgainst)
	}
	if d.Status != domain.DisputeStatusOpen {
		t.Errorf("expected open, got %s", d.Status)
	}

	got := env.getTrip(t, trip.ID)
	if got.Status != domain.TripStatusDisputed || got.PaymentStatus != domain.PaymentStatusDisputed {
		t.Fatalf("expected disputed trip and payment, got %s/%s", got.Status, got.PaymentStatus)
	}
	if got.DisputedFromStatus != domain.TripStatusInProgress {
		t.Errorf("expected prior status in_progress, got %s", got.DisputedFromStatus)
	}

	_, err := env.disputes.File(context.Background(), FileDisputeRequest{
		TripID:      trip.ID,
		FiledBy:     env.driver.ID,
		Reason:      domain.DisputeReasonRiderBehavior,
		Description: "Rider was abusive",
	})
	if !errors.Is(err, ErrDisputeOpen) {
		t.Errorf("expected ErrDisputeOpen, got %v", err)
	}
}

func TestDispute_FileValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	accepted := env.acceptedTrip(t)
	requested := env.requestTrip(t, env.rider.ID)

	tests := []struct {
		name string
		req  FileDisputeRequest
		want error
	}{
		{
			name: "unknown reason",
			req:  FileDisputeRequest{TripID: accepted.ID, FiledBy: env.rider.ID, Reason: "weather", Description: "x"},
			want: ErrInvalidDispute,
		},
		{
			name: "blank description",
			req:  FileDisputeRequest{TripID: accepted.ID, FiledBy: env.rider.ID, Reason: domain.DisputeReasonOther, Description: "   "},
			want: ErrInvalidDispute,
		},
		{
			name: "outsider",
			req:  FileDisputeRequest{TripID: accepted.ID, FiledBy: env.agent.ID, Reason: domain.DisputeReasonOther, Description: "x"},
			want: ErrForbidden,
		},
		{
			name: "no driver yet",
			req:  FileDisputeRequest{TripID: requested.ID, FiledBy: env.rider.ID, Reason: domain.DisputeReasonOther, Description: "x"},
			want: ErrNoCounterparty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.disputes.File(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if got := env.getTrip(t, accepted.ID); got.Status != domain.TripStatusAccepted {
		t.Errorf("rejected filings must not touch the trip, got %s", got.Status)
	}
}

func TestDispute_BlocksRelease(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	trip := env.completedTrip(t, "pay-1", "")
	env.fileDispute(t, trip.ID, env.rider.ID)

	if _, err := env.escrow.Release(context.Background(), trip.ID, "chain-1"); !errors.Is(err, ErrTripDisputed) {
		t.Fatalf("expected ErrTripDisputed, got %v", err)
	}
	if env.network.transferCount() != 0 {
		t.Error("expected no transfers while disputed")
	}
	if _, err := env.escrow.Refund(context.Background(), trip.ID, "x"); !errors.Is(err, ErrRefundNotAllowed) {
		t.Errorf("expected ErrRefundNotAllowed, got %v", err)
	}
}

// ──────────────────────────────────────────────
// Resolution
// ──────────────────────────────────────────────

func TestDispute_ResolveSplit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	trip := env.inProgressTrip(t, "pay-1", "chain-1")
	d := env.fileDispute(t, trip.ID, env.rider.ID)

	if _, err := env.disputes.StartReview(ctx, d.ID, env.admin.ID); err != nil {
		t.Fatalf("start review: %v", err)
	}

	refund := dec("10")
	resolved, err := env.disputes.Resolve(ctx, ResolveDisputeRequest{
		DisputeID:    d.ID,
		AdminID:      env.admin.ID,
		Resolution:   domain.ResolutionSplit,
		Notes:        "Route was 40% longer than estimated",
		RefundAmount: &refund,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if resolved.Status != domain.DisputeStatusResolved {
		t.Errorf("expected resolved, got %s", resolved.Status)
	}
	if resolved.RefundStatus != domain.RefundStatusCompleted {
		t.Errorf("expected refund completed, got %s", resolved.RefundStatus)
	}
	if resolved.RefundTarget != domain.RefundTargetRider {
		t.Errorf("expected rider target by default, got %s", resolved.RefundTarget)
	}
	if resolved.ResolvedBy != env.admin.ID {
		t.Errorf("expected resolved by admin, got %q", resolved.ResolvedBy)
	}

	got := env.getTrip(t, trip.ID)
	if got.PaymentStatus != domain.PaymentStatusCompleted {
		t.Errorf("expected completed payment, got %s", got.PaymentStatus)
	}

	rows := env.rows(t, trip.ID)
	resolution := rowsOfType(rows, domain.TransactionDisputeResolution)
	if len(resolution) != 1 || resolution[0].ToUserID != env.rider.ID {
		t.Fatalf("expected one resolution leg to the rider, got %+v", resolution)
	}
	assertAmount(t, "resolution leg", resolution[0].Amount, "10")

	summary, err := env.audit.Treasury(ctx, 10)
	if err != nil {
		t.Fatalf("treasury: %v", err)
	}
	assertAmount(t, "treasury balance", summary.Balance, "11.40")
	if len(summary.Entries) != 1 || summary.Entries[0].Type != domain.TreasuryEntryDisputeRemainder {
		t.Errorf("expected one dispute_remainder entry, got %+v", summary.Entries)
	}

	profile, err := env.drivers.Get(ctx, env.driver.ID)
	if err != nil {
		t.Fatalf("get driver: %v", err)
	}
	if !profile.IsAvailable {
		t.Error("expected the driver to be freed after resolution")
	}
}

func TestDispute_ResolvePayDriver(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	trip := env.inProgressTrip(t, "pay-1", "chain-1")
	d := env.fileDispute(t, trip.ID, env.driver.ID)

	resolved, err := env.disputes.Resolve(ctx, ResolveDisputeRequest{
		DisputeID:  d.ID,
		AdminID:    env.admin.ID,
		Resolution: domain.ResolutionPayDriver,
		Notes:      "GPS log confirms route",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.RefundStatus != domain.RefundStatusNone {
		t.Errorf("expected no refund, got %s", resolved.RefundStatus)
	}
	if got := env.getTrip(t, trip.ID); got.PaymentStatus != domain.PaymentStatusCompleted {
		t.Errorf("expected completed payment, got %s", got.PaymentStatus)
	}

	profile, err := env.drivers.Get(ctx, env.driver.ID)
	if err != nil {
		t.Fatalf("get driver: %v", err)
	}
	assertAmount(t, "earnings", profile.TotalEarnings, "19.26")
	if got := env.network.transferCount(); got != 2 {
		t.Errorf("expected 2 transfers, got %d", got)
	}
}

func TestDispute_ResolveRefundRider(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	trip := env.inProgressTrip(t, "pay-1", "chain-1")
	d := env.fileDispute(t, trip.ID, env.rider.ID)

	resolved, err := env.disputes.Resolve(ctx, ResolveDisputeRequest{
		DisputeID:  d.ID,
		AdminID:    env.admin.ID,
		Resolution: domain.ResolutionRefundRider,
		Notes:      "Driver abandoned the trip",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.RefundAmount == nil {
		t.Fatal("expected refund amount")
	}
	assertAmount(t, "refund", *resolved.RefundAmount, "21.40")
	if got := env.getTrip(t, trip.ID); got.PaymentStatus != domain.PaymentStatusRefunded {
		t.Errorf("expected refunded, got %s", got.PaymentStatus)
	}
	if rows := rowsOfType(env.rows(t, trip.ID), domain.TransactionTreasuryFee); len(rows) != 0 {
		t.Errorf("expected no remainder leg on a full refund, got %d", len(rows))
	}
}

func TestDispute_ResolveWithoutTransaction(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	trip := env.inProgressTrip(t, "pay-1", "")
	d := env.fileDispute(t, trip.ID, env.rider.ID)

	refund := dec("5")
	_, err := env.disputes.Resolve(ctx, ResolveDisputeRequest{
		DisputeID:    d.ID,
		AdminID:      env.admin.ID,
		Resolution:   domain.ResolutionSplit,
		Notes:        "partial",
		RefundAmount: &refund,
	})
	if !errors.Is(err, ErrPaymentTxMissing) {
		t.Fatalf("expected ErrPaymentTxMissing for a split, got %v", err)
	}

	if _, err := env.disputes.Resolve(ctx, ResolveDisputeRequest{
		DisputeID:  d.ID,
		AdminID:    env.admin.ID,
		Resolution: domain.ResolutionRefundRider,
		Notes:      "full refund",
	}); err != nil {
		t.Fatalf("full refund: %v", err)
	}
	if _, _, cancelled := env.network.counts(); cancelled != 1 {
		t.Errorf("expected the approval to be cancelled, got %d", cancelled)
	}
	if got := env.getTrip(t, trip.ID); got.PaymentStatus != domain.PaymentStatusRefunded {
		t.Errorf("expected refunded, got %s", got.PaymentStatus)
	}
}

func TestDispute_ResolveUnfunded(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	trip := env.acceptedTrip(t)
	d := env.fileDispute(t, trip.ID, env.rider.ID)

	_, err := env.disputes.Resolve(ctx, ResolveDisputeRequest{
		DisputeID:  d.ID,
		AdminID:    env.admin.ID,
		Resolution: domain.ResolutionPayDriver,
		Notes:      "n/a",
	})
	if !errors.Is(err, ErrPaymentNotEscrowed) {
		t.Fatalf("expected ErrPaymentNotEscrowed, got %v", err)
	}

	resolved, err := env.disputes.Resolve(ctx, ResolveDisputeRequest{
		DisputeID:  d.ID,
		AdminID:    env.admin.ID,
		Resolution: domain.ResolutionRefundRider,
		Notes:      "nothing was paid",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.RefundStatus != domain.RefundStatusNone {
		t.Errorf("expected no refund transfer, got %s", resolved.RefundStatus)
	}
	if env.network.transferCount() != 0 {
		t.Error("expected no transfers")
	}
}

func TestDispute_ResolveValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	trip := env.inProgressTrip(t, "pay-1", "chain-1")
	d := env.fileDispute(t, trip.ID, env.rider.ID)

	tooMuch := dec("50")
	tests := []struct {
		name string
		req  ResolveDisputeRequest
		want error
	}{
		{
			name: "non-admin",
			req:  ResolveDisputeRequest{DisputeID: d.ID, AdminID: env.rider.ID, Resolution: domain.ResolutionPayDriver, Notes: "x"},
			want: ErrAdminRequired,
		},
		{
			name: "missing notes",
			req:  ResolveDisputeRequest{DisputeID: d.ID, AdminID: env.admin.ID, Resolution: domain.ResolutionPayDriver},
			want: ErrInvalidDispute,
		},
		{
			name: "split without amount",
			req:  ResolveDisputeRequest{DisputeID: d.ID, AdminID: env.admin.ID, Resolution: domain.ResolutionSplit, Notes: "x"},
			want: ErrInvalidDispute,
		},
		{
			name: "unknown resolution",
			req:  ResolveDisputeRequest{DisputeID: d.ID, AdminID: env.admin.ID, Resolution: "coin_toss", Notes: "x"},
			want: ErrInvalidDispute,
		},
		{
			name: "refund above escrow",
			req:  ResolveDisputeRequest{DisputeID: d.ID, AdminID: env.admin.ID, Resolution: domain.ResolutionSplit, Notes: "x", RefundAmount: &tooMuch},
			want: ErrInvalidRefundAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.disputes.Resolve(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if got := env.getTrip(t, trip.ID); got.PaymentStatus != domain.PaymentStatusDisputed {
		t.Errorf("expected payment to stay disputed, got %s", got.PaymentStatus)
	}
}

func TestDispute_ReviewRequiresAdmin(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	trip := env.acceptedTrip(t)
	d := env.fileDispute(t, trip.ID, env.rider.ID)

	if _, err := env.disputes.StartReview(ctx, d.ID, env.rider.ID); !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("expected ErrAdminRequired, got %v", err)
	}
	if _, err := env.disputes.StartReview(ctx, d.ID, env.admin.ID); err != nil {
		t.Fatalf("start review: %v", err)
	}
	if _, err := env.disputes.StartReview(ctx, d.ID, env.admin.ID); !errors.Is(err, ErrDisputeStateConflict) {
		t.Errorf("expected ErrDisputeStateConflict on second review, got %v", err)
	}
}

// ──────────────────────────────────────────────
// Rejection and visibility
// ──────────────────────────────────────────────

func TestDispute_RejectRestoresTrip(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	trip := env.inProgressTrip(t, "pay-1", "chain-1")
	d := env.fileDispute(t, trip.ID, env.rider.ID)

	if _, err := env.disputes.Reject(ctx, d.ID, env.admin.ID, " "); !errors.Is(err, ErrInvalidDispute) {
		t.Fatalf("expected notes to be required, got %v", err)
	}

	rejected, err := env.disputes.Reject(ctx, d.ID, env.admin.ID, "No evidence of a detour")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.DisputeStatusRejected {
		t.Errorf("expected rejected, got %s", rejected.Status)
	}

	got := env.getTrip(t, trip.ID)
	if got.Status != domain.TripStatusInProgress || got.PaymentStatus != domain.PaymentStatusEscrowed {
		t.Fatalf("expected in_progress/escrowed, got %s/%s", got.Status, got.PaymentStatus)
	}

	// The restored trip settles normally.
	env.finish(t, trip.ID)
	if got := env.getTrip(t, trip.ID); got.PaymentStatus != domain.PaymentStatusCompleted {
		t.Errorf("expected completed, got %s", got.PaymentStatus)
	}

	if _, err := env.disputes.Reject(ctx, d.ID, env.admin.ID, "again"); !errors.Is(err, ErrDisputeStateConflict) {
		t.Errorf("expected ErrDisputeStateConflict, got %v", err)
	}
}

func TestDispute_Visibility(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	trip := env.acceptedTrip(t)
	d := env.fileDispute(t, trip.ID, env.rider.ID)

	for _, viewer := range []string{env.rider.ID, env.driver.ID} {
		if _, err := env.disputes.Get(ctx, d.ID, viewer, false); err != nil {
			t.Errorf("party %s: %v", viewer, err)
		}
	}
	if _, err := env.disputes.Get(ctx, d.ID, env.agent.ID, false); err == nil {
		t.Error("expected outsiders not to see the dispute")
	}
	if _, err := env.disputes.Get(ctx, d.ID, env.agent.ID, true); err != nil {
		t.Errorf("admin: %v", err)
	}

	list, err := env.disputes.ListByTrip(ctx, trip.ID, env.driver.ID, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected one dispute, got %d", len(list))
	}
}
