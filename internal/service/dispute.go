package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
	"pitaxi/internal/logger"
	"pitaxi/internal/repository"
)

// DisputeService runs the dispute workflow. Filing freezes the trip's
// payment; resolving settles it through the escrow engine.
type DisputeService struct {
	store  repository.Store
	escrow *EscrowService
	audit  *AuditLog
	log    logger.ILogger
	now    func() time.Time
}

// NewDisputeService creates a new DisputeService.
func NewDisputeService(store repository.Store, escrow *EscrowService, audit *AuditLog, log logger.ILogger) *DisputeService {
	return &DisputeService{
		store:  store,
		escrow: escrow,
		audit:  audit,
		log:    log,
		now:    time.Now,
	}
}

// FileDisputeRequest contains the parameters for filing a dispute.
type FileDisputeRequest struct {
	TripID      string
	FiledBy     string
	Reason      domain.DisputeReason
	Description string
	Evidence    map[string]any
}

// File opens a dispute against the other party of the trip.
func (s *DisputeService) File(ctx context.Context, req FileDisputeRequest) (*domain.Dispute, error) {
	if !req.Reason.Valid() {
		return nil, fieldError(ErrInvalidDispute, "reason", "is not a known reason")
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return nil, fieldError(ErrInvalidDispute, "description", "is required")
	}

	trip, err := s.store.Repos().Trips.GetByID(ctx, req.TripID)
	if err != nil {
		return nil, err
	}
	if !trip.IsParticipant(req.FiledBy) {
		return nil, ErrForbidden
	}
	against := trip.Counterparty(req.FiledBy)
	if against == "" {
		return nil, ErrNoCounterparty
	}

	now := s.now().UTC()
	dispute := &domain.Dispute{
		ID:           uuid.New().String(),
		TripID:       trip.ID,
		FiledBy:      req.FiledBy,
		FiledAgainst: against,
		Reason:       req.Reason,
		Description:  description,
		Evidence:     req.Evidence,
		Status:       domain.DisputeStatusOpen,
		RefundStatus: domain.RefundStatusNone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var entry *domain.TransparencyLog
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := repos.Disputes.GetOpenByTrip(ctx, trip.ID); err == nil {
			return ErrDisputeOpen
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		ok, err := repos.Trips.MarkDisputed(ctx, trip.ID)
		if err != nil {
			return err
		}
		if !ok {
			current, err := repos.Trips.GetByID(ctx, trip.ID)
			if err != nil {
				return err
			}
			if current.PaymentStatus == domain.PaymentStatusSettling {
				return ErrSettlementInProgress
			}
			return ErrTripStateConflict
		}

		if err := repos.Disputes.Create(ctx, dispute); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrDisputeOpen
			}
			return err
		}

		entry, err = s.audit.Append(ctx, repos, domain.EventDisputeFiled, trip.ID,
			"Dispute filed", map[string]any{
				"trip_number": trip.TripNumber,
				"dispute_id":  dispute.ID,
				"reason":      string(dispute.Reason),
				"filed_by":    partyOf(trip, req.FiledBy),
			})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.Publish(ctx, entry)
	s.log.Info("dispute filed",
		logger.String("dispute_id", dispute.ID),
		logger.String("trip_id", trip.ID),
	)
	return dispute, nil
}

// StartReview moves an open dispute under review.
func (s *DisputeService) StartReview(ctx context.Context, disputeID, adminID string) (*domain.Dispute, error) {
	if err := requireAdmin(ctx, s.store.Repos(), adminID); err != nil {
		return nil, err
	}

	var entry *domain.TransparencyLog
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		dispute, err := repos.Disputes.GetByID(ctx, disputeID)
		if err != nil {
			return err
		}
		ok, err := repos.Disputes.UpdateStatus(ctx, disputeID,
			[]domain.DisputeStatus{domain.DisputeStatusOpen}, domain.DisputeStatusUnderReview)
		if err != nil {
			return err
		}
		if !ok {
			return ErrDisputeStateConflict
		}

		entry, err = s.audit.Append(ctx, repos, domain.EventDisputeReview, dispute.TripID,
			"Dispute under review", map[string]any{"dispute_id": disputeID})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.Publish(ctx, entry)
	return s.store.Repos().Disputes.GetByID(ctx, disputeID)
}

// ResolveDisputeRequest contains an admin's decision.
type ResolveDisputeRequest struct {
	DisputeID    string
	AdminID      string
	Resolution   domain.DisputeResolution
	Notes        string
	RefundAmount *decimal.Decimal
	RefundTarget domain.RefundTarget
}

// Resolve settles the frozen payment and closes the dispute.
func (s *DisputeService) Resolve(ctx context.Context, req ResolveDisputeRequest) (*domain.Dispute, error) {
	if err := validateResolution(req); err != nil {
		return nil, err
	}

	repos := s.store.Repos()
	if err := requireAdmin(ctx, repos, req.AdminID); err != nil {
		return nil, err
	}

	dispute, err := repos.Disputes.GetByID(ctx, req.DisputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Status.IsClosed() {
		return nil, ErrDisputeStateConflict
	}

	outcome, err := s.escrow.ResolveDispute(ctx, DisputeSettlement{
		TripID:       dispute.TripID,
		Resolution:   req.Resolution,
		RefundAmount: req.RefundAmount,
		RefundTarget: req.RefundTarget,
	})
	if err != nil {
		return nil, err
	}

	trip, err := repos.Trips.GetByID(ctx, dispute.TripID)
	if err != nil {
		return nil, err
	}

	refundAmount := outcome.RefundAmount
	target := req.RefundTarget
	switch {
	case req.Resolution == domain.ResolutionRefundRider:
		target = domain.RefundTargetRider
	case req.Resolution == domain.ResolutionPayDriver:
		target = ""
	case target == "":
		target = domain.RefundTargetRider
	}

	var entry *domain.TransparencyLog
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		ok, err := repos.Disputes.Close(ctx, repository.DisputeClosure{
			DisputeID:    dispute.ID,
			From:         []domain.DisputeStatus{domain.DisputeStatusOpen, domain.DisputeStatusUnderReview},
			Status:       domain.DisputeStatusResolved,
			Resolution:   req.Resolution,
			Notes:        strings.TrimSpace(req.Notes),
			RefundAmount: &refundAmount,
			RefundTarget: target,
			RefundStatus: outcome.RefundStatus,
			ResolvedBy:   req.AdminID,
			ResolvedAt:   s.now().UTC(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrDisputeStateConflict
		}

		// The trip never finishes its lifecycle, so free the driver here.
		if trip.DriverID != "" && trip.DisputedFromStatus != domain.TripStatusCompleted {
			if err := repos.Drivers.ReleaseAvailability(ctx, trip.DriverID); err != nil {
				return err
			}
		}

		entry, err = s.audit.Append(ctx, repos, domain.EventDisputeResolved, trip.ID,
			"Dispute resolved", map[string]any{
				"trip_number":   trip.TripNumber,
				"dispute_id":    dispute.ID,
				"resolution":    string(req.Resolution),
				"refund_amount": money(refundAmount),
				"refund_status": string(outcome.RefundStatus),
			})
		return err
	})
	if err != nil {
		// Money already moved; the dispute row is the only thing left behind.
		s.log.Error("dispute settled but not closed",
			logger.String("dispute_id", dispute.ID),
			logger.Error(err),
		)
		return nil, err
	}

	s.audit.Publish(ctx, entry)
	s.log.Info("dispute resolved",
		logger.String("dispute_id", dispute.ID),
		logger.String("resolution", string(req.Resolution)),
	)
	return s.store.Repos().Disputes.GetByID(ctx, dispute.ID)
}

// Reject closes a dispute without moving money and unfreezes the trip.
func (s *DisputeService) Reject(ctx context.Context, disputeID, adminID, notes string) (*domain.Dispute, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, fieldError(ErrInvalidDispute, "notes", "are required")
	}
	if err := requireAdmin(ctx, s.store.Repos(), adminID); err != nil {
		return nil, err
	}

	var entry *domain.TransparencyLog
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		dispute, err := repos.Disputes.GetByID(ctx, disputeID)
		if err != nil {
			return err
		}

		ok, err := repos.Disputes.Close(ctx, repository.DisputeClosure{
			DisputeID:    disputeID,
			From:         []domain.DisputeStatus{domain.DisputeStatusOpen, domain.DisputeStatusUnderReview},
			Status:       domain.DisputeStatusRejected,
			Notes:        notes,
			RefundStatus: domain.RefundStatusNone,
			ResolvedBy:   adminID,
			ResolvedAt:   s.now().UTC(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrDisputeStateConflict
		}

		restored, err := repos.Trips.RestoreFromDispute(ctx, dispute.TripID)
		if err != nil {
			return err
		}
		if !restored {
			return ErrTripStateConflict
		}

		entry, err = s.audit.Append(ctx, repos, domain.EventDisputeRejected, dispute.TripID,
			"Dispute rejected", map[string]any{"dispute_id": disputeID})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.Publish(ctx, entry)
	return s.store.Repos().Disputes.GetByID(ctx, disputeID)
}

// Get returns a dispute visible to viewerID. Admins see every dispute.
func (s *DisputeService) Get(ctx context.Context, disputeID, viewerID string, admin bool) (*domain.Dispute, error) {
	dispute, err := s.store.Repos().Disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !admin && viewerID != dispute.FiledBy && viewerID != dispute.FiledAgainst {
		return nil, repository.ErrNotFound
	}
	return dispute, nil
}

// ListByTrip returns the disputes of a trip visible to viewerID.
func (s *DisputeService) ListByTrip(ctx context.Context, tripID, viewerID string, admin bool) ([]*domain.Dispute, error) {
	repos := s.store.Repos()
	trip, err := repos.Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !admin && !trip.IsParticipant(viewerID) {
		return nil, repository.ErrNotFound
	}
	return repos.Disputes.ListByTrip(ctx, tripID)
}

func validateResolution(req ResolveDisputeRequest) error {
	if !req.Resolution.Valid() {
		return fieldError(ErrInvalidDispute, "resolution", "is not a known resolution")
	}
	if strings.TrimSpace(req.Notes) == "" {
		return fieldError(ErrInvalidDispute, "notes", "are required")
	}
	if req.RefundTarget != "" && req.RefundTarget != domain.RefundTargetRider && req.RefundTarget != domain.RefundTargetDriver {
		return fieldError(ErrInvalidDispute, "refund_target", "must be rider or driver")
	}
	if req.Resolution == domain.ResolutionSplit && req.RefundAmount == nil {
		return fieldError(ErrInvalidDispute, "refund_amount", "is required for a split")
	}
	if req.RefundAmount != nil && req.RefundAmount.IsNegative() {
		return ErrInvalidRefundAmount
	}
	return nil
}
