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

// defaultDurationMinutes is assumed when the client sends no duration estimate.
var defaultDurationMinutes = decimal.NewFromInt(15)

// TripService handles trip operations.
type TripService struct {
	store   repository.Store
	pricing *PricingService
	escrow  *EscrowService
	audit   *AuditLog
	log     logger.ILogger
	now     func() time.Time
}

// NewTripService creates a new TripService.
func NewTripService(
	store repository.Store,
	pricing *PricingService,
	escrow *EscrowService,
	audit *AuditLog,
	log logger.ILogger,
) *TripService {
	return &TripService{
		store:   store,
		pricing: pricing,
		escrow:  escrow,
		audit:   audit,
		log:     log,
		now:     time.Now,
	}
}

// CreateTripRequest contains the parameters for requesting a trip.
type CreateTripRequest struct {
	RiderID         string
	ServiceType     domain.ServiceType
	VehicleType     domain.VehicleType
	Pickup          domain.Location
	Dropoff         domain.Location
	DistanceKm      decimal.Decimal
	DurationMinutes decimal.Decimal
}

// Create prices and stores a new trip request.
func (s *TripService) Create(ctx context.Context, req CreateTripRequest) (*domain.Trip, error) {
	if err := validateCreateTrip(&req); err != nil {
		return nil, err
	}

	rider, err := s.store.Repos().Users.GetByID(ctx, req.RiderID)
	if err != nil {
		return nil, err
	}
	if rider.Status != domain.UserStatusActive {
		return nil, ErrUserInactive
	}

	fare, err := s.pricing.Estimate(ctx, EstimateRequest{
		DistanceKm:      req.DistanceKm,
		DurationMinutes: req.DurationMinutes,
		VehicleType:     req.VehicleType,
		HasAgent:        rider.ReferredBy != "",
	})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	trip := &domain.Trip{
		ID:              uuid.New().String(),
		TripNumber:      tripNumber(now),
		RiderID:         rider.ID,
		AgentID:         rider.ReferredBy,
		ServiceType:     req.ServiceType,
		VehicleType:     req.VehicleType,
		Pickup:          req.Pickup,
		Dropoff:         req.Dropoff,
		DistanceKm:      req.DistanceKm,
		DurationMinutes: req.DurationMinutes,
		PricingConfigID: fare.PricingConfigID,
		SurgeMultiplier: fare.SurgeMultiplier,
		EstimatedFare:   fare.TotalFare,
		TreasuryFee:     fare.TreasuryFee,
		AgentCommission: fare.AgentCommission,
		DriverPayout:    fare.DriverPayout,
		Status:          domain.TripStatusRequested,
		PaymentStatus:   domain.PaymentStatusPending,
		RequestedAt:     now,
		UpdatedAt:       now,
	}

	var entry *domain.TransparencyLog
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if err := repos.Trips.Create(ctx, trip); err != nil {
			return err
		}
		var err error
		entry, err = s.audit.Append(ctx, repos, domain.EventTripRequested, trip.ID,
			"Trip requested", map[string]any{
				"trip_number":  trip.TripNumber,
				"service_type": string(trip.ServiceType),
				"vehicle_type": string(trip.VehicleType),
				"distance_km":  trip.DistanceKm.String(),
				"fare":         money(trip.EstimatedFare),
				"treasury_fee": money(trip.TreasuryFee),
				"surge":        trip.SurgeMultiplier.String(),
			})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.Publish(ctx, entry)
	return trip, nil
}

// Assign gives a requested trip to a driver. Exactly one of several
// concurrent drivers wins; the others get ErrTripAlreadyTaken.
func (s *TripService) Assign(ctx context.Context, tripID, driverID string) (*domain.Trip, error) {
	repos := s.store.Repos()

	if _, err := repos.Drivers.GetByUserID(ctx, driverID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotDriver
		}
		return nil, err
	}

	trip, err := repos.Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.RiderID == driverID {
		return nil, ErrForbidden
	}

	var entry *domain.TransparencyLog
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		ok, err := repos.Trips.Assign(ctx, tripID, driverID, s.now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return ErrTripAlreadyTaken
		}

		claimed, err := repos.Drivers.ClaimAvailability(ctx, driverID)
		if err != nil {
			return err
		}
		if !claimed {
			return ErrDriverUnavailable
		}

		entry, err = s.audit.Append(ctx, repos, domain.EventTripAccepted, tripID,
			"Trip accepted by driver", map[string]any{"trip_number": trip.TripNumber})
		return err
	})
	if err != nil {
		if errors.Is(err, ErrTripAlreadyTaken) {
			s.log.Info("trip assignment lost race",
				logger.String("trip_id", tripID),
				logger.String("driver_id", driverID),
			)
		}
		return nil, err
	}

	s.audit.Publish(ctx, entry)
	return s.store.Repos().Trips.GetByID(ctx, tripID)
}

// Advance moves a trip to in_progress or completed. Only the assigned driver
// may advance. Completing a trip releases the escrow; a release failure is
// logged and can be retried through the payment completion endpoint.
func (s *TripService) Advance(ctx context.Context, tripID, actorID string, status domain.TripStatus) (*domain.Trip, error) {
	var (
		from      domain.TripStatus
		paymentIn []domain.PaymentStatus
		event     domain.TransparencyEvent
		message   string
	)
	switch status {
	case domain.TripStatusInProgress:
		from, event, message = domain.TripStatusAccepted, domain.EventTripStarted, "Trip started"
	case domain.TripStatusCompleted:
		from, event, message = domain.TripStatusInProgress, domain.EventTripCompleted, "Trip completed"
		paymentIn = []domain.PaymentStatus{
			domain.PaymentStatusEscrowed,
			domain.PaymentStatusSettling,
			domain.PaymentStatusCompleted,
		}
	default:
		return nil, ErrInvalidTripStatus
	}

	trip, err := s.store.Repos().Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if actorID == "" || actorID != trip.DriverID {
		return nil, ErrForbidden
	}

	var entry *domain.TransparencyLog
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		ok, err := repos.Trips.UpdateStatus(ctx, repository.StatusChange{
			TripID:    tripID,
			From:      []domain.TripStatus{from},
			To:        status,
			PaymentIn: paymentIn,
			At:        s.now().UTC(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return s.advanceConflict(ctx, repos, tripID, from)
		}

		if status == domain.TripStatusCompleted {
			if err := repos.Drivers.ReleaseAvailability(ctx, trip.DriverID); err != nil {
				return err
			}
		}

		entry, err = s.audit.Append(ctx, repos, event, tripID, message,
			map[string]any{"trip_number": trip.TripNumber})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit.Publish(ctx, entry)

	if status == domain.TripStatusCompleted {
		s.releaseAfterCompletion(ctx, tripID)
	}

	return s.store.Repos().Trips.GetByID(ctx, tripID)
}

// advanceConflict explains why a lifecycle compare-and-set did not match.
func (s *TripService) advanceConflict(ctx context.Context, repos repository.Repositories, tripID string, from domain.TripStatus) error {
	current, err := repos.Trips.GetByID(ctx, tripID)
	if err != nil {
		return err
	}
	if current.Status == from && current.PaymentStatus != domain.PaymentStatusEscrowed {
		return ErrPaymentNotEscrowed
	}
	return ErrTripStateConflict
}

func (s *TripService) releaseAfterCompletion(ctx context.Context, tripID string) {
	if s.escrow == nil {
		return
	}
	_, err := s.escrow.Release(ctx, tripID, "")
	switch {
	case err == nil:
	case errors.Is(err, ErrPaymentTxMissing):
		s.log.Info("release waits for payment completion callback", logger.String("trip_id", tripID))
	default:
		s.log.Error("release after completion failed", logger.String("trip_id", tripID), logger.Error(err))
	}
}

// Cancel cancels a trip that has not started. Either party may cancel.
// An escrowed payment is refunded afterwards.
func (s *TripService) Cancel(ctx context.Context, tripID, actorID, reason string) (*domain.Trip, error) {
	trip, err := s.store.Repos().Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !trip.IsParticipant(actorID) {
		return nil, ErrForbidden
	}

	switch trip.Status {
	case domain.TripStatusRequested, domain.TripStatusAccepted:
	case domain.TripStatusInProgress:
		return nil, ErrTripInProgress
	default:
		return nil, ErrTripStateConflict
	}

	reason = strings.TrimSpace(reason)
	var (
		entry     *domain.TransparencyLog
		cancelled *domain.Trip
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		ok, err := repos.Trips.UpdateStatus(ctx, repository.StatusChange{
			TripID: tripID,
			From:   []domain.TripStatus{domain.TripStatusRequested, domain.TripStatusAccepted},
			To:     domain.TripStatusCancelled,
			At:     s.now().UTC(),
			Reason: reason,
		})
		if err != nil {
			return err
		}
		if !ok {
			current, err := repos.Trips.GetByID(ctx, tripID)
			if err != nil {
				return err
			}
			if current.Status == domain.TripStatusInProgress {
				return ErrTripInProgress
			}
			return ErrTripStateConflict
		}

		cancelled, err = repos.Trips.GetByID(ctx, tripID)
		if err != nil {
			return err
		}
		if cancelled.DriverID != "" {
			if err := repos.Drivers.ReleaseAvailability(ctx, cancelled.DriverID); err != nil {
				return err
			}
		}

		entry, err = s.audit.Append(ctx, repos, domain.EventTripCancelled, tripID,
			"Trip cancelled", map[string]any{
				"trip_number":  trip.TripNumber,
				"cancelled_by": partyOf(trip, actorID),
			})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit.Publish(ctx, entry)

	if cancelled.PaymentStatus == domain.PaymentStatusEscrowed && s.escrow != nil {
		if _, err := s.escrow.Refund(ctx, tripID, "trip cancelled"); err != nil {
			s.log.Error("refund after cancellation failed", logger.String("trip_id", tripID), logger.Error(err))
		}
	}

	return s.store.Repos().Trips.GetByID(ctx, tripID)
}

// Get returns a trip visible to viewerID. Admins see every trip.
func (s *TripService) Get(ctx context.Context, tripID, viewerID string, admin bool) (*domain.Trip, error) {
	trip, err := s.store.Repos().Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !admin && !trip.IsParticipant(viewerID) {
		return nil, repository.ErrNotFound
	}
	return trip, nil
}

// List returns trips matching the filter.
func (s *TripService) List(ctx context.Context, filter domain.TripFilter) ([]*domain.Trip, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	return s.store.Repos().Trips.List(ctx, filter)
}

// Available returns requested trips a driver can accept.
func (s *TripService) Available(ctx context.Context, driverID string, limit int) ([]*domain.Trip, error) {
	if _, err := s.store.Repos().Drivers.GetByUserID(ctx, driverID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotDriver
		}
		return nil, err
	}
	return s.List(ctx, domain.TripFilter{Status: domain.TripStatusRequested, Limit: limit})
}

// Rate records a party's rating of the other side of a completed trip.
func (s *TripService) Rate(ctx context.Context, tripID, raterID string, rating int, feedback string) (*domain.Trip, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}

	trip, err := s.store.Repos().Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !trip.IsParticipant(raterID) {
		return nil, ErrForbidden
	}
	if trip.Status != domain.TripStatusCompleted {
		return nil, ErrTripNotCompleted
	}
	byRider := raterID == trip.RiderID

	var entry *domain.TransparencyLog
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		ok, err := repos.Trips.SetRating(ctx, tripID, byRider, rating, strings.TrimSpace(feedback))
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyRated
		}
		if err := repos.Users.ApplyRating(ctx, trip.Counterparty(raterID), rating); err != nil {
			return err
		}
		entry, err = s.audit.Append(ctx, repos, domain.EventTripRated, tripID,
			"Trip rated", map[string]any{
				"trip_number": trip.TripNumber,
				"rated_by":    partyOf(trip, raterID),
				"rating":      rating,
			})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.Publish(ctx, entry)
	return s.store.Repos().Trips.GetByID(ctx, tripID)
}

func validateCreateTrip(req *CreateTripRequest) error {
	if req.ServiceType == "" {
		req.ServiceType = domain.ServiceTypeTaxi
	}
	if !req.ServiceType.Valid() {
		return ErrInvalidServiceType
	}
	if req.VehicleType == "" {
		req.VehicleType = domain.VehicleTypeEconomy
	}
	if !req.VehicleType.Valid() {
		return ErrInvalidVehicleType
	}

	if !isValidLatitude(req.Pickup.Lat) || !isValidLongitude(req.Pickup.Lng) {
		return fieldError(ErrInvalidLocation, "pickup", "coordinates out of range")
	}
	if !isValidLatitude(req.Dropoff.Lat) || !isValidLongitude(req.Dropoff.Lng) {
		return fieldError(ErrInvalidLocation, "dropoff", "coordinates out of range")
	}

	if !req.DistanceKm.IsPositive() {
		return ErrInvalidDistance
	}
	if req.DurationMinutes.IsZero() {
		req.DurationMinutes = defaultDurationMinutes
	}
	if !req.DurationMinutes.IsPositive() {
		return ErrInvalidDuration
	}
	return nil
}

func isValidLatitude(lat float64) bool {
	return lat >= -90 && lat <= 90
}

func isValidLongitude(lng float64) bool {
	return lng >= -180 && lng <= 180
}

// tripNumber formats a human-readable reference, e.g. TRP-20240131-4F9A1C.
func tripNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:6]
	return "TRP-" + at.Format("20060102") + "-" + suffix
}

// partyOf names the side of the trip userID is on, for public logs.
func partyOf(trip *domain.Trip, userID string) string {
	if userID == trip.RiderID {
		return "rider"
	}
	return "driver"
}
