package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"pitaxi/internal/domain"
	"pitaxi/internal/logger"
	"pitaxi/internal/repository"
)

// DriverService handles driver profiles and availability.
type DriverService struct {
	store repository.Store
	audit *AuditLog
	log   logger.ILogger
	now   func() time.Time
}

// NewDriverService creates a new DriverService.
func NewDriverService(store repository.Store, audit *AuditLog, log logger.ILogger) *DriverService {
	return &DriverService{
		store: store,
		audit: audit,
		log:   log,
		now:   time.Now,
	}
}

// RegisterDriverRequest contains the parameters for registering a driver.
type RegisterDriverRequest struct {
	UserID       string
	VehicleType  domain.VehicleType
	VehicleMake  string
	VehicleModel string
	VehiclePlate string
}

// Register creates a driver profile awaiting verification.
func (s *DriverService) Register(ctx context.Context, req RegisterDriverRequest) (*domain.DriverProfile, error) {
	if req.VehicleType == "" {
		req.VehicleType = domain.VehicleTypeEconomy
	}
	if !req.VehicleType.Valid() {
		return nil, ErrInvalidVehicleType
	}
	plate := strings.ToUpper(strings.TrimSpace(req.VehiclePlate))
	if plate == "" {
		return nil, fieldError(ErrInvalidDriverProfile, "vehicle_plate", "is required")
	}

	repos := s.store.Repos()
	user, err := repos.Users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if user.Status != domain.UserStatusActive {
		return nil, ErrUserInactive
	}

	now := s.now().UTC()
	profile := &domain.DriverProfile{
		UserID:             user.ID,
		VehicleType:        req.VehicleType,
		VehicleMake:        strings.TrimSpace(req.VehicleMake),
		VehicleModel:       strings.TrimSpace(req.VehicleModel),
		VehiclePlate:       plate,
		VerificationStatus: domain.VerificationPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := repos.Drivers.Create(ctx, profile); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDriverExists
		}
		return nil, err
	}

	s.log.Info("driver registered", logger.String("user_id", user.ID))
	return profile, nil
}

// SetOnline toggles whether the driver receives trips. A driver with an
// active trip stays unavailable until it ends.
func (s *DriverService) SetOnline(ctx context.Context, userID string, online bool) (*domain.DriverProfile, error) {
	drivers := s.store.Repos().Drivers

	profile, err := drivers.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotDriver
		}
		return nil, err
	}
	if online && profile.VerificationStatus != domain.VerificationVerified {
		return nil, ErrDriverUnavailable
	}

	if err := drivers.SetOnline(ctx, userID, online); err != nil {
		return nil, err
	}
	return drivers.GetByUserID(ctx, userID)
}

// Verify sets the verification outcome of a driver. Rejecting a driver also
// takes them offline.
func (s *DriverService) Verify(ctx context.Context, driverID, adminID string, status domain.VerificationStatus) (*domain.DriverProfile, error) {
	if status != domain.VerificationVerified && status != domain.VerificationRejected {
		return nil, fieldError(ErrInvalidDriverProfile, "status", "must be verified or rejected")
	}
	if err := requireAdmin(ctx, s.store.Repos(), adminID); err != nil {
		return nil, err
	}

	var entry *domain.TransparencyLog
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := repos.Drivers.GetByUserID(ctx, driverID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrNotDriver
			}
			return err
		}
		if err := repos.Drivers.UpdateVerification(ctx, driverID, status); err != nil {
			return err
		}
		if status == domain.VerificationRejected {
			if err := repos.Drivers.SetOnline(ctx, driverID, false); err != nil {
				return err
			}
		}

		var err error
		entry, err = s.audit.Append(ctx, repos, domain.EventDriverVerified, "",
			"Driver verification updated", map[string]any{"status": string(status)})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.Publish(ctx, entry)
	return s.store.Repos().Drivers.GetByUserID(ctx, driverID)
}

// Get returns a driver profile.
func (s *DriverService) Get(ctx context.Context, userID string) (*domain.DriverProfile, error) {
	profile, err := s.store.Repos().Drivers.GetByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotDriver
	}
	return profile, err
}

// requireAdmin checks the stored user record, not only the token role.
func requireAdmin(ctx context.Context, repos repository.Repositories, userID string) error {
	user, err := repos.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAdminRequired
		}
		return err
	}
	if !user.IsAdmin() {
		return ErrAdminRequired
	}
	return nil
}
