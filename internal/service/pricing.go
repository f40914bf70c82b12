package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
	"pitaxi/internal/logger"
	"pitaxi/internal/repository"
)

// PricingCache caches the active config between activations.
type PricingCache interface {
	GetActivePricing(ctx context.Context) (*domain.PricingConfig, error)
	SetActivePricing(ctx context.Context, cfg *domain.PricingConfig) error
	InvalidateActivePricing(ctx context.Context) error
}

// PricingService manages pricing configs and computes estimates.
type PricingService struct {
	store repository.Store
	cache PricingCache
	surge *SurgeService
	audit *AuditLog
	log   logger.ILogger
	now   func() time.Time
}

// NewPricingService creates a new PricingService. cache may be nil.
func NewPricingService(
	store repository.Store,
	cache PricingCache,
	surge *SurgeService,
	audit *AuditLog,
	log logger.ILogger,
) *PricingService {
	return &PricingService{
		store: store,
		cache: cache,
		surge: surge,
		audit: audit,
		log:   log,
		now:   time.Now,
	}
}

// Active returns the active config, or the built-in default when none is active.
func (s *PricingService) Active(ctx context.Context) (domain.PricingConfig, error) {
	if s.cache != nil {
		cached, err := s.cache.GetActivePricing(ctx)
		if err != nil {
			s.log.Warning("pricing cache read failed", logger.Error(err))
		} else if cached != nil {
			return *cached, nil
		}
	}

	cfg, err := s.store.Repos().Pricing.GetActive(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.DefaultPricingConfig(), nil
	}
	if err != nil {
		return domain.PricingConfig{}, err
	}

	if s.cache != nil {
		if err := s.cache.SetActivePricing(ctx, cfg); err != nil {
			s.log.Warning("pricing cache write failed", logger.Error(err))
		}
	}
	return *cfg, nil
}

// CreatePricingRequest describes a new rate card.
type CreatePricingRequest struct {
	Name                       string
	BaseFare                   decimal.Decimal
	PerKmRate                  decimal.Decimal
	PerMinuteRate              decimal.Decimal
	MinimumFare                decimal.Decimal
	TreasuryFeePercent         decimal.Decimal
	AgentCommissionPercent     decimal.Decimal
	IsPromotional              bool
	PromotionalDiscountPercent decimal.Decimal
	PromotionalMessage         string
	// Zero multipliers take the default.
	EconomyMultiplier decimal.Decimal
	ComfortMultiplier decimal.Decimal
	PremiumMultiplier decimal.Decimal
	ValidFrom         time.Time
	ValidUntil        *time.Time
	Notes             string
	CreatedBy         string
}

// Create validates and stores a new, inactive config.
func (s *PricingService) Create(ctx context.Context, req CreatePricingRequest) (*domain.PricingConfig, error) {
	if err := validatePricing(req); err != nil {
		return nil, err
	}
	if err := requireAdmin(ctx, s.store.Repos(), req.CreatedBy); err != nil {
		return nil, err
	}

	def := domain.DefaultPricingConfig()
	now := s.now().UTC()

	cfg := &domain.PricingConfig{
		ID:                         uuid.New().String(),
		Name:                       req.Name,
		BaseFare:                   req.BaseFare,
		PerKmRate:                  req.PerKmRate,
		PerMinuteRate:              req.PerMinuteRate,
		MinimumFare:                req.MinimumFare,
		TreasuryFeePercent:         req.TreasuryFeePercent,
		AgentCommissionPercent:     req.AgentCommissionPercent,
		IsPromotional:              req.IsPromotional,
		PromotionalDiscountPercent: req.PromotionalDiscountPercent,
		PromotionalMessage:         req.PromotionalMessage,
		EconomyMultiplier:          orDefault(req.EconomyMultiplier, def.EconomyMultiplier),
		ComfortMultiplier:          orDefault(req.ComfortMultiplier, def.ComfortMultiplier),
		PremiumMultiplier:          orDefault(req.PremiumMultiplier, def.PremiumMultiplier),
		ValidFrom:                  req.ValidFrom,
		ValidUntil:                 req.ValidUntil,
		Notes:                      req.Notes,
		CreatedBy:                  req.CreatedBy,
		CreatedAt:                  now,
	}
	if cfg.ValidFrom.IsZero() {
		cfg.ValidFrom = now
	}

	var entry *domain.TransparencyLog
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if err := repos.Pricing.Create(ctx, cfg); err != nil {
			return err
		}
		var err error
		entry, err = s.audit.Append(ctx, repos, domain.EventPricingConfigCreated, "",
			"Pricing config "+cfg.Name+" created", pricingPublicData(cfg))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.Publish(ctx, entry)
	return cfg, nil
}

// Activate makes id the only active config.
func (s *PricingService) Activate(ctx context.Context, id, adminID string) (*domain.PricingConfig, error) {
	var (
		activated *domain.PricingConfig
		entry     *domain.TransparencyLog
	)

	if err := requireAdmin(ctx, s.store.Repos(), adminID); err != nil {
		return nil, err
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		cfg, err := repos.Pricing.GetByID(ctx, id)
		if err != nil {
			return err
		}

		previousID := ""
		prev, err := repos.Pricing.GetActive(ctx)
		switch {
		case err == nil:
			previousID = prev.ID
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		if err := repos.Pricing.DeactivateAll(ctx); err != nil {
			return err
		}
		if err := repos.Pricing.Activate(ctx, id); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrPricingAlreadyActive
			}
			return err
		}
		cfg.IsActive = true

		snapshot := pricingPublicData(cfg)
		if err := repos.Pricing.AppendHistory(ctx, &domain.PricingHistory{
			ID:               uuid.New().String(),
			ConfigID:         cfg.ID,
			PreviousConfigID: previousID,
			ChangedBy:        adminID,
			Snapshot:         snapshot,
			ChangedAt:        s.now().UTC(),
		}); err != nil {
			return err
		}

		entry, err = s.audit.Append(ctx, repos, domain.EventPricingConfigActivated, "",
			"Pricing config "+cfg.Name+" activated", snapshot)
		if err != nil {
			return err
		}

		activated = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.InvalidateActivePricing(ctx); err != nil {
			s.log.Warning("pricing cache invalidation failed", logger.Error(err))
		}
	}
	s.audit.Publish(ctx, entry)

	s.log.Info("pricing config activated",
		logger.String("config_id", activated.ID),
		logger.String("admin_id", adminID),
	)
	return activated, nil
}

// List returns every config, newest first.
func (s *PricingService) List(ctx context.Context) ([]*domain.PricingConfig, error) {
	return s.store.Repos().Pricing.List(ctx)
}

// Get returns one config.
func (s *PricingService) Get(ctx context.Context, id string) (*domain.PricingConfig, error) {
	return s.store.Repos().Pricing.GetByID(ctx, id)
}

// EstimateRequest holds the inputs of a fare estimate.
type EstimateRequest struct {
	DistanceKm      decimal.Decimal
	DurationMinutes decimal.Decimal
	VehicleType     domain.VehicleType
	HasAgent        bool
	// SurgeMultiplier overrides the demand estimate when set.
	SurgeMultiplier *decimal.Decimal
}

// Estimate prices a trip with the active config and the current surge.
func (s *PricingService) Estimate(ctx context.Context, req EstimateRequest) (*FareBreakdown, error) {
	if req.VehicleType == "" {
		req.VehicleType = domain.VehicleTypeEconomy
	}
	if !req.VehicleType.Valid() {
		return nil, ErrInvalidVehicleType
	}

	cfg, err := s.Active(ctx)
	if err != nil {
		return nil, err
	}

	surge := one
	if req.SurgeMultiplier != nil {
		surge = *req.SurgeMultiplier
	} else if s.surge != nil {
		surge = s.surge.CurrentMultiplier(ctx)
	}

	return CalculateFare(FareRequest{
		DistanceKm:      req.DistanceKm,
		DurationMinutes: req.DurationMinutes,
		HasAgent:        req.HasAgent,
		VehicleType:     req.VehicleType,
		SurgeMultiplier: surge,
		At:              s.now(),
	}, cfg)
}

func validatePricing(req CreatePricingRequest) error {
	switch {
	case req.Name == "":
		return fieldError(ErrInvalidPricingConfig, "name", "is required")
	case !req.BaseFare.IsPositive():
		return fieldError(ErrInvalidPricingConfig, "base_fare", "must be greater than zero")
	case !req.PerKmRate.IsPositive():
		return fieldError(ErrInvalidPricingConfig, "per_km_rate", "must be greater than zero")
	case req.PerMinuteRate.IsNegative():
		return fieldError(ErrInvalidPricingConfig, "per_minute_rate", "must not be negative")
	case !req.MinimumFare.IsPositive():
		return fieldError(ErrInvalidPricingConfig, "minimum_fare", "must be greater than zero")
	case !isPercent(req.TreasuryFeePercent):
		return fieldError(ErrInvalidPricingConfig, "treasury_fee_percent", "must be between 0 and 100")
	case !isPercent(req.AgentCommissionPercent):
		return fieldError(ErrInvalidPricingConfig, "agent_commission_percent", "must be between 0 and 100")
	case !req.TreasuryFeePercent.Add(req.AgentCommissionPercent).LessThan(hundred):
		return fieldError(ErrInvalidPricingConfig, "agent_commission_percent", "plus treasury fee must be below 100")
	case !isPercent(req.PromotionalDiscountPercent):
		return fieldError(ErrInvalidPricingConfig, "promotional_discount_percent", "must be between 0 and 100")
	case req.EconomyMultiplier.IsNegative(), req.ComfortMultiplier.IsNegative(), req.PremiumMultiplier.IsNegative():
		return fieldError(ErrInvalidPricingConfig, "multipliers", "must not be negative")
	case req.ValidUntil != nil && !req.ValidFrom.IsZero() && !req.ValidUntil.After(req.ValidFrom):
		return fieldError(ErrInvalidPricingConfig, "valid_until", "must be after valid_from")
	}
	return nil
}

func isPercent(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(hundred)
}

func orDefault(v, def decimal.Decimal) decimal.Decimal {
	if v.IsPositive() {
		return v
	}
	return def
}

func pricingPublicData(cfg *domain.PricingConfig) map[string]any {
	data := map[string]any{
		"config_id":                cfg.ID,
		"name":                     cfg.Name,
		"base_fare":                money(cfg.BaseFare),
		"per_km_rate":              money(cfg.PerKmRate),
		"per_minute_rate":          money(cfg.PerMinuteRate),
		"minimum_fare":             money(cfg.MinimumFare),
		"treasury_fee_percent":     cfg.TreasuryFeePercent.String(),
		"agent_commission_percent": cfg.AgentCommissionPercent.String(),
		"is_promotional":           cfg.IsPromotional,
	}
	if cfg.IsPromotional {
		data["promotional_discount_percent"] = cfg.PromotionalDiscountPercent.String()
	}
	return data
}
