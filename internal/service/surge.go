package service

import (
	"context"

	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
	"pitaxi/internal/logger"
	"pitaxi/internal/repository"
)

// Demand tiers, as active requests per available driver.
var (
	lowSurgeRatio  = decimal.RequireFromString("1.5")
	medSurgeRatio  = decimal.NewFromInt(2)
	highSurgeRatio = decimal.NewFromInt(3)

	lowSurge  = decimal.RequireFromString("1.3")
	medSurge  = decimal.RequireFromString("1.5")
	highSurge = decimal.NewFromInt(2)
)

// SurgeMultiplier maps demand and supply to a multiplier.
// No available drivers always yields the maximum.
func SurgeMultiplier(activeRequests, availableDrivers int) decimal.Decimal {
	if availableDrivers <= 0 {
		return highSurge
	}

	ratio := decimal.NewFromInt(int64(activeRequests)).Div(decimal.NewFromInt(int64(availableDrivers)))

	switch {
	case ratio.GreaterThanOrEqual(highSurgeRatio):
		return highSurge
	case ratio.GreaterThanOrEqual(medSurgeRatio):
		return medSurge
	case ratio.GreaterThanOrEqual(lowSurgeRatio):
		return lowSurge
	default:
		return one
	}
}

// SurgeService estimates the current multiplier from live trip and driver counts.
type SurgeService struct {
	store repository.Store
	log   logger.ILogger
}

// NewSurgeService creates a new SurgeService.
func NewSurgeService(store repository.Store, log logger.ILogger) *SurgeService {
	return &SurgeService{store: store, log: log}
}

// CurrentMultiplier returns the multiplier for current demand. Count failures
// fall back to no surge.
func (s *SurgeService) CurrentMultiplier(ctx context.Context) decimal.Decimal {
	repos := s.store.Repos()

	demand, err := repos.Trips.CountByStatus(ctx, domain.TripStatusRequested)
	if err != nil {
		s.log.Warning("surge: count requested trips", logger.Error(err))
		return one
	}

	supply, err := repos.Drivers.CountAvailable(ctx)
	if err != nil {
		s.log.Warning("surge: count available drivers", logger.Error(err))
		return one
	}

	return SurgeMultiplier(demand, supply)
}
