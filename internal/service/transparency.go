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

// EventPublisher forwards committed transparency entries to an external stream.
type EventPublisher interface {
	Publish(ctx context.Context, entry *domain.TransparencyLog) error
}

// publishTimeout bounds the best-effort stream write after a commit.
const publishTimeout = 5 * time.Second

// AuditLog writes the append-only transparency log and serves its read side.
type AuditLog struct {
	store     repository.Store
	publisher EventPublisher
	log       logger.ILogger
}

// NewAuditLog creates an AuditLog. publisher may be nil.
func NewAuditLog(store repository.Store, publisher EventPublisher, log logger.ILogger) *AuditLog {
	return &AuditLog{store: store, publisher: publisher, log: log}
}

// Append writes an entry through repos, so it commits or rolls back with the
// caller's transaction. publicData must only hold publishable fields.
func (a *AuditLog) Append(
	ctx context.Context,
	repos repository.Repositories,
	event domain.TransparencyEvent,
	tripID, description string,
	publicData map[string]any,
) (*domain.TransparencyLog, error) {
	entry := &domain.TransparencyLog{
		ID:          uuid.New().String(),
		EventType:   event,
		TripID:      tripID,
		Description: description,
		PublicData:  publicData,
		CreatedAt:   time.Now().UTC(),
	}
	if err := repos.Transparency.Append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Publish streams committed entries. Failures are logged; the stored row
// remains the record.
func (a *AuditLog) Publish(ctx context.Context, entries ...*domain.TransparencyLog) {
	if a.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	for _, entry := range entries {
		if entry == nil {
			continue
		}
		if err := a.publisher.Publish(ctx, entry); err != nil {
			a.log.Warning("transparency event not published",
				logger.String("event_type", string(entry.EventType)),
				logger.String("trip_id", entry.TripID),
				logger.Error(err),
			)
		}
	}
}

// List returns entries matching the filter, newest first.
func (a *AuditLog) List(ctx context.Context, filter domain.TransparencyFilter) ([]*domain.TransparencyLog, error) {
	return a.store.Repos().Transparency.List(ctx, filter)
}

// TreasurySummary is the public view of the treasury ledger.
type TreasurySummary struct {
	Balance decimal.Decimal
	Entries []*domain.TreasuryEntry
}

// Treasury returns the current balance and the most recent entries.
func (a *AuditLog) Treasury(ctx context.Context, limit int) (*TreasurySummary, error) {
	repos := a.store.Repos()

	summary := &TreasurySummary{Balance: decimal.Zero}
	latest, err := repos.Treasury.Latest(ctx)
	switch {
	case err == nil:
		summary.Balance = latest.BalanceAfter
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	entries, err := repos.Treasury.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	summary.Entries = entries
	return summary, nil
}

// money renders an amount for public log payloads.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
