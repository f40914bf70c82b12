package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
	"pitaxi/internal/repository"
)

// DisputeRepository is a PostgreSQL implementation of repository.DisputeRepository.
type DisputeRepository struct {
	q Querier
}

const disputeColumns = `id, trip_id, filed_by, filed_against, reason, description, evidence, status,
	resolution, resolution_notes, refund_amount, refund_target, refund_status,
	resolved_by, resolved_at, created_at, updated_at`

// Create persists a new dispute. A second open dispute for the same trip is ErrDuplicate.
func (r *DisputeRepository) Create(ctx context.Context, d *domain.Dispute) error {
	evidence, err := marshalJSON(d.Evidence)
	if err != nil {
		return err
	}

	var refundAmount decimal.NullDecimal
	if d.RefundAmount != nil {
		refundAmount = decimal.NullDecimal{Decimal: *d.RefundAmount, Valid: true}
	}

	query := `
		INSERT INTO disputes (` + disputeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = r.q.ExecContext(ctx, query,
		d.ID,
		d.TripID,
		d.FiledBy,
		d.FiledAgainst,
		d.Reason,
		d.Description,
		evidence,
		d.Status,
		nullString(string(d.Resolution)),
		d.ResolutionNotes,
		refundAmount,
		nullString(string(d.RefundTarget)),
		d.RefundStatus,
		nullString(d.ResolvedBy),
		nullTime(d.ResolvedAt),
		d.CreatedAt,
		d.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

// GetByID retrieves a dispute by ID.
func (r *DisputeRepository) GetByID(ctx context.Context, id string) (*domain.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`
	return scanDispute(r.q.QueryRowContext(ctx, query, id))
}

// ListByTrip returns every dispute of a trip.
func (r *DisputeRepository) ListByTrip(ctx context.Context, tripID string) ([]*domain.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE trip_id = $1 ORDER BY created_at DESC`

	rows, err := r.q.QueryContext(ctx, query, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}

	return out, rows.Err()
}

// GetOpenByTrip returns the dispute of a trip that is not closed yet.
func (r *DisputeRepository) GetOpenByTrip(ctx context.Context, tripID string) (*domain.Dispute, error) {
	query := `
		SELECT ` + disputeColumns + ` FROM disputes
		WHERE trip_id = $1 AND status IN ('open', 'under_review')
		LIMIT 1
	`
	return scanDispute(r.q.QueryRowContext(ctx, query, tripID))
}

// UpdateStatus moves a dispute between workflow states.
func (r *DisputeRepository) UpdateStatus(ctx context.Context, id string, from []domain.DisputeStatus, to domain.DisputeStatus) (bool, error) {
	query := `UPDATE disputes SET status = $2, updated_at = $3 WHERE id = $1 AND status = ANY($4)`

	result, err := r.q.ExecContext(ctx, query, id, to, time.Now().UTC(), stringArray(from))
	if err != nil {
		return false, err
	}
	return affected(result)
}

// Close writes the outcome of a dispute.
func (r *DisputeRepository) Close(ctx context.Context, c repository.DisputeClosure) (bool, error) {
	var refundAmount decimal.NullDecimal
	if c.RefundAmount != nil {
		refundAmount = decimal.NullDecimal{Decimal: *c.RefundAmount, Valid: true}
	}

	query := `
		UPDATE disputes
		SET status = $2, resolution = $3, resolution_notes = $4, refund_amount = $5,
		    refund_target = $6, refund_status = $7, resolved_by = $8, resolved_at = $9, updated_at = $9
		WHERE id = $1 AND status = ANY($10)
	`

	result, err := r.q.ExecContext(ctx, query,
		c.DisputeID,
		c.Status,
		nullString(string(c.Resolution)),
		c.Notes,
		refundAmount,
		nullString(string(c.RefundTarget)),
		c.RefundStatus,
		nullString(c.ResolvedBy),
		c.ResolvedAt,
		stringArray(c.From),
	)
	if err != nil {
		return false, err
	}
	return affected(result)
}

func scanDispute(row rowScanner) (*domain.Dispute, error) {
	var d domain.Dispute
	var evidence []byte
	var resolution, refundTarget, resolvedBy sql.NullString
	var refundAmount decimal.NullDecimal
	var resolvedAt sql.NullTime

	err := row.Scan(
		&d.ID,
		&d.TripID,
		&d.FiledBy,
		&d.FiledAgainst,
		&d.Reason,
		&d.Description,
		&evidence,
		&d.Status,
		&resolution,
		&d.ResolutionNotes,
		&refundAmount,
		&refundTarget,
		&d.RefundStatus,
		&resolvedBy,
		&resolvedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}

	if d.Evidence, err = unmarshalJSON(evidence); err != nil {
		return nil, err
	}
	d.Resolution = domain.DisputeResolution(resolution.String)
	d.RefundTarget = domain.RefundTarget(refundTarget.String)
	d.ResolvedBy = resolvedBy.String
	d.ResolvedAt = timePtr(resolvedAt)
	if refundAmount.Valid {
		v := refundAmount.Decimal
		d.RefundAmount = &v
	}

	return &d, nil
}

// Ensure DisputeRepository implements repository.DisputeRepository.
var _ repository.DisputeRepository = (*DisputeRepository)(nil)
