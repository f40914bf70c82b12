package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"pitaxi/internal/domain"
	"pitaxi/internal/repository"
)

// TransparencyRepository is a PostgreSQL implementation of repository.TransparencyRepository.
type TransparencyRepository struct {
	q Querier
}

// Append stores a log entry.
func (r *TransparencyRepository) Append(ctx context.Context, entry *domain.TransparencyLog) error {
	data, err := marshalJSON(entry.PublicData)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO transparency_logs (id, event_type, trip_id, description, public_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.q.ExecContext(ctx, query,
		entry.ID,
		entry.EventType,
		nullString(entry.TripID),
		entry.Description,
		data,
		entry.CreatedAt,
	)
	return err
}

// List returns entries matching the filter, newest first.
func (r *TransparencyRepository) List(ctx context.Context, filter domain.TransparencyFilter) ([]*domain.TransparencyLog, error) {
	var where []string
	var args []any

	if filter.TripID != "" {
		args = append(args, filter.TripID)
		where = append(where, fmt.Sprintf("trip_id = $%d", len(args)))
	}
	if filter.EventType != "" {
		args = append(args, filter.EventType)
		where = append(where, fmt.Sprintf("event_type = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT id, event_type, trip_id, description, public_data, created_at FROM transparency_logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.TransparencyLog
	for rows.Next() {
		var entry domain.TransparencyLog
		var tripID sql.NullString
		var data []byte
		if err := rows.Scan(&entry.ID, &entry.EventType, &tripID, &entry.Description, &data, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.TripID = tripID.String
		if entry.PublicData, err = unmarshalJSON(data); err != nil {
			return nil, err
		}
		out = append(out, &entry)
	}

	return out, rows.Err()
}

// Ensure TransparencyRepository implements repository.TransparencyRepository.
var _ repository.TransparencyRepository = (*TransparencyRepository)(nil)
