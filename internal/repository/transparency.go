package repository

import (
	"context"

	"pitaxi/internal/domain"
)

// TransparencyRepository is the append-only audit sink.
type TransparencyRepository interface {
	// Append stores a log entry.
	Append(ctx context.Context, entry *domain.TransparencyLog) error

	// List returns entries matching the filter, newest first.
	List(ctx context.Context, filter domain.TransparencyFilter) ([]*domain.TransparencyLog, error)
}
