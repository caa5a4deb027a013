package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// HistoryRepository reads the audit trail. Entries are written by
// ConcernRepository.SaveChange together with the rows they describe.
type HistoryRepository interface {
	ListByConcern(ctx context.Context, concernID string) ([]domain.ConcernHistory, error)
}

type historyRepository struct {
	db
}

// NewHistoryRepository builds repository.
func NewHistoryRepository(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepository{db{pool: pool}}
}

func (r *historyRepository) ListByConcern(ctx context.Context, concernID string) ([]domain.ConcernHistory, error) {
	const query = `
        SELECT id, concern_id, transition, actor_id, actor_role, from_phase, to_phase, remarks, created_at
        FROM concern_history WHERE concern_id=$1 ORDER BY created_at ASC`
	rows, err := r.query(ctx, query, concernID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrConcernNotFound
		}
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var result []domain.ConcernHistory
	for rows.Next() {
		var h domain.ConcernHistory
		if err := rows.Scan(
			&h.ID,
			&h.ConcernID,
			&h.Transition,
			&h.ActorID,
			&h.ActorRole,
			&h.FromPhase,
			&h.ToPhase,
			&h.Remarks,
			&h.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	return result, rows.Err()
}
