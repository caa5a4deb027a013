package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// ChannelRepository reads intake channel configuration.
type ChannelRepository interface {
	List(ctx context.Context) ([]domain.Channel, error)
}

type channelRepository struct {
	db
}

// NewChannelRepository builds repository.
func NewChannelRepository(pool *pgxpool.Pool) ChannelRepository {
	return &channelRepository{db{pool: pool}}
}

func (r *channelRepository) List(ctx context.Context) ([]domain.Channel, error) {
	const query = `SELECT id, name, closing_approver, transfer_levels FROM channels ORDER BY name`
	rows, err := r.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var result []domain.Channel
	for rows.Next() {
		var ch domain.Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.ClosingApprover, &ch.TransferLevels); err != nil {
			return nil, err
		}
		result = append(result, ch)
	}
	return result, rows.Err()
}
