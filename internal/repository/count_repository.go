package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// CountRepository computes badge counts for one actor.
type CountRepository interface {
	Counts(ctx context.Context, actor domain.Actor) (domain.Counts, error)
}

type countRepository struct {
	db
}

// NewCountRepository builds repository.
func NewCountRepository(pool *pgxpool.Pool) CountRepository {
	return &countRepository{db{pool: pool}}
}

// Counts returns every bucket the actor's role sees. Transfer approvals only
// count requests waiting on the actor's own approval level when it has one.
func (r *countRepository) Counts(ctx context.Context, actor domain.Actor) (domain.Counts, error) {
	const query = `
        SELECT
            (SELECT COUNT(*) FROM concerns WHERE phase='PENDING' AND NOT verified),
            (SELECT COUNT(*) FROM concerns c JOIN assignments a ON a.concern_id=c.id AND a.active
                WHERE a.handler_id=$1 AND c.phase='ACTIVE'),
            (SELECT COUNT(*) FROM concerns c JOIN assignments a ON a.concern_id=c.id AND a.active
                WHERE a.handler_id=$1 AND c.phase='ON_HOLD'),
            (SELECT COUNT(*) FROM hold_requests WHERE decision='PENDING'),
            (SELECT COUNT(*) FROM transfer_requests WHERE decision='PENDING' AND ($2 = 0 OR current_level=$2)),
            (SELECT COUNT(*) FROM closing_requests cr
                JOIN concerns c ON c.id=cr.concern_id
                LEFT JOIN channels ch ON ch.id=c.channel_id
                WHERE cr.decision='PENDING' AND COALESCE(ch.closing_approver, 'APPROVER')=$3),
            (SELECT COUNT(*) FROM concerns WHERE phase='CLOSED' AND NOT confirmed AND requestor_id=$1)`

	var all [7]int
	if err := r.queryRow(ctx, query, actor.ID, actor.ApproverLevel, actor.Role).Scan(
		&all[0], &all[1], &all[2], &all[3], &all[4], &all[5], &all[6],
	); err != nil {
		return nil, fmt.Errorf("count buckets: %w", err)
	}

	byBucket := map[domain.Bucket]int{
		domain.BucketPendingVerification: all[0],
		domain.BucketAssignedToMe:        all[1],
		domain.BucketOnHold:              all[2],
		domain.BucketHoldApprovals:       all[3],
		domain.BucketTransferApprovals:   all[4],
		domain.BucketClosingApprovals:    all[5],
		domain.BucketForConfirmation:     all[6],
	}
	counts := domain.Counts{}
	for _, b := range domain.BucketsFor(actor.Role) {
		counts[b] = byBucket[b]
	}
	return counts, nil
}
