package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/workflow"
)

// ConcernFilter captures concern list parameters.
type ConcernFilter struct {
	RequestorID *string
	HandlerID   *string
	Phases      []domain.Phase
	Unverified  bool
	SearchTerm  *string
	Limit       int
	Offset      int
}

// ConcernListItem is a concern row with its active handler, if any.
type ConcernListItem struct {
	Concern   domain.Concern
	HandlerID string
}

// ConcernRepository encapsulates concern persistence.
type ConcernRepository interface {
	// LoadAggregate reads a concern with its open sub-requests. forUpdate locks
	// the concern row until the surrounding transaction ends.
	LoadAggregate(ctx context.Context, id string, forUpdate bool) (*workflow.Aggregate, error)
	// SaveChange persists every row a transition produced, atomically.
	SaveChange(ctx context.Context, change *workflow.Change) error
	List(ctx context.Context, filter ConcernFilter) ([]ConcernListItem, int, error)
}

type concernRepository struct {
	db
}

// NewConcernRepository instantiates repository.
func NewConcernRepository(pool *pgxpool.Pool) ConcernRepository {
	return &concernRepository{db{pool: pool}}
}

const concernColumns = `c.id, c.requestor_id, c.channel_id, c.description, c.categories, c.sub_categories,
               c.phase, c.verified, c.verified_by, c.confirmed, c.created_at, c.updated_at, c.closed_at`

func (r *concernRepository) LoadAggregate(ctx context.Context, id string, forUpdate bool) (*workflow.Aggregate, error) {
	query := `SELECT ` + concernColumns + ` FROM concerns c WHERE c.id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var agg workflow.Aggregate
	if err := scanConcern(r.queryRow(ctx, query, id), &agg.Concern); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return nil, domain.ErrConcernNotFound
		}
		return nil, fmt.Errorf("load concern: %w", err)
	}

	channel, err := r.channel(ctx, agg.Concern.ChannelID)
	if err != nil {
		return nil, err
	}
	agg.Channel = channel

	if agg.Assignment, err = r.activeAssignment(ctx, id); err != nil {
		return nil, err
	}
	if agg.Hold, err = r.activeHold(ctx, id); err != nil {
		return nil, err
	}
	if agg.Transfer, err = r.pendingTransfer(ctx, id); err != nil {
		return nil, err
	}
	if agg.Closing, err = r.pendingClosing(ctx, id); err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *concernRepository) channel(ctx context.Context, id string) (domain.Channel, error) {
	const query = `SELECT id, name, closing_approver, transfer_levels FROM channels WHERE id=$1`
	var ch domain.Channel
	err := r.queryRow(ctx, query, id).Scan(&ch.ID, &ch.Name, &ch.ClosingApprover, &ch.TransferLevels)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultChannel(id), nil
	}
	if err != nil {
		return domain.Channel{}, fmt.Errorf("load channel: %w", err)
	}
	return ch, nil
}

func (r *concernRepository) activeAssignment(ctx context.Context, concernID string) (*domain.Assignment, error) {
	const query = `
        SELECT id, concern_id, handler_id, channel_id, target_date, assigned_by, active, created_at, superseded_at
        FROM assignments WHERE concern_id=$1 AND active`
	var a domain.Assignment
	err := r.queryRow(ctx, query, concernID).Scan(
		&a.ID,
		&a.ConcernID,
		&a.HandlerID,
		&a.ChannelID,
		&a.TargetDate,
		&a.AssignedBy,
		&a.Active,
		&a.CreatedAt,
		&a.SupersededAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load assignment: %w", err)
	}
	return &a, nil
}

func (r *concernRepository) activeHold(ctx context.Context, concernID string) (*domain.HoldRequest, error) {
	query := `SELECT ` + holdColumns + ` FROM hold_requests h
        WHERE h.concern_id=$1 AND (h.decision='PENDING' OR (h.decision='APPROVED' AND NOT h.resumed))
        ORDER BY h.created_at DESC LIMIT 1`
	var h domain.HoldRequest
	err := scanHold(r.queryRow(ctx, query, concernID), &h)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load hold request: %w", err)
	}
	return &h, nil
}

func (r *concernRepository) pendingTransfer(ctx context.Context, concernID string) (*domain.TransferRequest, error) {
	query := `SELECT ` + transferColumns + ` FROM transfer_requests t WHERE t.concern_id=$1 AND t.decision='PENDING'`
	var t domain.TransferRequest
	err := scanTransfer(r.queryRow(ctx, query, concernID), &t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load transfer request: %w", err)
	}
	return &t, nil
}

func (r *concernRepository) pendingClosing(ctx context.Context, concernID string) (*domain.ClosingRequest, error) {
	query := `SELECT ` + closingColumns + ` FROM closing_requests cr WHERE cr.concern_id=$1 AND cr.decision='PENDING'`
	var cl domain.ClosingRequest
	err := scanClosing(r.queryRow(ctx, query, concernID), &cl)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load closing request: %w", err)
	}
	return &cl, nil
}

func (r *concernRepository) SaveChange(ctx context.Context, change *workflow.Change) error {
	return withTx(ctx, r.pool, func(ctx context.Context) error {
		if err := r.upsertConcern(ctx, &change.Concern); err != nil {
			return err
		}
		if old := change.Superseded; old != nil {
			const stmt = `UPDATE assignments SET active=FALSE, superseded_at=$2 WHERE id=$1`
			if _, err := r.exec(ctx, stmt, old.ID, old.SupersededAt); err != nil {
				return fmt.Errorf("supersede assignment: %w", err)
			}
		}
		if a := change.Assignment; a != nil {
			const stmt = `
                INSERT INTO assignments (id, concern_id, handler_id, channel_id, target_date, assigned_by, active, created_at)
                VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
			if _, err := r.exec(ctx, stmt,
				a.ID, a.ConcernID, a.HandlerID, a.ChannelID, a.TargetDate, a.AssignedBy, a.Active, a.CreatedAt,
			); err != nil {
				return fmt.Errorf("insert assignment: %w", err)
			}
		}
		if h := change.Hold; h != nil {
			if err := r.upsertHold(ctx, h); err != nil {
				return err
			}
		}
		if t := change.Transfer; t != nil {
			if err := r.upsertTransfer(ctx, t); err != nil {
				return err
			}
		}
		if cl := change.Closing; cl != nil {
			if err := r.upsertClosing(ctx, cl); err != nil {
				return err
			}
		}
		return r.insertHistory(ctx, &change.History)
	})
}

func (r *concernRepository) upsertConcern(ctx context.Context, c *domain.Concern) error {
	const stmt = `
        INSERT INTO concerns (id, requestor_id, channel_id, description, categories, sub_categories,
            phase, verified, verified_by, confirmed, created_at, updated_at, closed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        ON CONFLICT (id) DO UPDATE SET channel_id=EXCLUDED.channel_id, categories=EXCLUDED.categories,
            sub_categories=EXCLUDED.sub_categories, phase=EXCLUDED.phase, verified=EXCLUDED.verified,
            verified_by=EXCLUDED.verified_by, confirmed=EXCLUDED.confirmed, updated_at=EXCLUDED.updated_at,
            closed_at=EXCLUDED.closed_at`
	_, err := r.exec(ctx, stmt,
		c.ID,
		c.RequestorID,
		c.ChannelID,
		c.Description,
		c.Categories,
		c.SubCategories,
		c.Phase,
		c.Verified,
		c.VerifiedBy,
		c.Confirmed,
		c.CreatedAt,
		c.UpdatedAt,
		c.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("save concern: %w", err)
	}
	return nil
}

func (r *concernRepository) upsertHold(ctx context.Context, h *domain.HoldRequest) error {
	const stmt = `
        INSERT INTO hold_requests (id, concern_id, requested_by, reason, attachments, decision, decided_by,
            decision_remarks, resumed, resumed_at, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT (id) DO UPDATE SET decision=EXCLUDED.decision, decided_by=EXCLUDED.decided_by,
            decision_remarks=EXCLUDED.decision_remarks, resumed=EXCLUDED.resumed,
            resumed_at=EXCLUDED.resumed_at, updated_at=EXCLUDED.updated_at`
	_, err := r.exec(ctx, stmt,
		h.ID,
		h.ConcernID,
		h.RequestedBy,
		h.Reason,
		h.Attachments,
		h.Decision,
		h.DecidedBy,
		h.DecisionRemarks,
		h.Resumed,
		h.ResumedAt,
		h.CreatedAt,
		h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save hold request: %w", err)
	}
	return nil
}

func (r *concernRepository) upsertTransfer(ctx context.Context, t *domain.TransferRequest) error {
	const stmt = `
        INSERT INTO transfer_requests (id, concern_id, requested_by, from_handler_id, to_handler_id, to_channel_id,
            remarks, attachments, required_levels, current_level, target_date, decision, decided_by,
            decision_remarks, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
        ON CONFLICT (id) DO UPDATE SET current_level=EXCLUDED.current_level, target_date=EXCLUDED.target_date,
            decision=EXCLUDED.decision, decided_by=EXCLUDED.decided_by,
            decision_remarks=EXCLUDED.decision_remarks, updated_at=EXCLUDED.updated_at`
	_, err := r.exec(ctx, stmt,
		t.ID,
		t.ConcernID,
		t.RequestedBy,
		t.FromHandlerID,
		t.ToHandlerID,
		t.ToChannelID,
		t.Remarks,
		t.Attachments,
		t.RequiredLevels,
		t.CurrentLevel,
		t.TargetDate,
		t.Decision,
		t.DecidedBy,
		t.DecisionRemarks,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrTransferAlreadyPending
	}
	if err != nil {
		return fmt.Errorf("save transfer request: %w", err)
	}
	return nil
}

func (r *concernRepository) upsertClosing(ctx context.Context, cl *domain.ClosingRequest) error {
	const stmt = `
        INSERT INTO closing_requests (id, concern_id, requested_by, resolution, attachments, decision,
            decided_by, remarks, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (id) DO UPDATE SET decision=EXCLUDED.decision, decided_by=EXCLUDED.decided_by,
            remarks=EXCLUDED.remarks, updated_at=EXCLUDED.updated_at`
	_, err := r.exec(ctx, stmt,
		cl.ID,
		cl.ConcernID,
		cl.RequestedBy,
		cl.Resolution,
		cl.Attachments,
		cl.Decision,
		cl.DecidedBy,
		cl.Remarks,
		cl.CreatedAt,
		cl.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrInvalidPhase
	}
	if err != nil {
		return fmt.Errorf("save closing request: %w", err)
	}
	return nil
}

func (r *concernRepository) insertHistory(ctx context.Context, h *domain.ConcernHistory) error {
	const stmt = `
        INSERT INTO concern_history (id, concern_id, transition, actor_id, actor_role, from_phase, to_phase, remarks, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := r.exec(ctx, stmt,
		h.ID,
		h.ConcernID,
		h.Transition,
		h.ActorID,
		h.ActorRole,
		h.FromPhase,
		h.ToPhase,
		h.Remarks,
		h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (r *concernRepository) List(ctx context.Context, filter ConcernFilter) ([]ConcernListItem, int, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.RequestorID != nil {
		args = append(args, *filter.RequestorID)
		clauses = append(clauses, fmt.Sprintf("c.requestor_id=$%d", len(args)))
	}
	if filter.HandlerID != nil {
		args = append(args, *filter.HandlerID)
		clauses = append(clauses, fmt.Sprintf("a.handler_id=$%d", len(args)))
	}
	if len(filter.Phases) > 0 {
		placeholders := make([]string, len(filter.Phases))
		for i, phase := range filter.Phases {
			args = append(args, phase)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("c.phase IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Unverified {
		clauses = append(clauses, "NOT c.verified")
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		args = append(args, "%"+strings.ToLower(strings.TrimSpace(*filter.SearchTerm))+"%")
		clauses = append(clauses, fmt.Sprintf("LOWER(c.description) LIKE $%d", len(args)))
	}

	from := `FROM concerns c LEFT JOIN assignments a ON a.concern_id=c.id AND a.active
             WHERE ` + strings.Join(clauses, " AND ")

	var total int
	if err := r.queryRow(ctx, `SELECT COUNT(*) `+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count concerns: %w", err)
	}

	limit, offset := pageBounds(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s, a.handler_id %s ORDER BY c.updated_at DESC LIMIT %d OFFSET %d`,
		concernColumns, from, limit, offset)

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list concerns: %w", err)
	}
	defer rows.Close()

	var result []ConcernListItem
	for rows.Next() {
		var item ConcernListItem
		var handler *string
		if err := scanConcern(rows, &item.Concern, &handler); err != nil {
			return nil, 0, err
		}
		if handler != nil {
			item.HandlerID = *handler
		}
		result = append(result, item)
	}
	return result, total, rows.Err()
}

func scanConcern(row pgx.Row, c *domain.Concern, extra ...any) error {
	dest := []any{
		&c.ID,
		&c.RequestorID,
		&c.ChannelID,
		&c.Description,
		&c.Categories,
		&c.SubCategories,
		&c.Phase,
		&c.Verified,
		&c.VerifiedBy,
		&c.Confirmed,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.ClosedAt,
	}
	return row.Scan(append(dest, extra...)...)
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
