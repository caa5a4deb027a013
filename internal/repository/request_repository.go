package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// RequestFilter captures list parameters shared by hold, transfer and closing requests.
type RequestFilter struct {
	ConcernID   *string
	RequestedBy *string
	Decisions   []domain.Decision
	// Level narrows transfers to the approval level they currently wait on.
	Level *int
	// ClosingApprover narrows closings to channels whose closings this role decides.
	ClosingApprover *domain.Role
	SearchTerm      *string
	Limit           int
	Offset          int
}

// RequestRepository lists the approval sub-requests of concerns.
type RequestRepository interface {
	ListHolds(ctx context.Context, filter RequestFilter) ([]domain.HoldRequest, int, error)
	ListTransfers(ctx context.Context, filter RequestFilter) ([]domain.TransferRequest, int, error)
	ListClosings(ctx context.Context, filter RequestFilter) ([]domain.ClosingRequest, int, error)
}

type requestRepository struct {
	db
}

// NewRequestRepository builds repository.
func NewRequestRepository(pool *pgxpool.Pool) RequestRepository {
	return &requestRepository{db{pool: pool}}
}

const holdColumns = `h.id, h.concern_id, h.requested_by, h.reason, h.attachments, h.decision, h.decided_by,
               h.decision_remarks, h.resumed, h.resumed_at, h.created_at, h.updated_at`

const transferColumns = `t.id, t.concern_id, t.requested_by, t.from_handler_id, t.to_handler_id, t.to_channel_id,
               t.remarks, t.attachments, t.required_levels, t.current_level, t.target_date, t.decision,
               t.decided_by, t.decision_remarks, t.created_at, t.updated_at`

const closingColumns = `cr.id, cr.concern_id, cr.requested_by, cr.resolution, cr.attachments, cr.decision,
               cr.decided_by, cr.remarks, cr.created_at, cr.updated_at`

func scanHold(row pgx.Row, h *domain.HoldRequest) error {
	return row.Scan(
		&h.ID,
		&h.ConcernID,
		&h.RequestedBy,
		&h.Reason,
		&h.Attachments,
		&h.Decision,
		&h.DecidedBy,
		&h.DecisionRemarks,
		&h.Resumed,
		&h.ResumedAt,
		&h.CreatedAt,
		&h.UpdatedAt,
	)
}

func scanTransfer(row pgx.Row, t *domain.TransferRequest) error {
	return row.Scan(
		&t.ID,
		&t.ConcernID,
		&t.RequestedBy,
		&t.FromHandlerID,
		&t.ToHandlerID,
		&t.ToChannelID,
		&t.Remarks,
		&t.Attachments,
		&t.RequiredLevels,
		&t.CurrentLevel,
		&t.TargetDate,
		&t.Decision,
		&t.DecidedBy,
		&t.DecisionRemarks,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
}

func scanClosing(row pgx.Row, cl *domain.ClosingRequest) error {
	return row.Scan(
		&cl.ID,
		&cl.ConcernID,
		&cl.RequestedBy,
		&cl.Resolution,
		&cl.Attachments,
		&cl.Decision,
		&cl.DecidedBy,
		&cl.Remarks,
		&cl.CreatedAt,
		&cl.UpdatedAt,
	)
}

// where builds the filter clauses for a request table aliased as alias.
// searchColumn is the free-text column the search term matches.
func (f RequestFilter) where(alias, searchColumn string) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	if f.ConcernID != nil {
		args = append(args, *f.ConcernID)
		clauses = append(clauses, fmt.Sprintf("%s.concern_id=$%d", alias, len(args)))
	}
	if f.RequestedBy != nil {
		args = append(args, *f.RequestedBy)
		clauses = append(clauses, fmt.Sprintf("%s.requested_by=$%d", alias, len(args)))
	}
	if len(f.Decisions) > 0 {
		placeholders := make([]string, len(f.Decisions))
		for i, d := range f.Decisions {
			args = append(args, d)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("%s.decision IN (%s)", alias, strings.Join(placeholders, ",")))
	}
	if f.SearchTerm != nil && strings.TrimSpace(*f.SearchTerm) != "" {
		args = append(args, "%"+strings.ToLower(strings.TrimSpace(*f.SearchTerm))+"%")
		clauses = append(clauses, fmt.Sprintf("LOWER(%s.%s) LIKE $%d", alias, searchColumn, len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func (r *requestRepository) ListHolds(ctx context.Context, filter RequestFilter) ([]domain.HoldRequest, int, error) {
	where, args := filter.where("h", "reason")
	from := `FROM hold_requests h WHERE ` + where

	var total int
	if err := r.queryRow(ctx, `SELECT COUNT(*) `+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count hold requests: %w", err)
	}
	limit, offset := pageBounds(filter.Limit, filter.Offset)
	rows, err := r.query(ctx, fmt.Sprintf(`SELECT %s %s ORDER BY h.created_at DESC LIMIT %d OFFSET %d`,
		holdColumns, from, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list hold requests: %w", err)
	}
	defer rows.Close()

	var result []domain.HoldRequest
	for rows.Next() {
		var h domain.HoldRequest
		if err := scanHold(rows, &h); err != nil {
			return nil, 0, err
		}
		result = append(result, h)
	}
	return result, total, rows.Err()
}

func (r *requestRepository) ListTransfers(ctx context.Context, filter RequestFilter) ([]domain.TransferRequest, int, error) {
	where, args := filter.where("t", "remarks")
	if filter.Level != nil {
		args = append(args, *filter.Level)
		where += fmt.Sprintf(" AND t.current_level=$%d", len(args))
	}
	from := `FROM transfer_requests t WHERE ` + where

	var total int
	if err := r.queryRow(ctx, `SELECT COUNT(*) `+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transfer requests: %w", err)
	}
	limit, offset := pageBounds(filter.Limit, filter.Offset)
	rows, err := r.query(ctx, fmt.Sprintf(`SELECT %s %s ORDER BY t.created_at DESC LIMIT %d OFFSET %d`,
		transferColumns, from, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transfer requests: %w", err)
	}
	defer rows.Close()

	var result []domain.TransferRequest
	for rows.Next() {
		var t domain.TransferRequest
		if err := scanTransfer(rows, &t); err != nil {
			return nil, 0, err
		}
		result = append(result, t)
	}
	return result, total, rows.Err()
}

func (r *requestRepository) ListClosings(ctx context.Context, filter RequestFilter) ([]domain.ClosingRequest, int, error) {
	where, args := filter.where("cr", "resolution")
	if filter.ClosingApprover != nil {
		args = append(args, *filter.ClosingApprover)
		where += fmt.Sprintf(" AND COALESCE(ch.closing_approver, 'APPROVER')=$%d", len(args))
	}
	from := `FROM closing_requests cr
             JOIN concerns c ON c.id=cr.concern_id
             LEFT JOIN channels ch ON ch.id=c.channel_id
             WHERE ` + where

	var total int
	if err := r.queryRow(ctx, `SELECT COUNT(*) `+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count closing requests: %w", err)
	}
	limit, offset := pageBounds(filter.Limit, filter.Offset)
	rows, err := r.query(ctx, fmt.Sprintf(`SELECT %s %s ORDER BY cr.created_at DESC LIMIT %d OFFSET %d`,
		closingColumns, from, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list closing requests: %w", err)
	}
	defer rows.Close()

	var result []domain.ClosingRequest
	for rows.Next() {
		var cl domain.ClosingRequest
		if err := scanClosing(rows, &cl); err != nil {
			return nil, 0, err
		}
		result = append(result, cl)
	}
	return result, total, rows.Err()
}
