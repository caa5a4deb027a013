package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/clock"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/workflow"
)

// publishTimeout bounds event delivery once the request that caused it is gone.
const publishTimeout = 5 * time.Second

// eventTypes names the notification event each transition emits.
var eventTypes = map[workflow.Transition]events.EventType{
	workflow.TransitionCreate:            events.EventConcernCreated,
	workflow.TransitionVerify:            events.EventConcernVerified,
	workflow.TransitionAssign:            events.EventConcernAssigned,
	workflow.TransitionRequestHold:       events.EventHoldRequested,
	workflow.TransitionApproveHold:       events.EventHoldApproved,
	workflow.TransitionRejectHold:        events.EventHoldRejected,
	workflow.TransitionResumeHold:        events.EventHoldResumed,
	workflow.TransitionRequestTransfer:   events.EventTransferRequested,
	workflow.TransitionApproveTransfer:   events.EventTransferApproved,
	workflow.TransitionRejectTransfer:    events.EventTransferRejected,
	workflow.TransitionRequestClose:      events.EventClosingRequested,
	workflow.TransitionApproveClose:      events.EventClosingApproved,
	workflow.TransitionDisapproveClose:   events.EventClosingDisapproved,
	workflow.TransitionCancelConcern:     events.EventConcernCancelled,
	workflow.TransitionConfirmResolution: events.EventResolutionConfirmed,
}

// WorkflowService runs concern transitions: lock, validate, persist, announce.
type WorkflowService struct {
	tx         repository.Transactor
	concerns   repository.ConcernRepository
	dispatcher events.Dispatcher
	machine    *workflow.Machine
	clock      clock.Clock
	logger     *zap.Logger
}

// WorkflowDependencies bundles collaborators for the workflow service.
type WorkflowDependencies struct {
	Tx          repository.Transactor
	ConcernRepo repository.ConcernRepository
	Dispatcher  events.Dispatcher
	Clock       clock.Clock
	// NewID generates row ids; uuid.NewString when nil.
	NewID  func() string
	Logger *zap.Logger
}

// NewWorkflowService constructs the service.
func NewWorkflowService(deps WorkflowDependencies) *WorkflowService {
	clk := deps.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	newID := deps.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowService{
		tx:         deps.Tx,
		concerns:   deps.ConcernRepo,
		dispatcher: deps.Dispatcher,
		machine:    workflow.NewMachine(clk, newID),
		clock:      clk,
		logger:     logger,
	}
}

// Create opens a concern.
func (s *WorkflowService) Create(ctx context.Context, actor domain.Actor, in workflow.CreateInput) (*workflow.Aggregate, error) {
	change, err := s.machine.Create(actor, in)
	if err != nil {
		return nil, err
	}
	if err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		return s.concerns.SaveChange(ctx, change)
	}); err != nil {
		return nil, err
	}
	s.publishChange(ctx, actor, change)
	return &workflow.Aggregate{Concern: change.Concern, Channel: domain.DefaultChannel(change.Concern.ChannelID)}, nil
}

// Verify marks a pending concern checked.
func (s *WorkflowService) Verify(ctx context.Context, actor domain.Actor, concernID string) (*workflow.Aggregate, error) {
	return s.apply(ctx, actor, concernID, func(agg *workflow.Aggregate) (*workflow.Change, error) {
		return s.machine.Verify(agg, actor)
	})
}

// Assign hands a concern to an issue handler.
func (s *WorkflowService) Assign(ctx context.Context, actor domain.Actor, concernID string, in workflow.AssignInput) (*workflow.Aggregate, error) {
	return s.apply(ctx, actor, concernID, func(agg *workflow.Aggregate) (*workflow.Change, error) {
		return s.machine.Assign(agg, actor, in)
	})
}

// RequestHold files a hold request.
func (s *WorkflowService) RequestHold(ctx context.Context, actor domain.Actor, concernID string, in workflow.HoldInput) (*workflow.Aggregate, error) {
	return s.apply(ctx, actor, concernID, func(agg *workflow.Aggregate) (*workflow.Change, error) {
		return s.machine.RequestHold(agg, actor, in)
	})
}

// ApproveHold puts the concern on hold.
func (s *WorkflowService) ApproveHold(ctx context.Context, actor domain.Actor, concernID, remarks string) (*workflow.Aggregate, error) {
	return s.apply(ctx, actor, concernID, func(agg *workflow.Aggregate) (*workflow.Change, error) {
		return s.machine.ApproveHold(agg, actor, remarks)
	})
}

// RejectHold discards the pending hold request.
func (s *WorkflowService) RejectHold(ctx context.Context, actor domain.Actor, concernID, remarks string) (*workflow.Aggregate, error) {
	return s.apply(ctx, actor, concernID, func(agg *workflow.Aggregate) (*workflow.Change, error) {
		return s.machine.RejectHold(agg, actor, remarks)
	})
}

// ResumeHold reactivates a concern on hold.
func (s *WorkflowService) ResumeHold(ctx context.Context, actor domain.Actor, concernID string) (*workflow.Aggregate, error) {
	return s.apply(ctx, actor, concernID, func(agg *workflow.Aggregate) (*workflow.Change, error) {
		return s.machine.ResumeHold(agg, actor)
	})
}

// RequestTransfer files a transfer request.
func (s *WorkflowService) RequestTransfer(ctx context.Context, actor domain.Actor, concernID string, in workflow.TransferInput) (*workflow.Aggregate, error) {
	return s.apply(ctx, actor, concernID, func(agg *workflow.Aggregate) (*workflow.Change, error) {
		return s.machine.RequestTransfer(agg, actor, in)
	})
}

// ApproveTransfer approves one level of a pending transfer.
func (s *WorkflowService) ApproveTransfer(ctx context.Context, actor domain.Actor, concernID string, d workflow.TransferDecision) (*workflow.Aggregate, error) {
	return s.apply(ctx, actor, concernID, func(agg *workflow.Aggregate) (*workflow.Change, error) {
		return s.machine.ApproveTransfer(agg, actor, d)
	})
}

// RejectTransfer discards a pending transfer.
func (s *WorkflowService) RejectTransfer(ctx context.Context, actor domain.Actor, concernID, remarks string) (*workflow.Aggregate, error) {
	return s.apply(ctx, actor, concernID, func(agg *workflow.Aggregate) (*workflow.Change, error) {
		return s.machine.RejectTransfer(agg, actor, remarks)
	})
}

// RequestClose files a closing request.
func (s *WorkflowService) RequestClose(ctx context.Context, actor domain.Actor, concernID string, in workflow.CloseInput) (*workflow.Aggregate, error) {
	return s.apply(ctx, actor, concernID, func(agg *workflow.Aggregate) (*workflow.Change, error) {
		return s.machine.RequestClose(agg, actor, in)
	})
}

// ApproveClose closes the concern.
func (s *WorkflowService) ApproveClose(ctx context.Context, actor domain.Actor, concernID, remarks string) (*workflow.Aggregate, error) {
	return s.apply(ctx, actor, concernID, func(agg *workflow.Aggregate) (*workflow.Change, error) {
		return s.machine.ApproveClose(agg, actor, remarks)
	})
}

// DisapproveClose sends the concern back to its handler.
func (s *WorkflowService) DisapproveClose(ctx context.Context, actor domain.Actor, concernID, remarks string) (*workflow.Aggregate, error) {
	return s.apply(ctx, actor, concernID, func(agg *workflow.Aggregate) (*workflow.Change, error) {
		return s.machine.DisapproveClose(agg, actor, remarks)
	})
}

// CancelConcern withdraws a pending concern.
func (s *WorkflowService) CancelConcern(ctx context.Context, actor domain.Actor, concernID, reason string) (*workflow.Aggregate, error) {
	return s.apply(ctx, actor, concernID, func(agg *workflow.Aggregate) (*workflow.Change, error) {
		return s.machine.CancelConcern(agg, actor, reason)
	})
}

// ConfirmResolution records the requestor's acknowledgement.
func (s *WorkflowService) ConfirmResolution(ctx context.Context, actor domain.Actor, concernID string) (*workflow.Aggregate, error) {
	return s.apply(ctx, actor, concernID, func(agg *workflow.Aggregate) (*workflow.Change, error) {
		return s.machine.ConfirmResolution(agg, actor)
	})
}

// BatchApproveClose approves the closing request of every listed concern.
// Concerns are independent: each runs in its own transaction and one failure
// never rolls back another.
func (s *WorkflowService) BatchApproveClose(ctx context.Context, actor domain.Actor, concernIDs []string, remarks string) ([]workflow.BatchResult, error) {
	if len(concernIDs) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	seen := make(map[string]struct{}, len(concernIDs))
	results := make([]workflow.BatchResult, 0, len(concernIDs))
	for _, id := range concernIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		agg, err := s.ApproveClose(ctx, actor, id, remarks)
		results = append(results, workflow.BatchResult{ConcernID: id, Aggregate: agg, Err: err})
	}
	return results, nil
}

// apply loads the concern under a row lock, runs step against it and persists
// the resulting change in the same transaction. The event goes out only after
// commit.
func (s *WorkflowService) apply(ctx context.Context, actor domain.Actor, concernID string, step func(*workflow.Aggregate) (*workflow.Change, error)) (*workflow.Aggregate, error) {
	var (
		change *workflow.Change
		after  *workflow.Aggregate
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		agg, err := s.concerns.LoadAggregate(ctx, concernID, true)
		if err != nil {
			return err
		}
		change, err = step(agg)
		if err != nil {
			return err
		}
		if err := s.concerns.SaveChange(ctx, change); err != nil {
			return err
		}
		after = agg.Apply(change)
		return nil
	})
	if err != nil {
		s.logger.Debug("transition rejected",
			zap.String("concern_id", concernID),
			zap.String("actor_id", actor.ID),
			zap.Error(err))
		return nil, err
	}
	s.publishChange(ctx, actor, change)
	return after, nil
}

func (s *WorkflowService) publishChange(ctx context.Context, actor domain.Actor, change *workflow.Change) {
	eventType, ok := eventTypes[change.Transition]
	if !ok {
		s.logger.Warn("no event for transition", zap.String("transition", string(change.Transition)))
		return
	}
	payload := events.TransitionPayload{
		Transition:  string(change.Transition),
		FromPhase:   change.History.FromPhase,
		ToPhase:     change.History.ToPhase,
		ChannelID:   change.Concern.ChannelID,
		RequestorID: change.Concern.RequestorID,
		Remarks:     change.History.Remarks,
	}
	switch {
	case change.Assignment != nil:
		payload.HandlerID = change.Assignment.HandlerID
	case change.Transfer != nil:
		payload.HandlerID = change.Transfer.FromHandlerID
	case change.Hold != nil:
		payload.HandlerID = change.Hold.RequestedBy
	case change.Closing != nil:
		payload.HandlerID = change.Closing.RequestedBy
	}
	switch {
	case change.Hold != nil:
		payload.RequestID = change.Hold.ID
	case change.Transfer != nil:
		payload.RequestID = change.Transfer.ID
	case change.Closing != nil:
		payload.RequestID = change.Closing.ID
	}

	s.publishEvent(ctx, events.Event{
		Type:      eventType,
		ConcernID: change.Concern.ID,
		Actor:     events.Actor{ID: actor.ID, Role: actor.Role},
		Timestamp: change.History.CreatedAt,
		Payload:   payload,
	})
}

func (s *WorkflowService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event delivery failed",
			zap.String("event_type", string(event.Type)),
			zap.String("concern_id", event.ConcernID),
			zap.Error(err))
	}
}
