package domain

import "errors"

// Validation failures: the request itself is malformed.
var (
	ErrDescriptionRequired      = errors.New("concern description required")
	ErrSubCategoryWithoutParent = errors.New("sub-category requires its parent category")
	ErrAssignmentIncomplete     = errors.New("channel, category, sub-category, handler and target date are required")
	ErrHoldReasonRequired       = errors.New("hold reason required")
	ErrTransferTargetRequired   = errors.New("transfer target handler required")
	ErrTransferToSelf           = errors.New("transfer target is the current handler")
	ErrTargetDateRequired       = errors.New("target date required at this approval level")
	ErrResolutionRequired       = errors.New("resolution required")
	ErrRemarksRequired          = errors.New("remarks required")
	ErrEmptyBatch               = errors.New("no concerns selected")
	ErrUnknownStatus            = errors.New("unknown status filter")
)

// Precondition failures: the concern is not in a state that allows the transition.
var (
	ErrRoleNotAllowed         = errors.New("role not allowed for this transition")
	ErrNotOwner               = errors.New("concern belongs to another requestor")
	ErrNotAssignee            = errors.New("concern is assigned to another handler")
	ErrApproverLevelNotHeld   = errors.New("approval level is not the approver's own")
	ErrInvalidPhase           = errors.New("transition not allowed in current phase")
	ErrHoldAlreadyActive      = errors.New("concern already has an active hold request")
	ErrNoPendingHold          = errors.New("no pending hold request")
	ErrTransferAlreadyPending = errors.New("concern already has a pending transfer request")
	ErrNoPendingTransfer      = errors.New("no pending transfer request")
	ErrTransferLevelMismatch  = errors.New("transfer is pending at a different approval level")
	ErrNoPendingClosing       = errors.New("no pending closing request")
	ErrAlreadyConfirmed       = errors.New("resolution already confirmed")
	ErrOpenRequestBlocksClose = errors.New("pending hold or transfer request blocks closing")
)

// ErrConcernNotFound is returned when no concern matches the given id.
var ErrConcernNotFound = errors.New("concern not found")

var validationErrors = []error{
	ErrDescriptionRequired,
	ErrSubCategoryWithoutParent,
	ErrAssignmentIncomplete,
	ErrHoldReasonRequired,
	ErrTransferTargetRequired,
	ErrTransferToSelf,
	ErrTargetDateRequired,
	ErrResolutionRequired,
	ErrRemarksRequired,
	ErrEmptyBatch,
	ErrUnknownStatus,
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var preconditionErrors = []error{
	ErrRoleNotAllowed,
	ErrNotOwner,
	ErrNotAssignee,
	ErrApproverLevelNotHeld,
	ErrInvalidPhase,
	ErrHoldAlreadyActive,
	ErrNoPendingHold,
	ErrTransferAlreadyPending,
	ErrNoPendingTransfer,
	ErrTransferLevelMismatch,
	ErrNoPendingClosing,
	ErrAlreadyConfirmed,
	ErrOpenRequestBlocksClose,
}

// IsPrecondition reports whether err rejects a transition because of the concern's state.
func IsPrecondition(err error) bool {
	for _, target := range preconditionErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
