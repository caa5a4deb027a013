package domain

import "time"

// Phase enumerates lifecycle states for a concern.
type Phase string

const (
	PhasePending            Phase = "PENDING"
	PhaseActive             Phase = "ACTIVE"
	PhaseOnHold             Phase = "ON_HOLD"
	PhaseForClosingApproval Phase = "FOR_CLOSING_APPROVAL"
	PhaseClosed             Phase = "CLOSED"
	PhaseCancelled          Phase = "CANCELLED"
)

// Terminal reports whether no further phase change is possible.
func (p Phase) Terminal() bool {
	return p == PhaseClosed || p == PhaseCancelled
}

// SubCategory is a sub-category tag bound to its parent category.
type SubCategory struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Concern is the root ticket raised by a requestor.
type Concern struct {
	ID            string
	RequestorID   string
	ChannelID     string
	Description   string
	Categories    []string
	SubCategories []SubCategory
	Phase         Phase
	Verified      bool
	VerifiedBy    *string
	Confirmed     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ClosedAt      *time.Time
}

// ValidateTags enforces that every sub-category has its parent category attached.
func ValidateTags(categories []string, subs []SubCategory) error {
	attached := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		attached[c] = struct{}{}
	}
	for _, sub := range subs {
		if _, ok := attached[sub.Category]; !ok {
			return ErrSubCategoryWithoutParent
		}
	}
	return nil
}
