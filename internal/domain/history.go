package domain

import "time"

// ConcernHistory is an immutable audit trail entry written for every transition.
type ConcernHistory struct {
	ID         string
	ConcernID  string
	Transition string
	ActorID    string
	ActorRole  Role
	FromPhase  Phase
	ToPhase    Phase
	Remarks    string
	CreatedAt  time.Time
}
