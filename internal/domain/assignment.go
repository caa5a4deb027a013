package domain

import "time"

// Assignment links a concern to the issue handler working it.
// At most one assignment per concern is active; a newer one supersedes it.
type Assignment struct {
	ID           string
	ConcernID    string
	HandlerID    string
	ChannelID    string
	TargetDate   time.Time
	AssignedBy   string
	Active       bool
	CreatedAt    time.Time
	SupersededAt *time.Time
}
