package domain

// Channel is the intake channel a concern belongs to, with its approval policy.
type Channel struct {
	ID              string
	Name            string
	ClosingApprover Role
	TransferLevels  int
}

// DefaultChannel is applied when a concern references an unconfigured channel.
func DefaultChannel(id string) Channel {
	return Channel{ID: id, ClosingApprover: RoleApprover, TransferLevels: 1}
}
