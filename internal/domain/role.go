package domain

// Role enumerates the console personas that may act on a concern.
type Role string

const (
	RoleRequestor    Role = "REQUESTOR"
	RoleReceiver     Role = "RECEIVER"
	RoleIssueHandler Role = "ISSUE_HANDLER"
	RoleApprover     Role = "APPROVER"
	RoleAdmin        Role = "ADMIN"
)

// Valid reports whether the role is one of the known personas.
func (r Role) Valid() bool {
	switch r {
	case RoleRequestor, RoleReceiver, RoleIssueHandler, RoleApprover, RoleAdmin:
		return true
	}
	return false
}

// Actor identifies who invokes a transition.
type Actor struct {
	ID            string
	Role          Role
	ApproverLevel int
}
