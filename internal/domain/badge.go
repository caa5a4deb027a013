package domain

// Bucket names one role-relevant badge counter.
type Bucket string

const (
	BucketPendingVerification Bucket = "pendingVerification"
	BucketAssignedToMe        Bucket = "assignedToMe"
	BucketOnHold              Bucket = "onHold"
	BucketHoldApprovals       Bucket = "holdApprovals"
	BucketTransferApprovals   Bucket = "transferApprovals"
	BucketClosingApprovals    Bucket = "closingApprovals"
	BucketForConfirmation     Bucket = "forConfirmation"
)

// Buckets lists every bucket in display order.
func Buckets() []Bucket {
	return []Bucket{
		BucketPendingVerification,
		BucketAssignedToMe,
		BucketOnHold,
		BucketHoldApprovals,
		BucketTransferApprovals,
		BucketClosingApprovals,
		BucketForConfirmation,
	}
}

// Counts holds one value per bucket as reported by the store.
type Counts map[Bucket]int

// BucketsFor lists the buckets shown to role. Admins see every bucket.
func BucketsFor(role Role) []Bucket {
	switch role {
	case RoleRequestor:
		return []Bucket{BucketForConfirmation}
	case RoleReceiver:
		return []Bucket{BucketPendingVerification, BucketClosingApprovals}
	case RoleIssueHandler:
		return []Bucket{BucketAssignedToMe, BucketOnHold}
	case RoleApprover:
		return []Bucket{BucketHoldApprovals, BucketTransferApprovals, BucketClosingApprovals}
	case RoleAdmin:
		return Buckets()
	}
	return nil
}
