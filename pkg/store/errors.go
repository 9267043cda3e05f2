package store

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned by reads against an unknown or expired
	// session id.
	ErrSessionNotFound = errors.New("session not found or expired")

	// ErrInvalidConfig is returned by New when a limit or the TTL is not
	// positive.
	ErrInvalidConfig = errors.New("invalid store configuration")
)

// AdmissionReason identifies which limit rejected an operation.
type AdmissionReason string

const (
	// OverGlobalCapacity means the store is at its global session cap.
	OverGlobalCapacity AdmissionReason = "over_global_capacity"

	// OverIdentityQuota means the owning identity is at its session quota.
	OverIdentityQuota AdmissionReason = "over_identity_quota"

	// MessageLimitExceeded means the session is at its message cap.
	MessageLimitExceeded AdmissionReason = "message_limit_exceeded"
)

// AdmissionError is a typed, recoverable rejection. The operation it
// rejects has no side effects on the store.
type AdmissionError struct {
	Reason   AdmissionReason
	Identity string
	Limit    int
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission denied (%s, limit %d)", e.Reason, e.Limit)
}

// AsAdmissionError unwraps err into an *AdmissionError if it is one.
func AsAdmissionError(err error) (*AdmissionError, bool) {
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
