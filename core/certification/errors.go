package certification

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// errors
	ErrNotFound         = errors.New("certification progress not found")
	ErrTypeNotFound     = errors.New("certification type not found")
	ErrDuplicateStart   = errors.New("certification process already started")
	ErrStaleStage       = errors.New("certification progress was modified concurrently")
	ErrAlreadyIssued    = errors.New("a certificate was already issued for this progress")
	ErrNotApproved      = errors.New("certification progress is not approved")
	ErrCertificateTaken = errors.New("certificate number already in use")
)

const (
	reasonOutOfOrder   = "stages must be completed in order"
	reasonNotCurrent   = "only the current stage can be unchecked"
	reasonUnknownStage = "unknown stage"
	reasonStatusDiffer = "new status does not match the requested transition"
)

// TransitionError reports a stage change that violates the ordering rules.
type TransitionError struct {
	Current   Stage
	Requested Stage
	Checked   bool
	Reason    string
}

func newTransitionError(current, requested Stage, checked bool, reason string) *TransitionError {
	return &TransitionError{Current: current, Requested: requested, Checked: checked, Reason: reason}
}

func (err *TransitionError) Error() string {
	return err.Reason
}

// Detail describes the rejected transition, for logs.
func (err *TransitionError) Detail() string {
	action := "uncheck"
	if err.Checked {
		action = "check"
	}
	return fmt.Sprintf("%s %q from %q: %s", action, err.Requested, err.Current, err.Reason)
}

// IsTransitionError reports whether err (or its cause) is a *TransitionError.
func IsTransitionError(err error) bool {
	_, ok := errors.Cause(err).(*TransitionError)
	return ok
}
