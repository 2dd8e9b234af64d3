package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/memberprop/internal/model"
	"github.com/roach88/memberprop/internal/policy"
)

// MembershipError represents a failure to apply a membership change.
//
// MembershipError includes structured fields for diagnostics:
//   - GroupID names the group whose change failed
//   - MemberID names the member, when one was resolved
//   - Candidates lists the offending groups of a cycle
type MembershipError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	GroupID    string
	MemberID   string
	Candidates []string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes membership errors.
type ErrorCode string

const (
	ErrCodeMemberNotFound     ErrorCode = "MEMBER_NOT_FOUND"
	ErrCodeGroupNotFound      ErrorCode = "GROUP_NOT_FOUND"
	ErrCodeUserNotFound       ErrorCode = "USER_NOT_FOUND"
	ErrCodeNoMemberLocator    ErrorCode = "NO_MEMBER_LOCATOR"
	ErrCodeOutsiderNotAllowed ErrorCode = "OUTSIDER_NOT_ALLOWED"
	ErrCodeMemberDisabled     ErrorCode = "MEMBER_DISABLED"
	ErrCodePrivilegeDenied    ErrorCode = "PRIVILEGE_DENIED"

	// ErrCodeCycleDetected indicates a group would (transitively) contain itself.
	// Never skippable.
	ErrCodeCycleDetected ErrorCode = "CYCLE_DETECTED"

	// ErrCodeInvalidBatchShape indicates flags inconsistent with the batch,
	// e.g. a group-create sync over more than one group.
	ErrCodeInvalidBatchShape ErrorCode = "INVALID_BATCH_SHAPE"

	// ErrCodeDeprovisionInvalid indicates an unusable alternative owner.
	ErrCodeDeprovisionInvalid ErrorCode = "DEPROVISION_INVALID"
)

// Error implements the error interface.
func (e *MembershipError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.GroupID != "" {
		fmt.Fprintf(&b, " (group=%s", e.GroupID)
		if e.MemberID != "" {
			fmt.Fprintf(&b, ", member=%s", e.MemberID)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *MembershipError) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is a MembershipError with the given code.
// Uses errors.As to handle wrapped and joined errors.
func IsCode(err error, code ErrorCode) bool {
	var me *MembershipError
	if errors.As(err, &me) {
		return me.Code == code
	}
	return false
}

// IsCycleError returns true if the error is a cycle detection error.
func IsCycleError(err error) bool {
	return IsCode(err, ErrCodeCycleDetected)
}

func newError(code ErrorCode, groupID, format string, args ...any) *MembershipError {
	return &MembershipError{Code: code, GroupID: groupID, Message: fmt.Sprintf(format, args...)}
}

// NewCycleError creates a MembershipError naming every offending candidate.
func NewCycleError(g model.Group, candidates []string) *MembershipError {
	return &MembershipError{
		Code:       ErrCodeCycleDetected,
		Message:    fmt.Sprintf("adding %s to %s would create a cycle", strings.Join(candidates, ", "), g.Name),
		GroupID:    g.ID,
		Candidates: candidates,
	}
}

// privilegeError maps a policy denial to PRIVILEGE_DENIED and passes other
// errors through.
func privilegeError(groupID, memberID string, err error) error {
	var denied *policy.DeniedError
	if errors.As(err, &denied) {
		return &MembershipError{
			Code:     ErrCodePrivilegeDenied,
			Message:  denied.Reason,
			GroupID:  groupID,
			MemberID: memberID,
			Err:      err,
		}
	}
	return err
}

// joinErrors joins one or more errors; a single error is returned as is so
// that callers can errors.As it without unwrapping a join.
func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Join(errs...)
}
