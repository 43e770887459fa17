package competition

import (
	"errors"
	"fmt"
)

// ValidationCode identifies why a submission was refused
type ValidationCode string

const (
	CodeEmpty          ValidationCode = "EMPTY"
	CodeTooLong        ValidationCode = "TOO_LONG"
	CodeWindowInactive ValidationCode = "WINDOW_INACTIVE"
	CodeDuplicate      ValidationCode = "DUPLICATE"
)

// ValidationError is returned synchronously for submissions the caller can
// fix or must stop retrying.
type ValidationError struct {
	Code    ValidationCode
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ConstraintCode identifies why a vote was refused
type ConstraintCode string

const (
	CodeAlreadyVoted ConstraintCode = "ALREADY_VOTED"
	CodeWindowClosed ConstraintCode = "WINDOW_CLOSED"
	CodeSelfVote     ConstraintCode = "SELF_VOTE"
)

// ConstraintError is returned when a vote breaks a competition rule
type ConstraintError struct {
	Code    ConstraintCode
	Message string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var (
	ErrEntryNotFound    = errors.New("entry not found")
	ErrWindowNotFound   = errors.New("window not found")
	ErrWindowNotStarted = errors.New("window was never activated")
	ErrWindowActive     = errors.New("another window is already active")
	ErrInvalidWindow    = errors.New("invalid window")
)

func validationError(code ValidationCode, format string, args ...interface{}) error {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func constraintError(code ConstraintCode, format string, args ...interface{}) error {
	return &ConstraintError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError with the given code
func IsValidation(err error, code ValidationCode) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Code == code
}

// IsConstraint reports whether err is a ConstraintError with the given code
func IsConstraint(err error, code ConstraintCode) bool {
	var ce *ConstraintError
	return errors.As(err, &ce) && ce.Code == code
}
