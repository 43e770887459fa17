package service

import (
	"context"
	"errors"

	"connectrpc.com/connect"

	"github.com/kkkkikiki/quote-competition/internal/competition"
)

var errInternal = errors.New("internal error")

// toConnectError maps domain errors to connect codes. Validation and
// constraint failures also carry their code in ErrorCodeHeader.
func toConnectError(err error) *connect.Error {
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return connectErr
	}

	var validation *competition.ValidationError
	if errors.As(err, &validation) {
		code := connect.CodeInvalidArgument
		switch validation.Code {
		case competition.CodeDuplicate:
			code = connect.CodeAlreadyExists
		case competition.CodeWindowInactive:
			code = connect.CodeFailedPrecondition
		}
		return withErrorCode(connect.NewError(code, err), string(validation.Code))
	}

	var constraint *competition.ConstraintError
	if errors.As(err, &constraint) {
		code := connect.CodeFailedPrecondition
		switch constraint.Code {
		case competition.CodeAlreadyVoted:
			code = connect.CodeAlreadyExists
		case competition.CodeSelfVote:
			code = connect.CodePermissionDenied
		}
		return withErrorCode(connect.NewError(code, err), string(constraint.Code))
	}

	switch {
	case errors.Is(err, competition.ErrMissingUser):
		return connect.NewError(connect.CodeUnauthenticated, err)
	case errors.Is(err, competition.ErrEntryNotFound), errors.Is(err, competition.ErrWindowNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, competition.ErrWindowNotStarted), errors.Is(err, competition.ErrWindowActive):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, competition.ErrInvalidWindow):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		// detail stays in the server log
		return connect.NewError(connect.CodeInternal, errInternal)
	}
}

func withErrorCode(err *connect.Error, code string) *connect.Error {
	err.Meta().Set(ErrorCodeHeader, code)
	return err
}
