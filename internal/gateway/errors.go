package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies the domain errors a gateway may raise.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindBadRequest
	KindServerError
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindBadRequest:
		return "bad_request"
	case KindServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// Error is a recoverable domain error. Its message is safe to show to the
// user who triggered it.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

func ServerError(format string, args ...any) *Error {
	return &Error{Kind: KindServerError, Message: fmt.Sprintf(format, args...)}
}

// AsError returns the domain error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}
