package ierr

import "errors"

type ErrorCode string

const (
	ErrorCodeInvalidArgument ErrorCode = "InvalidArgument"
	ErrorCodeNotFound        ErrorCode = "NotFound"
	ErrorCodeUnavailable     ErrorCode = "Unavailable"
	ErrorCodeInternal        ErrorCode = "Internal"
)

// Error is the coded error returned to clients in RPC responses and REST bodies.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`

	cause error
}

func New(code ErrorCode, cause error) Error {
	return Error{
		Code:    code,
		Message: cause.Error(),
		cause:   cause,
	}
}

func (e Error) Error() string {
	if e.cause == nil {
		return string(e.Code) + ": " + e.Message
	}

	return string(e.Code) + ": " + e.cause.Error()
}

func (e Error) Unwrap() error {
	return e.cause
}

// CodeOf returns the code carried by err, or ErrorCodeInternal when err is not coded.
func CodeOf(err error) ErrorCode {
	var coded Error
	if errors.As(err, &coded) {
		return coded.Code
	}

	return ErrorCodeInternal
}
