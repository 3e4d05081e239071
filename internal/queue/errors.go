package queue

import (
	"errors"
	"fmt"
)

// Code classifies an operation failure for API clients.
type Code string

// Fault codes.
const (
	CodeNotFound            Code = "not_found"
	CodeConflict            Code = "conflict"
	CodePrecondition        Code = "precondition_failed"
	CodeInsufficientCredits Code = "insufficient_credits"
	CodeInternal            Code = "internal"
)

// Fault is a typed operation failure with a stable code.
type Fault struct {
	Code    Code
	Message string
	Err     error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return f.Message + ": " + f.Err.Error()
	}
	return f.Message
}

func (f *Fault) Unwrap() error { return f.Err }

// AsFault extracts a Fault from an error chain.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

func notFound(format string, args ...interface{}) *Fault {
	return &Fault{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...interface{}) *Fault {
	return &Fault{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

func precondition(format string, args ...interface{}) *Fault {
	return &Fault{Code: CodePrecondition, Message: fmt.Sprintf(format, args...)}
}

func insufficient(format string, args ...interface{}) *Fault {
	return &Fault{Code: CodeInsufficientCredits, Message: fmt.Sprintf(format, args...)}
}

func internal(err error, format string, args ...interface{}) *Fault {
	return &Fault{Code: CodeInternal, Message: fmt.Sprintf(format, args...), Err: err}
}
