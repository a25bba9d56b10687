// Copyright 2026 The EntityKit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gcerr provides the error type used throughout EntityKit APIs.
package gcerr // import "entitykit.dev/internal/gcerr"

import (
	"context"
	"fmt"

	"golang.org/x/xerrors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// An ErrorCode describes the error's category.
type ErrorCode int

const (
	// OK is returned by the Code function on a nil error. It is not a valid
	// code for an error.
	OK ErrorCode = 0

	// Unknown means the error could not be categorized.
	Unknown ErrorCode = 1

	// NotFound means the resource was not found.
	NotFound ErrorCode = 2

	// AlreadyExists means the resource exists, but it should not.
	AlreadyExists ErrorCode = 3

	// InvalidArgument means a value given to an EntityKit API is incorrect.
	InvalidArgument ErrorCode = 4

	// Internal means something unexpected happened. Internal errors always
	// indicate bugs in EntityKit (or possibly the underlying service).
	Internal ErrorCode = 5

	// Unimplemented means the feature is not implemented.
	Unimplemented ErrorCode = 6

	// FailedPrecondition means the system was in the wrong state.
	FailedPrecondition ErrorCode = 7

	// PermissionDenied means the caller does not have permission to execute
	// the specified operation.
	PermissionDenied ErrorCode = 8

	// ResourceExhausted means some resource has been exhausted, typically
	// because a service resource limit or quota was reached.
	ResourceExhausted ErrorCode = 9

	// Canceled means the operation was canceled.
	Canceled ErrorCode = 10

	// DeadlineExceeded means the operation timed out.
	DeadlineExceeded ErrorCode = 11
)

// Call "go generate" whenever you change the above list of error codes.

//go:generate stringer -type=ErrorCode

// An Error describes an EntityKit error.
type Error struct {
	// Code is the error code.
	Code  ErrorCode
	msg   string
	frame xerrors.Frame
	err   error
}

func (e *Error) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("code=%v", e.Code)
	}
	return fmt.Sprintf("%s (code=%v)", e.msg, e.Code)
}

// Format implements fmt.Formatter.
func (e *Error) Format(s fmt.State, c rune) {
	xerrors.FormatError(e, s, c)
}

// FormatError implements the xerrors.Formatter interface.
func (e *Error) FormatError(p xerrors.Printer) (next error) {
	p.Print(e.Error())
	e.frame.Format(p)
	return e.err
}

// Unwrap returns the error underlying the receiver, which may be nil.
func (e *Error) Unwrap() error {
	return e.err
}

// New returns a new error with the given code, underlying error and message. Pass 1
// for the call depth if New is called from the function raising the error; pass 2 if
// it is called from a helper function that was invoked by the original function; and
// so on.
func New(c ErrorCode, err error, callDepth int, msg string) *Error {
	return &Error{
		Code:  c,
		msg:   msg,
		frame: xerrors.Caller(callDepth),
		err:   err,
	}
}

// Newf uses format and args to format a message, then calls New.
func Newf(c ErrorCode, err error, format string, args ...interface{}) *Error {
	return New(c, err, 1, fmt.Sprintf(format, args...))
}

// DoNotWrap reports whether an error should not be wrapped in the Error
// type from this package. It returns true if err is nil, a context error,
// or already an *Error.
func DoNotWrap(err error) bool {
	if err == nil {
		return true
	}
	if xerrors.Is(err, context.Canceled) || xerrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	_, ok := err.(*Error)
	return ok
}

// ErrorAs is a helper for the ErrorAs method of an API's portable type.
// It performs some initial nil checks, and does a single level of unwrapping
// when err is a *gcerr.Error. Then it calls its errorAs argument, which should
// be a driver implementation of ErrorAs.
func ErrorAs(err error, target interface{}, errorAs func(error, interface{}) bool) bool {
	if err == nil {
		return false
	}
	if target == nil {
		panic("ErrorAs target cannot be nil")
	}
	if e, ok := err.(*Error); ok {
		err = e.Unwrap()
		if err == nil {
			return false
		}
	}
	return errorAs(err, target)
}

// GRPCCode extracts the gRPC status code and converts it into an ErrorCode.
// It returns Unknown if the error isn't from gRPC.
func GRPCCode(err error) ErrorCode {
	switch status.Code(err) {
	case codes.NotFound:
		return NotFound
	case codes.AlreadyExists:
		return AlreadyExists
	case codes.InvalidArgument:
		return InvalidArgument
	case codes.Internal:
		return Internal
	case codes.Unimplemented:
		return Unimplemented
	case codes.FailedPrecondition:
		return FailedPrecondition
	case codes.PermissionDenied:
		return PermissionDenied
	case codes.ResourceExhausted:
		return ResourceExhausted
	case codes.Canceled:
		return Canceled
	case codes.DeadlineExceeded:
		return DeadlineExceeded
	default:
		return Unknown
	}
}
