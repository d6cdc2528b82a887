/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package smiol

import (
	"errors"
	"fmt"
)

// Code is a stable, low-level error identifier returned by every smiol
// routine, so callers can branch on a fixed set of integers rather
// than string-matching errors.
type Code int

const (
	SUCCESS Code = iota
	MALLOC_FAILURE
	INVALID_ARGUMENT
	MPI_ERROR
	FORTRAN_ERROR
	LIBRARY_ERROR
	WRONG_ARG_TYPE
	INSUFFICIENT_ARG
	ASYNC_ERROR
)

// ErrorString returns the stable, single-line description of a Code. For
// LIBRARY_ERROR, callers should additionally consult Context.LibErrorString
// for the backend's own message.
func ErrorString(c Code) string {
	switch c {
	case SUCCESS:
		return "Success!"
	case MALLOC_FAILURE:
		return "malloc returned a null pointer"
	case INVALID_ARGUMENT:
		return "invalid subroutine argument"
	case MPI_ERROR:
		return "internal MPI call failed"
	case FORTRAN_ERROR:
		return "Fortran wrapper detected an inconsistency in C return values"
	case LIBRARY_ERROR:
		return "bad return code from a library call"
	case WRONG_ARG_TYPE:
		return "argument is of the wrong type"
	case INSUFFICIENT_ARG:
		return "argument is of insufficient size"
	case ASYNC_ERROR:
		return "failure in SMIOL asynchronous function"
	default:
		return "Unknown error"
	}
}

// Error is the structured error type returned by smiol's public API. Code
// is always set; Detail and Cause are populated where available. BackendKind
// and BackendErrno latch the backend's own error identity when Code is
// LIBRARY_ERROR; Context.LibErrorString resolves them to the backend's text.
type Error struct {
	Code         Code
	Detail       string
	Cause        error
	BackendKind  string
	BackendErrno int
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := ErrorString(e.Code)
	if e.Code == LIBRARY_ERROR && e.BackendKind != "" {
		msg = fmt.Sprintf("%s (%s errno %d)", msg, e.BackendKind, e.BackendErrno)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// newError builds an *Error for the given code.
func newError(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

// wrapError builds an *Error for the given code, wrapping a lower-level cause.
func wrapError(code Code, detail string, cause error) *Error {
	return &Error{Code: code, Detail: detail, Cause: cause}
}

// libraryError builds a LIBRARY_ERROR carrying the backend's own error
// identity alongside the stable code.
func libraryError(backendKind string, backendErrno int, detail string) *Error {
	return &Error{Code: LIBRARY_ERROR, Detail: detail, BackendKind: backendKind, BackendErrno: backendErrno}
}

// CodeOf extracts the Code from err if it is (or wraps) a smiol *Error,
// returning SUCCESS for a nil error and INVALID_ARGUMENT-adjacent callers
// should not rely on CodeOf for non-smiol errors: it returns Code(-1) then.
func CodeOf(err error) Code {
	if err == nil {
		return SUCCESS
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Code(-1)
}
