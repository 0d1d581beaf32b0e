// Package errors provides coded errors for the generation service.
// Errors carry an operation name, structured fields and a short stack so that
// request handlers can map them to HTTP responses and the pipeline can log them.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Code categorizes an error.
type Code string

const (
	CodeInternal          Code = "INTERNAL_ERROR"
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeTimeout           Code = "TIMEOUT"
	CodeUnavailable       Code = "UNAVAILABLE"
	CodeResourceExhausted Code = "RESOURCE_EXHAUSTED"
)

// Error is the service error type.
type Error struct {
	// Code is the error category.
	Code Code
	// Message is the human-readable message.
	Message string
	// Op is the failing operation, e.g. "staging.write".
	Op string
	// Err is the wrapped cause.
	Err error
	// Fields holds structured context (field names, job ids, ...).
	Fields map[string]any
	// Stack is captured when the error is created.
	Stack []Frame
}

// Frame is one stack frame.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

func (e *Error) Error() string {
	var b strings.Builder

	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Code != "" {
		b.WriteString("[")
		b.WriteString(string(e.Code))
		b.WriteString("] ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithField attaches a field and returns the same error.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// HTTPStatus maps the code to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return 400
	case CodeUnauthorized:
		return 401
	case CodeNotFound:
		return 404
	case CodeConflict:
		return 409
	case CodeResourceExhausted:
		return 429
	case CodeUnavailable:
		return 503
	case CodeTimeout:
		return 504
	default:
		return 500
	}
}

// StackTrace renders the captured stack, one frame per line.
func (e *Error) StackTrace() string {
	if len(e.Stack) == 0 {
		return ""
	}

	var b strings.Builder
	for _, f := range e.Stack {
		fmt.Fprintf(&b, "  %s:%d %s\n", f.File, f.Line, f.Function)
	}
	return b.String()
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap adds an operation and message to err. The code and fields of a wrapped
// *Error are preserved; anything else becomes CodeInternal.
func Wrap(err error, op string, message string) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return &Error{
			Code:    e.Code,
			Message: message,
			Op:      op,
			Err:     err,
			Fields:  e.Fields,
			Stack:   captureStack(2),
		}
	}

	return &Error{
		Code:    CodeInternal,
		Message: message,
		Op:      op,
		Err:     err,
		Stack:   captureStack(2),
	}
}

// WrapWithCode wraps err with an explicit code.
func WrapWithCode(err error, code Code, op string, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    code,
		Message: message,
		Op:      op,
		Err:     err,
		Stack:   captureStack(2),
	}
}

// ValidationField creates a validation error for one request field.
func ValidationField(field string, message string) *Error {
	return New(CodeValidation, message).WithField("field", field)
}

// NotFound creates a not found error for a resource id.
func NotFound(resource string, id string) *Error {
	return New(CodeNotFound, fmt.Sprintf("%s not found: %s", resource, id)).
		WithField("resource", resource).
		WithField("id", id)
}

// Conflict creates a conflict error.
func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

// ResourceExhausted reports a full queue or pool.
func ResourceExhausted(message string) *Error {
	return New(CodeResourceExhausted, message)
}

// GetCode returns the code of err, CodeInternal when err is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// GetHTTPStatus returns the response status for err.
func GetHTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return 500
}

// GetFields returns the fields attached to err, if any.
func GetFields(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) && e.Fields != nil {
		return e.Fields
	}
	return nil
}

// IsCode reports whether err carries code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return IsCode(err, CodeValidation)
}

func captureStack(skip int) []Frame {
	const maxDepth = 32
	var pcs [maxDepth]uintptr
	n := runtime.Callers(skip+1, pcs[:])

	frames := make([]Frame, 0, n)
	callersFrames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := callersFrames.Next()

		if strings.Contains(frame.File, "runtime/") {
			if !more {
				break
			}
			continue
		}

		frames = append(frames, Frame{
			File:     frame.File,
			Line:     frame.Line,
			Function: frame.Function,
		})

		if !more || len(frames) >= 10 {
			break
		}
	}

	return frames
}

// As is errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is is errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
