// Package errcode provides layered error codes.
//
// A code is MMBBBB: a two digit module code followed by a four digit
// business code, so 700003 is business error 3 of module 70.
package errcode

import (
	"errors"
	"fmt"
	"net/http"
)

// LayeredError is an error value identified by its code. Derived values
// (WithMsgf, WithData, Wrap) keep the code, so errors.Is matches them against
// the value they were derived from.
type LayeredError struct {
	module     string
	code       int
	msgKey     string
	msg        string
	httpStatus int
	data       map[string]any
	cause      error
}

// New defines an error. httpStatus defaults to 500.
func New(moduleCode, businessCode int, module, msgKey, msg string, httpStatus ...int) *LayeredError {
	status := http.StatusInternalServerError
	if len(httpStatus) > 0 {
		status = httpStatus[0]
	}
	return &LayeredError{
		module:     module,
		code:       moduleCode*10000 + businessCode,
		msgKey:     msgKey,
		msg:        msg,
		httpStatus: status,
	}
}

func (e *LayeredError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *LayeredError) Code() int       { return e.code }
func (e *LayeredError) Module() string  { return e.module }
func (e *LayeredError) MsgKey() string  { return e.msgKey }
func (e *LayeredError) Message() string { return e.msg }
func (e *LayeredError) HTTPStatus() int { return e.httpStatus }
func (e *LayeredError) Unwrap() error   { return e.cause }
func (e *LayeredError) Data() map[string]any {
	out := make(map[string]any, len(e.data))
	for k, v := range e.data {
		out[k] = v
	}
	return out
}

// Is reports whether target is a LayeredError with the same code.
func (e *LayeredError) Is(target error) bool {
	var t *LayeredError
	if !errors.As(target, &t) {
		return false
	}
	return e.code == t.code
}

// WithMsgf returns a copy with a formatted message.
func (e *LayeredError) WithMsgf(format string, args ...any) *LayeredError {
	c := e.clone()
	c.msg = fmt.Sprintf(format, args...)
	return c
}

// WithData returns a copy carrying key=value as context data.
func (e *LayeredError) WithData(key string, value any) *LayeredError {
	c := e.clone()
	c.data[key] = value
	return c
}

// Wrap returns a copy whose cause is err. A nil err returns e unchanged.
func (e *LayeredError) Wrap(err error) *LayeredError {
	if err == nil {
		return e
	}
	c := e.clone()
	c.cause = err
	return c
}

func (e *LayeredError) String() string {
	return fmt.Sprintf("LayeredError{code:%d, module:%s, msg:%s, cause:%v}", e.code, e.module, e.msg, e.cause)
}

func (e *LayeredError) clone() *LayeredError {
	c := *e
	c.data = e.Data()
	return &c
}

// As returns the outermost LayeredError in err's chain.
func As(err error) (*LayeredError, bool) {
	var le *LayeredError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// HTTPStatusOf maps err to a status code: the LayeredError's status when
// present, 500 otherwise and 200 for nil.
func HTTPStatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if le, ok := As(err); ok {
		return le.httpStatus
	}
	return http.StatusInternalServerError
}
