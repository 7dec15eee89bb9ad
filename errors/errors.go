// Package errors defines the coded errors returned by the image pipeline.
package errors

import (
	"errors"
	"net/http"
	"strings"
)

type ErrCode string

const (
	ErrCodeResourceExhaustion  ErrCode = "ResourceExhaustion"
	ErrCodeResourceUnavailable ErrCode = "ResourceUnavailable"
	ErrCodeDecodeFailure       ErrCode = "DecodeFailure"
	ErrCodeCancelled           ErrCode = "Cancelled"
	ErrCodeUpstreamUnavailable ErrCode = "UpstreamUnavailable"
	ErrCodeNotFound            ErrCode = "NotFound"
	ErrCodeBadInput            ErrCode = "BadInput"
	ErrCodeInternal            ErrCode = "Internal"
)

// Err is an error carrying a code and an optional cause.
type Err struct {
	Code  ErrCode
	msg   string
	cause error
}

func (e *Err) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return e.msg + ": " + e.cause.Error()
}

// Trace returns the message chain of the error and its causes.
func (e *Err) Trace() string {
	b := &strings.Builder{}
	b.WriteString(e.msg)
	indent := "\n\t"
	err := e.cause
	for err != nil {
		b.WriteString(indent)
		b.WriteString("Caused by: ")
		if ce, ok := err.(*Err); ok {
			b.WriteString(ce.msg)
			err = ce.cause
		} else {
			b.WriteString(err.Error())
			err = errors.Unwrap(err)
		}
		indent += "\t"
	}
	return b.String()
}

func (e *Err) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Err with the same code. It lets callers
// match against the sentinel values below with errors.Is.
func (e *Err) Is(target error) bool {
	t, ok := target.(*Err)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *Err) WithCause(c error) *Err {
	e.cause = c
	return e
}

// StatusCode returns the http status associated with the error code.
func (e *Err) StatusCode() int {
	switch e.Code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeBadInput:
		return http.StatusBadRequest
	case ErrCodeDecodeFailure:
		return http.StatusUnprocessableEntity
	case ErrCodeResourceExhaustion, ErrCodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is matching. Only the code is compared.
var (
	ErrResourceExhaustion  = &Err{Code: ErrCodeResourceExhaustion, msg: "resource exhausted"}
	ErrResourceUnavailable = &Err{Code: ErrCodeResourceUnavailable, msg: "resource unavailable"}
	ErrDecodeFailure       = &Err{Code: ErrCodeDecodeFailure, msg: "decode failure"}
	ErrCancelled           = &Err{Code: ErrCodeCancelled, msg: "cancelled"}
	ErrUpstreamUnavailable = &Err{Code: ErrCodeUpstreamUnavailable, msg: "upstream unavailable"}
	ErrNotFound            = &Err{Code: ErrCodeNotFound, msg: "not found"}
	ErrBadInput            = &Err{Code: ErrCodeBadInput, msg: "bad input"}
	ErrInternal            = &Err{Code: ErrCodeInternal, msg: "internal error"}
)

func NewResourceExhaustion(m string) *Err {
	return &Err{Code: ErrCodeResourceExhaustion, msg: m}
}

func NewResourceUnavailable(m string) *Err {
	return &Err{Code: ErrCodeResourceUnavailable, msg: m}
}

func NewDecodeFailure(m string) *Err {
	return &Err{Code: ErrCodeDecodeFailure, msg: m}
}

func NewCancelled(m string) *Err {
	return &Err{Code: ErrCodeCancelled, msg: m}
}

func NewUpstreamUnavailable(m string) *Err {
	return &Err{Code: ErrCodeUpstreamUnavailable, msg: m}
}

func NewNotFound(m string) *Err {
	return &Err{Code: ErrCodeNotFound, msg: m}
}

func NewBadInput(m string) *Err {
	return &Err{Code: ErrCodeBadInput, msg: m}
}

func NewInternal(m string) *Err {
	return &Err{Code: ErrCodeInternal, msg: m}
}

// CodeOf returns the code of the first *Err in err's chain, or "" if there
// is none.
func CodeOf(err error) ErrCode {
	var e *Err
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// StatusCode maps any error to an http status, defaulting to 500.
func StatusCode(err error) int {
	var e *Err
	if errors.As(err, &e) {
		return e.StatusCode()
	}
	return http.StatusInternalServerError
}
