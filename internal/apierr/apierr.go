// Package apierr is the user-facing error taxonomy of the public API and the
// JSON envelope every handler answers with.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindRateLimited
	KindUnauthorized
	KindForbidden
	KindValidation
	KindBadRequest
	KindNotFound
	KindConflict
)

func (k Kind) Status() int {
	switch k {
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation, KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindBadRequest:
		return "bad_request"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Detail is one machine-readable violation attached to a validation failure.
type Detail struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Error is an error the client is allowed to see. Message is rendered verbatim,
// except for KindInternal which always renders the generic message.
type Error struct {
	Kind    Kind
	Message string
	Details []Detail
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

const (
	msgRateLimited  = "Too many requests, please try again later"
	msgUnauthorized = "Unauthorized"
	msgForbidden    = "Forbidden"
	msgValidation   = "Validation failed"
	msgInternal     = "Internal server error"
)

func RateLimited() *Error  { return &Error{Kind: KindRateLimited, Message: msgRateLimited} }
func Unauthorized() *Error { return &Error{Kind: KindUnauthorized, Message: msgUnauthorized} }
func Forbidden() *Error    { return &Error{Kind: KindForbidden, Message: msgForbidden} }

func Validation(details []Detail) *Error {
	return &Error{Kind: KindValidation, Message: msgValidation, Details: details}
}

func BadRequest(msg string) *Error { return &Error{Kind: KindBadRequest, Message: msg} }
func NotFound(msg string) *Error   { return &Error{Kind: KindNotFound, Message: msg} }
func Conflict(msg string) *Error   { return &Error{Kind: KindConflict, Message: msg} }

// Internal wraps cause for logging; the client only ever sees the generic message.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: msgInternal, cause: cause}
}

// From classifies err. Anything that is not already an *Error is internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// Envelope is the body shape of every API response.
type Envelope struct {
	Success bool     `json:"success"`
	Data    any      `json:"data,omitempty"`
	Error   string   `json:"error,omitempty"`
	Details []Detail `json:"details,omitempty"`
}

// Write renders e as an error envelope with its status code.
func Write(w http.ResponseWriter, e *Error) {
	msg := e.Message
	if e.Kind == KindInternal {
		msg = msgInternal
	}
	WriteJSON(w, e.Kind.Status(), Envelope{Success: false, Error: msg, Details: e.Details})
}

// WriteData renders a success envelope.
func WriteData(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, Envelope{Success: true, Data: data})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"Internal server error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
