package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

var errUnauthorized = errors.New("invalid or missing cron token")

// Unauthorized is returned when a cron caller presents the wrong shared secret.
func Unauthorized() *Error {
	return New(http.StatusUnauthorized, "unauthorized", errUnauthorized)
}

func BadRequest(err error) *Error {
	return New(http.StatusBadRequest, "invalid_request", err)
}

func NotFound(err error) *Error {
	return New(http.StatusNotFound, "not_found", err)
}

// From unwraps err into an *Error, defaulting to a 500.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr
	}
	return New(http.StatusInternalServerError, "internal", err)
}
