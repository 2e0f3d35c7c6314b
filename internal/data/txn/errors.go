package txn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrorCode standardises storage failure semantics.
type ErrorCode string

const (
	CodeNotFound  ErrorCode = "not_found"
	CodeConflict  ErrorCode = "conflict"
	CodeRetryable ErrorCode = "retryable"
	CodeInternal  ErrorCode = "internal"
)

type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Op != "" && e.Message != "":
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Code)
	case e.Op != "":
		return fmt.Sprintf("%s (%s)", e.Op, e.Code)
	case e.Message != "":
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(code ErrorCode, op, message string, cause error) error {
	return &Error{
		Code:    code,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

// CodeOf extracts the error code, or "" when err was never classified.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether err is a transient storage failure.
func IsRetryable(err error) bool { return CodeOf(err) == CodeRetryable }

// Classify maps driver and ORM failures onto error codes.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	wrap := func(code ErrorCode) error { return NewError(code, op, err.Error(), err) }

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return wrap(CodeNotFound)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return wrap(CodeRetryable)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505":
			return wrap(CodeConflict) // unique_violation
		case "40001", "40P01", "55P03":
			return wrap(CodeRetryable) // serialization/deadlock/lock_not_available
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "duplicate key"), strings.Contains(msg, "unique constraint"):
		return wrap(CodeConflict)
	case strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "serialization"),
		strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "timeout"):
		return wrap(CodeRetryable)
	default:
		return wrap(CodeInternal)
	}
}
