package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/wwfm-backend/internal/data/txn"
	"github.com/yungbote/wwfm-backend/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondAPIError writes err using its apierr status and code. Internal errors
// are reported without their cause.
func RespondAPIError(c *gin.Context, err error) {
	apiErr := fromStorage(err)
	if apiErr.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
		RespondError(c, apiErr.Status, apiErr.Code, errInternal)
		return
	}
	RespondError(c, apiErr.Status, apiErr.Code, apiErr)
}

// fromStorage gives classified storage failures a status of their own:
// transient ones are worth retrying, conflicts are not.
func fromStorage(err error) *apierr.Error {
	switch {
	case txn.IsRetryable(err):
		return apierr.New(http.StatusServiceUnavailable, "retry_later", err)
	case txn.CodeOf(err) == txn.CodeConflict:
		return apierr.New(http.StatusConflict, "conflict", errConflict)
	default:
		return apierr.From(err)
	}
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

type internalError struct{}

func (internalError) Error() string { return "internal server error" }

var errInternal error = internalError{}

var errConflict = errors.New("conflicting update, retry the request")
