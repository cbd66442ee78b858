package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	activitydomain "github.com/smallbiznis/railzway-alerts/internal/activity/domain"
	alertdomain "github.com/smallbiznis/railzway-alerts/internal/alert/domain"
	subscriptiondomain "github.com/smallbiznis/railzway-alerts/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/railzway-alerts/internal/usage/domain"
	walletdomain "github.com/smallbiznis/railzway-alerts/internal/wallet/domain"
	"github.com/smallbiznis/railzway-alerts/pkg/db"
	"gorm.io/gorm"
)

type ValidationError = alertdomain.FieldError

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return alertdomain.NewValidationError(field, code, message)
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, internalPayload()
	}

	var verr *alertdomain.ValidationError
	if errors.As(err, &verr) && verr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  verr.Fields,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrConflict), db.IsDuplicateKeyErr(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, internalPayload()
	}
}

func internalPayload() errorPayload {
	return errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

// classifyErrorForLog feeds the request logger with the same buckets the
// response uses.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, alertdomain.ErrInvalidOrganization),
		errors.Is(err, alertdomain.ErrInvalidSubscription),
		errors.Is(err, alertdomain.ErrInvalidWallet),
		errors.Is(err, alertdomain.ErrInvalidID),
		errors.Is(err, activitydomain.ErrInvalidOrganization),
		errors.Is(err, activitydomain.ErrInvalidTarget),
		errors.Is(err, activitydomain.ErrUnknownQueue),
		errors.Is(err, usagedomain.ErrInvalidOrganization),
		errors.Is(err, usagedomain.ErrInvalidSubscription),
		errors.Is(err, usagedomain.ErrInvalidMetric),
		errors.Is(err, usagedomain.ErrInvalidAmount),
		errors.Is(err, walletdomain.ErrInvalidOrganization),
		errors.Is(err, walletdomain.ErrInvalidWallet),
		errors.Is(err, walletdomain.ErrInvalidBalance),
		errors.Is(err, subscriptiondomain.ErrInvalidExternalID):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		alertdomain.IsNotFound(err),
		errors.Is(err, subscriptiondomain.ErrNotFound),
		errors.Is(err, walletdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	for _, sentinel := range []error{
		ErrInvalidRequest,
		alertdomain.ErrInvalidOrganization,
		alertdomain.ErrInvalidSubscription,
		alertdomain.ErrInvalidWallet,
		alertdomain.ErrInvalidID,
		activitydomain.ErrInvalidTarget,
		activitydomain.ErrUnknownQueue,
		usagedomain.ErrInvalidMetric,
		usagedomain.ErrInvalidAmount,
		walletdomain.ErrInvalidBalance,
		subscriptiondomain.ErrInvalidExternalID,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "invalid_id":
		return "id"
	case "unknown_activity_queue":
		return "queue"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
