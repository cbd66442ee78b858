package domain

import (
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidSubscription = errors.New("invalid_subscription")
	ErrInvalidWallet       = errors.New("invalid_wallet")
	ErrInvalidID           = errors.New("invalid_id")
	ErrNotFound            = errors.New("alert_not_found")
	ErrSubscriptionMissing = errors.New("subscription_not_found")
	ErrWalletMissing       = errors.New("wallet_not_found")
	// ErrStaleEvaluation means the baseline changed while an evaluation was running.
	ErrStaleEvaluation = errors.New("stale_evaluation")
)

// FieldError is one offending field of an alert specification.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in an alert specification.
type ValidationError struct {
	Fields []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation_error"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation_error: " + strings.Join(parts, "; ")
}

// NewValidationError builds a single-field violation.
func NewValidationError(field, code, message string) *ValidationError {
	verr := &ValidationError{}
	verr.add(field, code, message)
	return verr
}

func (e *ValidationError) add(field, code, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Code: code, Message: message})
}

func (e *ValidationError) empty() bool {
	return len(e.Fields) == 0
}

// IsValidationError reports whether err carries field violations.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// IsNotFound reports any of the missing-entity errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSubscriptionMissing) ||
		errors.Is(err, ErrWalletMissing)
}

func ParseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}
