package relay

import (
	"fmt"
	"net/http"
)

// Kind classifies a turn failure
type Kind string

const (
	KindValidation         Kind = "validation"
	KindAuthorization      Kind = "authorization"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindRateLimited        Kind = "rate_limited"
	KindBudgetExceeded     Kind = "budget_exceeded"
	KindInsufficientCredit Kind = "insufficient_credit"
	KindUpstream           Kind = "upstream"
	KindInternal           Kind = "internal"
)

// Error is a turn failure. Message is safe to show to the client.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the kind to the status used for synchronous failures
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindInsufficientCredit:
		return http.StatusPaymentRequired
	case KindBudgetExceeded:
		return http.StatusRequestEntityTooLarge
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Outcome is the terminal state of a turn
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRefunded  Outcome = "refunded"
	OutcomeRejected  Outcome = "rejected"
	OutcomeCancelled Outcome = "cancelled"
)

// Client-facing messages for stream failures
const (
	msgInsufficientCredit   = "insufficient credit"
	msgContextLimitExceeded = "context limit exceeded"
	msgUpstreamFailed       = "upstream request failed"
	msgInternal             = "internal error"
)
