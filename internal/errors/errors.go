package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Base error types
var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidState       = errors.New("invalid state")
	ErrInvalidInput       = errors.New("invalid input")
	ErrExternalService    = errors.New("external service failure")
	ErrPartialApplication = errors.New("partially applied")
	ErrStaleData          = errors.New("stale data")
	ErrInternalError      = errors.New("internal error")
)

// Kind represents the category of error
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindInvalidState       Kind = "invalid_state"
	KindInvalidInput       Kind = "invalid_input"
	KindExternalService    Kind = "external_service"
	KindPartialApplication Kind = "partial_application"
	KindStaleData          Kind = "stale_data"
	KindInternal           Kind = "internal"
)

// BillingError is a structured error for billing operations
type BillingError struct {
	Kind    Kind
	Code    string // Overrides Kind as the machine-readable response code
	Op      string // Operation that failed (e.g., "update_quantity", "count_users")
	Message string // Safe to show to API callers
	Err     error  // Underlying error
	Details map[string]any
}

func (e *BillingError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s failed: %s: %v", e.Op, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *BillingError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *BillingError) Is(target error) bool {
	if target == nil {
		return false
	}
	if sentinel, ok := sentinels[e.Kind]; ok && target == sentinel {
		return true
	}
	return errors.Is(e.Err, target)
}

var sentinels = map[Kind]error{
	KindNotFound:           ErrNotFound,
	KindUnauthorized:       ErrUnauthorized,
	KindForbidden:          ErrForbidden,
	KindInvalidState:       ErrInvalidState,
	KindInvalidInput:       ErrInvalidInput,
	KindExternalService:    ErrExternalService,
	KindPartialApplication: ErrPartialApplication,
	KindStaleData:          ErrStaleData,
	KindInternal:           ErrInternalError,
}

// HTTPStatus maps the error kind onto a response status.
func (e *BillingError) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidState, KindInvalidInput:
		return http.StatusBadRequest
	case KindExternalService:
		return http.StatusBadGateway
	case KindStaleData:
		return http.StatusConflict
	default: // KindPartialApplication, KindInternal
		return http.StatusInternalServerError
	}
}

// New creates a new BillingError
func New(kind Kind, op, message string, err error) *BillingError {
	return &BillingError{
		Kind:    kind,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// WithDetail attaches a key/value pair surfaced to API callers
func (e *BillingError) WithDetail(key string, value any) *BillingError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCode sets a response code more specific than the error kind
func (e *BillingError) WithCode(code string) *BillingError {
	e.Code = code
	return e
}

// ResponseCode is the code reported to API callers
func (e *BillingError) ResponseCode() string {
	if e.Code != "" {
		return e.Code
	}
	return string(e.Kind)
}

// Helper functions

// NotFound reports a missing entity
func NotFound(op, message string) error {
	return New(KindNotFound, op, message, nil)
}

// Forbidden reports a caller lacking permission
func Forbidden(op, message string) error {
	return New(KindForbidden, op, message, nil)
}

// InvalidState reports an entity that cannot take the requested action
func InvalidState(op, message string) error {
	return New(KindInvalidState, op, message, nil)
}

// InvalidInput reports a malformed request
func InvalidInput(op, message string) error {
	return New(KindInvalidInput, op, message, nil)
}

// Internal wraps an unexpected failure
func Internal(op string, err error) error {
	return New(KindInternal, op, "", err)
}

// StaleData wraps a read failure whose caller may substitute a fallback
func StaleData(op string, err error) error {
	return New(KindStaleData, op, "", err)
}

// Partial reports a multi-step write where the external side succeeded
// but the local record did not follow
func Partial(op, message string, err error) *BillingError {
	return New(KindPartialApplication, op, message, err).WithDetail("stripe_updated", true)
}

// KindOf returns the kind of err, or KindInternal when err is not a BillingError.
func KindOf(err error) Kind {
	var be *BillingError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternal
}

// HTTPStatusOf returns the response status for err.
func HTTPStatusOf(err error) int {
	var be *BillingError
	if errors.As(err, &be) {
		return be.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// IsStripeUpdated reports whether a failed operation already changed Stripe
func IsStripeUpdated(err error) bool {
	var be *BillingError
	if !errors.As(err, &be) {
		return false
	}
	updated, _ := be.Details["stripe_updated"].(bool)
	return updated
}
