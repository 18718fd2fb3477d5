package apikit

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/fernandezvara/dbkit"
)

// Sentinel errors for apikit operations.
var (
	// ErrNotFound is returned when an entity or field does not exist.
	ErrNotFound = errors.New("apikit: not found")

	// ErrForbidden is returned when the principal may not perform an operation.
	ErrForbidden = errors.New("apikit: forbidden")

	// ErrUnauthorized is returned when a request cannot be authenticated.
	ErrUnauthorized = errors.New("apikit: unauthorized")

	// ErrBadRequest is returned when a request is malformed.
	ErrBadRequest = errors.New("apikit: bad request")

	// ErrValidation is returned when input data fails validation.
	ErrValidation = errors.New("apikit: validation failed")

	// ErrConflict is returned when a write collides with an existing row.
	ErrConflict = errors.New("apikit: conflict")

	// ErrInvalidField is returned when a field name cannot be resolved on a model.
	ErrInvalidField = errors.New("apikit: invalid field")

	// ErrNoUnitOfWork is returned when a deferred write is queued without a unit of work.
	ErrNoUnitOfWork = errors.New("apikit: no unit of work in context")

	// ErrNoPrincipal is returned when no authenticated principal is in context.
	ErrNoPrincipal = errors.New("apikit: no principal in context")

	// ErrInvalidToken is returned when a bearer token cannot be validated.
	ErrInvalidToken = errors.New("apikit: invalid token")

	// ErrRouteDisabled is returned when a controller route has no rules.
	ErrRouteDisabled = errors.New("apikit: route disabled")

	// ErrDatabaseError is returned when a database operation fails.
	ErrDatabaseError = errors.New("apikit: database error")
)

// Error wraps a sentinel error with additional context.
type Error struct {
	Err      error     // Underlying sentinel error
	Message  string    // Additional context
	Resource string    // Resource involved
	ID       string    // Entity key involved (if applicable)
	Field    string    // Field involved (if applicable)
	Role     string    // Role of the principal (if applicable)
	UserID   string    // Principal involved (if applicable)
	Messages []Message // Messages surfaced in the response envelope
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the error matches a target error.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new Error with context.
func NewError(err error, message string) *Error {
	return &Error{
		Err:     err,
		Message: message,
	}
}

// WithResource adds resource information to the error.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// WithID adds the entity key to the error.
func (e *Error) WithID(id any) *Error {
	e.ID = fmt.Sprint(id)
	return e
}

// WithField adds field information to the error.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithRole adds role information to the error.
func (e *Error) WithRole(role string) *Error {
	e.Role = role
	return e
}

// WithUser adds user information to the error.
func (e *Error) WithUser(userID string) *Error {
	e.UserID = userID
	return e
}

// WithMessages attaches envelope messages to the error.
func (e *Error) WithMessages(messages ...Message) *Error {
	e.Messages = append(e.Messages, messages...)
	return e
}

// IsNotFound checks if an error means the entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || dbkit.IsNotFound(err)
}

// IsForbidden checks if an error is an authorization error.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsUnauthorized checks if an error is an authentication error.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidToken)
}

// IsBadRequest checks if an error was caused by the caller's input.
func IsBadRequest(err error) bool {
	return errors.Is(err, ErrBadRequest) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidField)
}

// IsConflict checks if an error is a uniqueness violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || dbkit.IsDuplicate(err)
}

// ErrorMessages returns the envelope messages attached to err, if any.
func ErrorMessages(err error) []Message {
	var e *Error
	if errors.As(err, &e) {
		return e.Messages
	}
	return nil
}

// StatusCode maps an error to the HTTP status it represents.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrRouteDisabled):
		return http.StatusNotFound
	case IsNotFound(err):
		return http.StatusNotFound
	case IsForbidden(err):
		return http.StatusForbidden
	case IsUnauthorized(err):
		return http.StatusUnauthorized
	case IsBadRequest(err):
		return http.StatusBadRequest
	case IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
