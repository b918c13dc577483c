package shared

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the actor's role does not permit the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation indicates a missing or malformed input field.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// StateError reports a transition attempted from a disallowed source state.
// The current state is included so operators can diagnose the refusal.
type StateError struct {
	Entity  string
	Current string
	Allowed []string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s is %s, transition requires one of [%s]", e.Entity, e.Current, strings.Join(e.Allowed, ", "))
}

// NewStateError builds a StateError.
func NewStateError(entity, current string, allowed ...string) *StateError {
	return &StateError{Entity: entity, Current: current, Allowed: allowed}
}

// Shortfall describes one line that failed a quantity sufficiency check.
type Shortfall struct {
	ItemID      int64           `json:"item_id"`
	ItemCode    string          `json:"item_code,omitempty"`
	VariationID int64           `json:"variation_id,omitempty"`
	Required    decimal.Decimal `json:"required"`
	Available   decimal.Decimal `json:"available"`
}

// InsufficiencyError enumerates every failing line of a quantity check.
// Operations that raise it must not have mutated any quantity.
type InsufficiencyError struct {
	Shortfalls []Shortfall
}

func (e *InsufficiencyError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		label := s.ItemCode
		if label == "" {
			label = fmt.Sprintf("item %d", s.ItemID)
		}
		parts = append(parts, fmt.Sprintf("%s required %s available %s", label, s.Required, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

// Validationf wraps ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
