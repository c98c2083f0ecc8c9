package errors

import (
	"errors"
	"fmt"
	"strings"
)

// InvocationError is the caller-visible failure of one logical invocation.
// Its JSON form is the failure payload returned to users.
type InvocationError struct {
	InvocationID      string   `json:"invocation_id,omitempty"`
	Category          Category `json:"category"`
	ModelID           string   `json:"model_id"`
	Attempts          int      `json:"attempts"`
	VendorsTried      []string `json:"vendors_tried"`
	LastErrorCategory Category `json:"last_error_category"`
	TotalElapsedMs    int64    `json:"total_elapsed_ms"`
	Cause             error    `json:"-"`
}

// Error returns the formatted invocation failure.
func (e *InvocationError) Error() string {
	msg := fmt.Sprintf("[%s] invocation of %s failed after %d attempts across [%s]",
		e.Category, e.ModelID, e.Attempts, strings.Join(e.VendorsTried, ", "))
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the category sentinel and the last underlying error.
func (e *InvocationError) Unwrap() []error {
	errs := make([]error, 0, 2)
	switch e.Category {
	case CategoryExhaustedTimeout:
		errs = append(errs, ErrExhaustedTimeout)
	case CategoryExhaustedHard:
		errs = append(errs, ErrExhaustedHard)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// IsExhaustedTimeout reports whether err is the timeout-only exhaustion outcome.
// Callers may choose an explicit fallback for this case; it is never applied
// inside the invocation layer.
func IsExhaustedTimeout(err error) bool {
	return errors.Is(err, ErrExhaustedTimeout)
}

// IsExhaustedHard reports whether err is a hard exhaustion that must surface.
func IsExhaustedHard(err error) bool {
	return errors.Is(err, ErrExhaustedHard)
}

// CategoryOf extracts the invocation category from err, or CategoryNone.
func CategoryOf(err error) Category {
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return invErr.Category
	}
	return CategoryNone
}
