package invocation

import (
	"errors"

	"go.temporal.io/sdk/temporal"

	llmerrors "github.com/ahrav/go-invoker/internal/llm/errors"
)

// Application error types returned by InvokeModel.
const (
	ErrTypeValidation       = "Validation"
	ErrTypeMisconfiguration = "Misconfiguration"
	ErrTypeExhaustedTimeout = "ExhaustedTimeout"
	ErrTypeExhaustedHard    = "ExhaustedHard"
	ErrTypeFatalClient      = "FatalClient"
	ErrTypeVendorFailure    = "VendorFailure"
)

// nonRetryable wraps cause so Temporal will not retry the activity.
func nonRetryable(errType string, cause error, msg string, details ...any) error {
	return temporal.NewNonRetryableApplicationError(msg, errType, cause, details...)
}

// retryable wraps cause so the activity retry policy applies.
func retryable(errType string, cause error, msg string, details ...any) error {
	return temporal.NewApplicationErrorWithCause(msg, errType, cause, details...)
}

// classify maps an orchestrator error onto an application error. Exhaustion
// and fatal client errors are non-retryable. A failed direct binding stays
// retryable when its category is.
func classify(err error) error {
	if errors.Is(err, llmerrors.ErrUnknownModel) || errors.Is(err, llmerrors.ErrInvalidPolicy) {
		return nonRetryable(ErrTypeMisconfiguration, err, "invocation misconfigured")
	}

	var invErr *llmerrors.InvocationError
	if !errors.As(err, &invErr) {
		return retryable(ErrTypeVendorFailure, err, "invocation failed")
	}

	switch {
	case invErr.Category == llmerrors.CategoryExhaustedTimeout:
		return nonRetryable(ErrTypeExhaustedTimeout, err, "all vendors timed out", invErr)
	case invErr.Category == llmerrors.CategoryExhaustedHard:
		return nonRetryable(ErrTypeExhaustedHard, err, "all vendors failed", invErr)
	case invErr.Category == llmerrors.CategoryFatalClient:
		return nonRetryable(ErrTypeFatalClient, err, "vendor rejected request", invErr)
	default:
		return retryable(ErrTypeVendorFailure, err, "vendor failed", invErr)
	}
}
