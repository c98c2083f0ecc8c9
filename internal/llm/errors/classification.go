package errors

import (
	"context"
	"errors"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// Classification is the verdict for a single failed attempt.
type Classification struct {
	Category Category `json:"category"`
	Reason   Reason   `json:"reason"`
}

// IsTimeout reports whether the failure is timeout-class.
func (c Classification) IsTimeout() bool {
	return c.Reason == ReasonTimeout
}

// Classifier maps attempt errors onto the taxonomy. Unclassified errors are
// retried as CategoryUnknown unless FailUnknown makes them fatal.
type Classifier struct {
	FailUnknown bool
}

// DefaultClassifier retries unclassified errors.
var DefaultClassifier = Classifier{}

// Classify inspects err with typed checks first, then sentinels and network
// types, and finally message patterns for untyped errors.
func (c Classifier) Classify(err error) Classification {
	if err == nil {
		return Classification{Category: CategoryNone}
	}

	if cl, ok := classifyTyped(err); ok {
		return cl
	}
	if cl, ok := classifySentinel(err); ok {
		return cl
	}
	if cl, ok := classifyPattern(err.Error()); ok {
		return cl
	}

	if c.FailUnknown {
		return Classification{Category: CategoryFatalClient, Reason: ReasonUnknown}
	}
	return Classification{Category: CategoryUnknown, Reason: ReasonUnknown}
}

// Classify applies DefaultClassifier.
func Classify(err error) Classification {
	return DefaultClassifier.Classify(err)
}

func classifyTyped(err error) (Classification, bool) {
	var cbErr *CircuitBreakerError
	if errors.As(err, &cbErr) {
		return Classification{Category: CategoryCircuitOpen, Reason: ReasonCircuit}, true
	}

	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return Classification{Category: CategoryTransient, Reason: ReasonRateLimit}, true
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return classifyStatus(provErr.StatusCode), true
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return Classification{Category: CategoryFatalClient, Reason: ReasonAuth}, true
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return Classification{Category: CategoryFatalClient, Reason: ReasonValidation}, true
	}

	return Classification{}, false
}

func classifyStatus(code int) Classification {
	switch {
	case code == 408:
		return Classification{Category: CategoryTransient, Reason: ReasonTimeout}
	case code == 429:
		return Classification{Category: CategoryTransient, Reason: ReasonRateLimit}
	case code == 401 || code == 403:
		return Classification{Category: CategoryFatalClient, Reason: ReasonAuth}
	case code == 400 || code == 422:
		return Classification{Category: CategoryFatalClient, Reason: ReasonValidation}
	case code >= 500:
		return Classification{Category: CategoryTransient, Reason: ReasonServer}
	case code >= 400:
		return Classification{Category: CategoryFatalClient, Reason: ReasonClient}
	default:
		return Classification{Category: CategoryUnknown, Reason: ReasonUnknown}
	}
}

func classifySentinel(err error) (Classification, bool) {
	switch {
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrProbeInProgress):
		return Classification{Category: CategoryCircuitOpen, Reason: ReasonCircuit}, true
	case errors.Is(err, ErrAttemptTimeout), errors.Is(err, context.DeadlineExceeded):
		return Classification{Category: CategoryTransient, Reason: ReasonTimeout}, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Classification{Category: CategoryTransient, Reason: ReasonTimeout}, true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Classification{Category: CategoryTransient, Reason: ReasonNetwork}, true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Classification{Category: CategoryTransient, Reason: ReasonNetwork}, true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return Classification{Category: CategoryTransient, Reason: ReasonNetwork}, true
	}

	return Classification{}, false
}

// Patterns are matched against the lowercased message in order; timeouts win
// over everything else so "gateway timeout (504)" stays timeout-class.
var (
	timeoutIndicators = []string{"timeout", "timed out", "deadline"}
	fatalIndicators   = []string{
		"unauthorized", "forbidden", "authentication", "invalid api key",
		"permission denied", "validation", "invalid request", "bad request", "not found",
	}
	transientIndicators = []string{
		"connection reset", "connection refused", "connection aborted", "broken pipe",
		"no such host", "network", "eof",
		"service unavailable", "bad gateway", "internal server error", "rate limit",
	}

	// Status codes only match as whole numbers.
	fatalStatus     = regexp.MustCompile(`\b(400|401|403|404|422)\b`)
	transientStatus = regexp.MustCompile(`\b(429|500|502|503|504)\b`)
)

func classifyPattern(msg string) (Classification, bool) {
	lowered := strings.ToLower(msg)

	for _, indicator := range timeoutIndicators {
		if strings.Contains(lowered, indicator) {
			return Classification{Category: CategoryTransient, Reason: ReasonTimeout}, true
		}
	}
	if containsAny(lowered, fatalIndicators) || fatalStatus.MatchString(lowered) {
		return Classification{Category: CategoryFatalClient, Reason: ReasonClient}, true
	}
	if containsAny(lowered, transientIndicators) || transientStatus.MatchString(lowered) {
		return Classification{Category: CategoryTransient, Reason: ReasonNetwork}, true
	}
	return Classification{}, false
}

func containsAny(s string, indicators []string) bool {
	for _, indicator := range indicators {
		if strings.Contains(s, indicator) {
			return true
		}
	}
	return false
}
