package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// CurrentCanonicalVersion defines the canonicalization format version.
// Increment when canonicalization changes so old keys stop matching.
const CurrentCanonicalVersion = "v1"

// Validation errors for canonical payloads.
var (
	ErrInvocationIDRequired = errors.New("invocation_id is required")
	ErrVendorRequired       = errors.New("vendor binding id is required")
)

// CanonicalPayload is the normalized form of one vendor attempt. It is the
// sole input to IdemKey hashing.
type CanonicalPayload struct {
	InvocationID string          `json:"invocation_id"`
	VendorID     string          `json:"vendor_id"`
	Operation    OperationType   `json:"operation"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Version      string          `json:"version"`
}

// IdemKey is a deterministic SHA-256 hex digest of a canonical payload.
type IdemKey string

// String returns the string representation of the idempotency key.
func (k IdemKey) String() string { return string(k) }

// BuildCanonicalPayload normalizes req. The opaque payload is re-encoded with
// sorted keys so semantically equal JSON hashes identically.
func BuildCanonicalPayload(req *Request) (*CanonicalPayload, error) {
	if req.InvocationID == "" {
		return nil, ErrInvocationIDRequired
	}
	if req.Binding.ID == "" {
		return nil, ErrVendorRequired
	}

	payload := &CanonicalPayload{
		InvocationID: req.InvocationID,
		VendorID:     req.Binding.ID,
		Operation:    req.Operation,
		Version:      CurrentCanonicalVersion,
	}

	if len(req.Payload) > 0 {
		var decoded any
		if err := json.Unmarshal(req.Payload, &decoded); err != nil {
			return nil, fmt.Errorf("payload is not valid JSON: %w", err)
		}
		normalized, err := json.Marshal(sortKeys(decoded))
		if err != nil {
			return nil, fmt.Errorf("failed to normalize payload: %w", err)
		}
		payload.Payload = normalized
	}

	return payload, nil
}

// BuildIdemKey generates a deterministic SHA-256 idempotency key.
func BuildIdemKey(payload *CanonicalPayload) (IdemKey, error) {
	jsonBytes, err := stableJSON(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal canonical payload: %w", err)
	}

	hash := sha256.Sum256(jsonBytes)
	return IdemKey(hex.EncodeToString(hash[:])), nil
}

// GenerateIdemKey builds the canonical payload and hashes it.
func GenerateIdemKey(req *Request) (IdemKey, error) {
	payload, err := BuildCanonicalPayload(req)
	if err != nil {
		return "", fmt.Errorf("failed to build canonical payload: %w", err)
	}
	return BuildIdemKey(payload)
}

// stableJSON produces deterministic JSON output with sorted keys.
func stableJSON(v any) ([]byte, error) {
	tempJSON, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var normalized any
	if err := json.Unmarshal(tempJSON, &normalized); err != nil {
		return nil, err
	}

	return json.Marshal(sortKeys(normalized))
}

// sortKeys recursively rebuilds maps in sorted key order. encoding/json
// already sorts map keys; rebuilding keeps nested arrays normalized too.
func sortKeys(v any) any {
	switch v := v.(type) {
	case map[string]any:
		sorted := make(map[string]any, len(v))
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sorted[k] = sortKeys(v[k])
		}
		return sorted

	case []any:
		sorted := make([]any, len(v))
		for i, elem := range v {
			sorted[i] = sortKeys(elem)
		}
		return sorted

	default:
		return v
	}
}

// IdempotencyMiddleware stamps each request with a key derived from the
// invocation, vendor and payload. Requests that already carry a key, or that
// cannot be canonicalized, pass through unchanged.
func IdempotencyMiddleware() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
			if req.IdempotencyKey == "" {
				if key, err := GenerateIdemKey(req); err == nil {
					stamped := *req
					stamped.IdempotencyKey = key.String()
					req = &stamped
				}
			}
			return next.Handle(ctx, req)
		})
	}
}
