// Package errors defines the tiered error taxonomy every Charcoal
// component returns instead of a bare error, so the pipeline supervisor
// can apply a uniform retry/log/propagate policy without re-deriving
// intent at each call site.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorTier classifies a failure by how the caller should react to it.
type ErrorTier int

const (
	// TierTransient is a failure expected to resolve on its own — network
	// timeouts, connection resets. The caller should treat the specific
	// operation as a missing signal and continue.
	TierTransient ErrorTier = iota
	// TierPermanent indicates the input itself is bad — malformed
	// responses, tensor shape mismatches. The item is skipped.
	TierPermanent
	// TierUserFixable requires operator action — missing configuration,
	// absent model files. Fatal at startup.
	TierUserFixable
	// TierExternalRateLimit means the remote service asked us to slow
	// down. One fixed-delay retry, then abandon.
	TierExternalRateLimit
	// TierExternalDegrading covers a dependency (usually storage) that is
	// up but unhealthy. Propagates and terminates the current task, not
	// the pipeline.
	TierExternalDegrading
)

func (t ErrorTier) String() string {
	switch t {
	case TierTransient:
		return "transient"
	case TierPermanent:
		return "permanent"
	case TierUserFixable:
		return "user_fixable"
	case TierExternalRateLimit:
		return "external_rate_limit"
	case TierExternalDegrading:
		return "external_degrading"
	default:
		return "unknown"
	}
}

// TierBehavior describes the default policy for a tier.
type TierBehavior struct {
	ShouldRetry   bool
	MaxRetries    int
	BaseBackoff   time.Duration
	ShouldNotify  bool
	ShouldAbandon bool
}

// DefaultBehaviors returns the standard policy table for each tier.
func DefaultBehaviors() map[ErrorTier]TierBehavior {
	return map[ErrorTier]TierBehavior{
		TierTransient: {
			ShouldRetry: false, // caller continues with a missing signal; no automatic retry
		},
		TierPermanent: {
			ShouldRetry:   false,
			ShouldAbandon: true,
		},
		TierUserFixable: {
			ShouldRetry:  false,
			ShouldNotify: true,
		},
		TierExternalRateLimit: {
			ShouldRetry: true,
			MaxRetries:  1,
			BaseBackoff: 2 * time.Second,
		},
		TierExternalDegrading: {
			ShouldRetry:   false,
			ShouldAbandon: true,
			ShouldNotify:  true,
		},
	}
}

// TieredError wraps an underlying error with its tier and structured
// context, implementing Unwrap so errors.Is/errors.As see through it.
type TieredError struct {
	Tier       ErrorTier
	Message    string
	Underlying error
	RetryAfter time.Duration
	Context    map[string]any
}

func NewTieredError(tier ErrorTier, message string, underlying error) *TieredError {
	return &TieredError{Tier: tier, Message: message, Underlying: underlying}
}

func (e *TieredError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Tier, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Tier, e.Message)
}

func (e *TieredError) Unwrap() error {
	return e.Underlying
}

func (e *TieredError) Is(target error) bool {
	var other *TieredError
	if errors.As(target, &other) {
		return other.Tier == e.Tier
	}
	return false
}

func (e *TieredError) WithContext(key string, value any) *TieredError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e *TieredError) WithRetryAfter(d time.Duration) *TieredError {
	e.RetryAfter = d
	return e
}

// WrapWithTier wraps err at the given tier unless it is already a
// TieredError, in which case its existing tier is preserved.
func WrapWithTier(tier ErrorTier, message string, err error) *TieredError {
	var existing *TieredError
	if errors.As(err, &existing) {
		return existing
	}
	return NewTieredError(tier, message, err)
}

// GetTier extracts the tier from err, defaulting to TierPermanent if err
// is not a TieredError.
func GetTier(err error) ErrorTier {
	var te *TieredError
	if errors.As(err, &te) {
		return te.Tier
	}
	return TierPermanent
}

// GetBehavior returns the default policy for err's tier.
func GetBehavior(err error) TierBehavior {
	return DefaultBehaviors()[GetTier(err)]
}

// IsRetryable reports whether the default policy for err's tier retries.
func IsRetryable(err error) bool {
	return GetBehavior(err).ShouldRetry
}

// Sentinel errors for common cases across components.
var (
	ErrMissingConfig      = NewTieredError(TierUserFixable, "required configuration missing", nil)
	ErrModelFilesAbsent   = NewTieredError(TierUserFixable, "model files not found; run download-model", nil)
	ErrFingerprintMissing = NewTieredError(TierUserFixable, "no topic fingerprint; run fingerprint", nil)
	ErrTimeout            = NewTieredError(TierTransient, "operation timed out", nil)
	ErrRateLimited        = NewTieredError(TierExternalRateLimit, "rate limited", nil)
	ErrStorageUnavailable = NewTieredError(TierExternalDegrading, "storage unavailable", nil)
)
