package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/keys"
	"github.com/MrEthical07/authcore/ledger"
	"github.com/MrEthical07/authcore/onboarding"
	"github.com/MrEthical07/authcore/password"
)

// Sentinels shared with the component packages are re-exported so callers
// only need this package for errors.Is checks.
var (
	// ErrKeyUnavailable is returned by Build when the signing key pair is
	// missing or malformed. The engine must not serve without keys.
	ErrKeyUnavailable = keys.ErrKeyUnavailable
	// ErrTokenMalformed covers structurally invalid tokens and wrong token types.
	ErrTokenMalformed = jwt.ErrTokenMalformed
	// ErrTokenExpired is returned once a token is past exp plus leeway.
	ErrTokenExpired = jwt.ErrTokenExpired
	// ErrSignatureInvalid covers foreign keys, unknown kids and algorithm confusion.
	ErrSignatureInvalid = jwt.ErrSignatureInvalid
	// ErrReplayDetected means a stale refresh token was presented. The whole
	// family has been revoked.
	ErrReplayDetected = ledger.ErrReplayDetected
	// ErrSessionRevoked is returned when refreshing a revoked family.
	ErrSessionRevoked = ledger.ErrFamilyRevoked
	// ErrSessionNotFound is returned for unknown or expired families.
	ErrSessionNotFound = ledger.ErrFamilyNotFound
	// ErrTokenAlreadyUsed is returned for a consumed onboarding token.
	ErrTokenAlreadyUsed = onboarding.ErrTokenAlreadyUsed
	// ErrOnboardingState is returned when an account is not in the state an
	// onboarding step requires.
	ErrOnboardingState = onboarding.ErrStateMismatch
	// ErrAccountExists is returned by Register for a taken email.
	ErrAccountExists = onboarding.ErrAccountExists
	// ErrAccountNotFound is returned for unknown subjects.
	ErrAccountNotFound = onboarding.ErrAccountNotFound
	// ErrInvalidEmail is returned for addresses that do not parse.
	ErrInvalidEmail = onboarding.ErrInvalidEmail
	// ErrPasswordPolicy is returned for passwords outside the length bounds.
	ErrPasswordPolicy = password.ErrPasswordPolicy
)

var (
	ErrRateLimited        = errors.New("rate limited")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInsufficientScope  = errors.New("insufficient scope")
	// ErrStoreUnavailable wraps ledger, limiter and account store failures,
	// timeouts included.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrEngineNotReady   = errors.New("engine not initialized")
)

// RateLimitedError is the concrete error for rejected attempts. It matches
// ErrRateLimited and, when the limiter backend failed, ErrStoreUnavailable.
type RateLimitedError struct {
	RetryAfter time.Duration
	// Cause is set when the rejection comes from a failed limiter backend.
	Cause error
}

func (e *RateLimitedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rate limited (fail closed): retry after %s: %v", e.RetryAfter, e.Cause)
	}
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrRateLimited, e.Cause}
	}
	return []error{ErrRateLimited}
}

// RetryAfter extracts the retry hint from a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

func storeUnavailable(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
