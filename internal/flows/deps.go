package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/ledger"
	"github.com/MrEthical07/authcore/onboarding"
)

// FailureKind classifies flow failures for root-level mapping.
type FailureKind int

const (
	FailureNone FailureKind = iota
	// FailureThrottled means the per-IP token bucket rejected the request.
	FailureThrottled
	FailureRateLimited
	FailureLimiterUnavailable
	FailureInvalidCredentials
	FailureCredentialBackend
	// FailureToken carries the codec error (malformed, expired, signature).
	FailureToken
	FailureReplay
	FailureRevoked
	FailureNotFound
	FailureLedgerUnavailable
	FailureIssue
	FailureScope
	FailureAccountExists
	FailureInvalidInput
	FailureAccountBackend
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureThrottled:
		return "throttled"
	case FailureRateLimited:
		return "rate_limited"
	case FailureLimiterUnavailable:
		return "limiter_unavailable"
	case FailureInvalidCredentials:
		return "invalid_credentials"
	case FailureCredentialBackend:
		return "credential_backend"
	case FailureToken:
		return "invalid_token"
	case FailureReplay:
		return "replay"
	case FailureRevoked:
		return "revoked"
	case FailureNotFound:
		return "not_found"
	case FailureLedgerUnavailable:
		return "ledger_unavailable"
	case FailureIssue:
		return "issue"
	case FailureScope:
		return "insufficient_scope"
	case FailureAccountExists:
		return "account_exists"
	case FailureInvalidInput:
		return "invalid_input"
	case FailureAccountBackend:
		return "account_backend"
	default:
		return "unknown"
	}
}

// TokenCodec is the subset of *jwt.Codec the flows use.
type TokenCodec interface {
	Issue(subject string, typ jwt.TokenType, ttl time.Duration, extra jwt.Extra) (string, *jwt.Claims, error)
	VerifyType(token string, typ jwt.TokenType) (*jwt.Claims, error)
	VerifyIgnoringExpiry(token string, typ jwt.TokenType) (*jwt.Claims, error)
}

// Limiter is the subset of *rate.Limiter the flows use.
type Limiter interface {
	CheckAll(ctx context.Context, keys ...string) (rate.Decision, error)
	Reset(ctx context.Context, keys ...string) error
}

// Principal is the flow-local view of an authenticated identity.
type Principal struct {
	SubjectID string
	Scopes    []string
}

// LoginDeps captures login-only dependencies.
type LoginDeps struct {
	Limiter           Limiter
	VerifyCredentials func(ctx context.Context, identifier, secret string) (Principal, error)
	// InvalidCredentials is the host sentinel VerifyCredentials returns for a
	// wrong identifier or secret.
	InvalidCredentials error
}

// RefreshDeps captures refresh-only dependencies.
type RefreshDeps struct {
	Limiter Limiter
}

// RegisterDeps captures registration dependencies.
type RegisterDeps struct {
	Limiter  Limiter
	Register func(ctx context.Context, email string) (onboarding.Account, onboarding.Token, error)
	Resend   func(ctx context.Context, email string) (onboarding.Token, error)
}

// Deps groups everything the flows need. The root engine builds it once.
type Deps struct {
	Codec  TokenCodec
	Ledger ledger.Store
	Now    func() time.Time

	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	StoreTimeout time.Duration

	NewFamilyID func() string
	// Throttle is the optional per-IP pre-gate.
	Throttle func(ip string, now time.Time) (bool, time.Duration)
	Warn     func(msg string, args ...any)

	Login    LoginDeps
	Refresh  RefreshDeps
	Register RegisterDeps
}

func (d *Deps) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.StoreTimeout)
}

func (d *Deps) warn(msg string, args ...any) {
	if d.Warn != nil {
		d.Warn(msg, args...)
	}
}

// gate runs the IP throttle and the limiter keys. It returns FailureNone when
// the request may proceed.
func (d *Deps) gate(ctx context.Context, limiter Limiter, ip string, keys ...string) (FailureKind, time.Duration, error) {
	if d.Throttle != nil && ip != "" {
		if ok, wait := d.Throttle(ip, d.Now()); !ok {
			return FailureThrottled, wait, nil
		}
	}
	if limiter == nil {
		return FailureNone, 0, nil
	}
	sctx, cancel := d.storeContext(ctx)
	defer cancel()
	decision, err := limiter.CheckAll(sctx, keys...)
	if err != nil {
		return FailureLimiterUnavailable, 0, err
	}
	if !decision.Allowed {
		return FailureRateLimited, decision.RetryAfter, nil
	}
	return FailureNone, 0, nil
}
