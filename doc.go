// Package authcore is the credential core of a user authentication service:
// signed access and refresh tokens, a rotating refresh ledger with replay
// detection, per-key rate limiting and an email-first onboarding flow.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config] and
// value types ([TokenPair], [AccessResult], [OnboardingResult],
// [MetricsSnapshot]). Flow orchestration, rate limiting, metrics and audit
// dispatch live under internal/. Key loading, the token codec, the refresh
// ledger, onboarding state and password hashing are importable subpackages
// for callers that wire their own stores.
//
// # Failure policy
//
// Every store call runs under Config.Store.OperationTimeout. A limiter that
// cannot answer rejects the request with a [*RateLimitedError] wrapping
// [ErrStoreUnavailable]; a ledger that cannot answer yields
// [ErrStoreUnavailable] and no tokens.
//
// # Performance contract
//
// ValidateAccess is the hot path. It verifies the signature and claims only
// and never touches a store. Login and Refresh cost one limiter round-trip
// and one ledger round-trip each.
package authcore
