// Package flows contains pure-function orchestrators for the Engine's
// credential operations.
//
// Each flow function (RunLogin, RunRefresh, RunLogout, RunValidate,
// RunRegister) accepts the shared [Deps] and returns a result tagged with a
// [FailureKind]. The root package maps kinds to its sentinel errors, metrics
// and audit events, so flows never import it.
//
// # Architecture boundaries
//
// Flow functions coordinate the token codec, refresh ledger, rate limiters
// and credential verification. They do NOT own any of these resources;
// ownership stays with the Engine.
//
// # Failure policy
//
// Every ledger and limiter call runs under Deps.StoreTimeout. A limiter error
// is reported as FailureLimiterUnavailable and the caller treats it as a
// rejection. A ledger error is reported as FailureLedgerUnavailable and no
// tokens are returned.
package flows
