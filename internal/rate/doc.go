// Package rate implements the sliding-window attempt limiter with lockout and
// the per-client token-bucket throttle used in front of the public operations.
//
// # Window semantics
//
// Each key keeps a log of admitted attempt timestamps. A call is admitted while
// fewer than Threshold attempts fall inside (now-Window, now]. The call that
// finds the log full is rejected and locks the key until the oldest logged
// attempt leaves the window (or now+Lockout, whichever is later); every call
// before that instant is rejected without touching the log.
//
// Key prefixes used by the engine:
//   - login:id:, login:ip: login attempts
//   - register:id:, register:ip: registration
//   - resend:id: verification resends (with register:ip:)
//   - refresh:fam: refresh per token family
//   - password:sub: password changes, under the login policy
//
// Time always comes from the caller so both backends follow the injected clock.
package rate
