// Package middleware adapts authcore.Engine to net/http.
//
// # Adapters
//
//   - [Guard] verifies the bearer access token and required scopes, then stores
//     the [authcore.AccessResult] in the request context.
//   - [ClientIP] records the peer address and user agent for rate limiting,
//     audit and session listing.
//   - [WriteError] and [StatusFor] translate engine errors to status codes.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT parse
// tokens or touch any store; every decision is delegated to the Engine.
package middleware
