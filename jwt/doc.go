// Package jwt issues and verifies the signed tokens used by authcore: access
// tokens, refresh tokens and single-purpose onboarding tokens. Only the
// configured asymmetric algorithm is accepted on verification.
package jwt
