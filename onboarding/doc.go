// Package onboarding drives new accounts through email verification and
// initial password setup:
//
//	pending-verification --verify-email--> verified-no-password --set-password--> active
//
// Onboarding tokens are signed, purpose-bound and single use. Consuming a
// token and advancing the account state are one compare-and-set in the
// AccountStore, so a token can never advance an account twice.
package onboarding
