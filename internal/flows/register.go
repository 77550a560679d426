package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/onboarding"
)

func RegisterEmailKey(email string) string {
	return "register:id:" + strings.ToLower(strings.TrimSpace(email))
}

func RegisterIPKey(ip string) string {
	if ip == "" {
		return ""
	}
	return "register:ip:" + ip
}

// RegisterResult carries the new account and its verification token.
type RegisterResult struct {
	Failure    FailureKind
	Err        error
	RetryAfter time.Duration
	Account    onboarding.Account
	Token      onboarding.Token
}

// RunRegister gates and performs a registration.
func RunRegister(ctx context.Context, email, ip string, deps Deps) RegisterResult {
	kind, retry, err := deps.gate(ctx, deps.Register.Limiter, ip, RegisterEmailKey(email), RegisterIPKey(ip))
	if kind != FailureNone {
		return RegisterResult{Failure: kind, Err: err, RetryAfter: retry}
	}

	sctx, cancel := deps.storeContext(ctx)
	defer cancel()
	acct, tok, err := deps.Register.Register(sctx, email)
	switch {
	case err == nil:
		return RegisterResult{Account: acct, Token: tok}
	case errors.Is(err, onboarding.ErrAccountExists):
		return RegisterResult{Failure: FailureAccountExists, Err: err}
	case errors.Is(err, onboarding.ErrInvalidEmail):
		return RegisterResult{Failure: FailureInvalidInput, Err: err}
	default:
		return RegisterResult{Failure: FailureAccountBackend, Err: err}
	}
}

func ResendEmailKey(email string) string {
	return "resend:id:" + strings.ToLower(strings.TrimSpace(email))
}

// RunResendVerification gates and issues a fresh verify-email token for a
// pending account.
func RunResendVerification(ctx context.Context, email, ip string, deps Deps) RegisterResult {
	kind, retry, err := deps.gate(ctx, deps.Register.Limiter, ip, ResendEmailKey(email), RegisterIPKey(ip))
	if kind != FailureNone {
		return RegisterResult{Failure: kind, Err: err, RetryAfter: retry}
	}

	sctx, cancel := deps.storeContext(ctx)
	defer cancel()
	tok, err := deps.Register.Resend(sctx, email)
	switch {
	case err == nil:
		return RegisterResult{Token: tok}
	case errors.Is(err, onboarding.ErrInvalidEmail),
		errors.Is(err, onboarding.ErrAccountNotFound),
		errors.Is(err, onboarding.ErrStateMismatch):
		return RegisterResult{Failure: FailureInvalidInput, Err: err}
	default:
		return RegisterResult{Failure: FailureAccountBackend, Err: err}
	}
}
