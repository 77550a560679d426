package test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
)

// This test intentionally guards public API compile-compat for consumers.
func TestPublicAPISurfaceCompile(t *testing.T) {
	_ = authcore.New
	_ = authcore.LoadConfig

	var _ *authcore.Engine
	var _ authcore.Config
	var _ authcore.TokenPair
	var _ authcore.AccessResult
	var _ authcore.OnboardingResult
	var _ authcore.CredentialStore = authcore.CredentialStoreFunc(nil)
	var _ authcore.AuditSink = authcore.NoOpSink{}

	var _ error = authcore.ErrKeyUnavailable
	var _ error = authcore.ErrTokenExpired
	var _ error = authcore.ErrTokenMalformed
	var _ error = authcore.ErrSignatureInvalid
	var _ error = authcore.ErrReplayDetected
	var _ error = authcore.ErrSessionRevoked
	var _ error = authcore.ErrRateLimited
	var _ error = authcore.ErrStoreUnavailable
	var _ error = authcore.ErrTokenAlreadyUsed
	var _ error = authcore.ErrOnboardingState
	var _ error = &authcore.RateLimitedError{}

	var _ func(*authcore.Engine, ...string) func(http.Handler) http.Handler = middleware.Guard
	var _ func(http.Handler) http.Handler = middleware.ClientIP

	var _ func(*authcore.Engine, context.Context, authcore.LoginRequest) (*authcore.TokenPair, error) = (*authcore.Engine).Login
	var _ func(*authcore.Engine, context.Context, string) (*authcore.TokenPair, error) = (*authcore.Engine).Refresh
	var _ func(*authcore.Engine, context.Context, string, ...string) (*authcore.AccessResult, error) = (*authcore.Engine).ValidateAccess
	var _ func(*authcore.Engine, context.Context, string) error = (*authcore.Engine).Logout
	var _ func(*authcore.Engine, context.Context, string) (int, error) = (*authcore.Engine).LogoutAll
	var _ func(*authcore.Engine, context.Context, string) ([]authcore.Session, error) = (*authcore.Engine).Sessions
	var _ func(*authcore.Engine, context.Context, time.Duration) (authcore.SweepReport, error) = (*authcore.Engine).SweepIdle
	var _ func(context.Context, string) context.Context = authcore.WithUserAgent
	var _ func(*authcore.Engine, context.Context, string) (*authcore.OnboardingResult, error) = (*authcore.Engine).Register
	var _ func(*authcore.Engine, context.Context, string) (*authcore.OnboardingResult, error) = (*authcore.Engine).VerifyEmail
	var _ func(*authcore.Engine, context.Context, string, string) (*authcore.OnboardingResult, error) = (*authcore.Engine).CompletePasswordSetup
}
