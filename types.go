package authcore

import (
	"context"
	"io"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	internalmetrics "github.com/MrEthical07/authcore/internal/metrics"
	"github.com/MrEthical07/authcore/onboarding"
)

// TokenTypeBearer is the TokenType of every issued pair.
const TokenTypeBearer = "Bearer"

// Clock supplies the current time. Every expiry decision in the engine reads
// the same Clock.
type Clock interface {
	Now() time.Time
}

// LoginRequest carries the credentials presented at login.
type LoginRequest struct {
	Identifier string
	Secret     string
}

// TokenPair is returned by [Engine.Login] and [Engine.Refresh].
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	FamilyID         string
	Sequence         uint64
	TokenType        string
}

// Session is one live refresh family. LastActiveAt is the last rotation, or
// the login time when the family was never rotated.
type Session struct {
	FamilyID     string
	Sequence     uint64
	IssuedAt     time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
	ClientIP     string
	UserAgent    string
}

// Principal is the authenticated identity returned by a [CredentialStore].
type Principal struct {
	SubjectID string
	Scopes    []string
}

// CredentialStore verifies login credentials. Implementations return
// ErrInvalidCredentials for an unknown identifier or a wrong secret; any
// other error is treated as a backend failure.
type CredentialStore interface {
	VerifyCredentials(ctx context.Context, identifier, secret string) (Principal, error)
}

// CredentialStoreFunc adapts a function to [CredentialStore].
type CredentialStoreFunc func(ctx context.Context, identifier, secret string) (Principal, error)

func (f CredentialStoreFunc) VerifyCredentials(ctx context.Context, identifier, secret string) (Principal, error) {
	return f(ctx, identifier, secret)
}

// AccessResult is returned by [Engine.ValidateAccess].
type AccessResult struct {
	SubjectID string
	Scopes    []string
	TokenID   string
	ExpiresAt time.Time
}

// OnboardingStep names where an account is in onboarding.
type OnboardingStep = onboarding.State

const (
	StepPendingVerification = onboarding.StatePendingVerification
	StepVerifiedNoPassword  = onboarding.StateVerifiedNoPassword
	StepActive              = onboarding.StateActive
)

// OnboardingResult is returned by the onboarding operations. Token is the
// single-use token for the next step; it is empty once the account is active.
// Delivering it to the user is the caller's job.
type OnboardingResult struct {
	SubjectID      string
	Email          string
	Step           OnboardingStep
	Token          string
	TokenExpiresAt time.Time
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink is an [AuditSink] that logs events through [log/slog].
type SlogSink = internalaudit.SlogSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}

// MetricID identifies a counter or latency histogram in the in-process
// metrics system.
type MetricID = internalmetrics.MetricID

const (
	MetricLoginSuccess             = internalmetrics.MetricLoginSuccess
	MetricLoginFailure             = internalmetrics.MetricLoginFailure
	MetricLoginRateLimited         = internalmetrics.MetricLoginRateLimited
	MetricRefreshSuccess           = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure           = internalmetrics.MetricRefreshFailure
	MetricRefreshRateLimited       = internalmetrics.MetricRefreshRateLimited
	MetricReplayDetected           = internalmetrics.MetricReplayDetected
	MetricRateLimitHit             = internalmetrics.MetricRateLimitHit
	MetricIPThrottled              = internalmetrics.MetricIPThrottled
	MetricStoreUnavailable         = internalmetrics.MetricStoreUnavailable
	MetricFamilyCreated            = internalmetrics.MetricFamilyCreated
	MetricLogout                   = internalmetrics.MetricLogout
	MetricLogoutAll                = internalmetrics.MetricLogoutAll
	MetricRegisterSuccess          = internalmetrics.MetricRegisterSuccess
	MetricRegisterDuplicate        = internalmetrics.MetricRegisterDuplicate
	MetricRegisterRateLimited      = internalmetrics.MetricRegisterRateLimited
	MetricVerificationIssued       = internalmetrics.MetricVerificationIssued
	MetricEmailVerified            = internalmetrics.MetricEmailVerified
	MetricOnboardingTokenRejected  = internalmetrics.MetricOnboardingTokenRejected
	MetricPasswordSet              = internalmetrics.MetricPasswordSet
	MetricPasswordChangeSuccess    = internalmetrics.MetricPasswordChangeSuccess
	MetricPasswordChangeInvalidOld = internalmetrics.MetricPasswordChangeInvalidOld
	MetricValidateSuccess          = internalmetrics.MetricValidateSuccess
	MetricValidateFailure          = internalmetrics.MetricValidateFailure
	MetricValidateLatency          = internalmetrics.MetricValidateLatency
	MetricLoginLatency             = internalmetrics.MetricLoginLatency
	MetricRefreshLatency           = internalmetrics.MetricRefreshLatency
)

// Metrics holds atomic counters and optional latency histograms.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a [Metrics] instance. When Enabled is false, all
// operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
