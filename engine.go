package authcore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/keys"
	"github.com/MrEthical07/authcore/ledger"
	"github.com/MrEthical07/authcore/onboarding"
	"github.com/MrEthical07/authcore/password"
)

// Engine services login, refresh, logout, access validation and onboarding.
// It holds no per-user state of its own; all of it lives in the ledger,
// limiter and account stores. Safe for concurrent use.
type Engine struct {
	config Config
	logger *slog.Logger
	clock  Clock

	keys   *keys.Provider
	codec  *jwt.Codec
	ledger ledger.Store

	loginLimiter    *rate.Limiter
	refreshLimiter  *rate.Limiter
	registerLimiter *rate.Limiter
	limiterStore    rate.Store
	throttle        *rate.Throttle

	accounts     onboarding.AccountStore
	onboarding   *onboarding.Flow
	credentials  CredentialStore
	passwordHash *password.Argon2

	audit   *audit.Dispatcher
	metrics *Metrics
	flows   flows.Service
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// KeyID reports the kid stamped on issued tokens.
func (e *Engine) KeyID() string {
	if e == nil || e.codec == nil {
		return ""
	}
	return e.codec.KeyID()
}

// SweepReport counts what one SweepIdle pass removed.
type SweepReport struct {
	Throttle int
	Limiter  int
	Families int64
}

type sweeper interface {
	Sweep(now time.Time) int
}

type purger interface {
	Purge(ctx context.Context, now time.Time) (int64, error)
}

// SweepIdle drops throttle entries idle for longer than idle, and expired
// state from stores that do not expire it themselves: the memory limiter
// store, the memory ledger and the SQL ledger. Redis keys carry TTLs and are
// left alone. Call it periodically from the host process.
func (e *Engine) SweepIdle(ctx context.Context, idle time.Duration) (SweepReport, error) {
	var report SweepReport
	if e == nil {
		return report, nil
	}
	now := e.clock.Now()
	if e.throttle != nil {
		report.Throttle = e.throttle.Sweep(now, idle)
	}
	if s, ok := e.limiterStore.(sweeper); ok {
		report.Limiter = s.Sweep(now)
	}
	switch l := e.ledger.(type) {
	case sweeper:
		report.Families = int64(l.Sweep(now))
	case purger:
		sctx, cancel := e.storeContext(ctx)
		n, err := l.Purge(sctx, now)
		cancel()
		if err != nil {
			e.logger.Warn("ledger purge failed", slog.Any("error", err))
			return report, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		report.Families = n
	}
	if report.Limiter > 0 || report.Families > 0 {
		e.logger.Debug("swept expired state",
			slog.Int("throttle", report.Throttle),
			slog.Int("limiter", report.Limiter),
			slog.Int64("families", report.Families),
		)
	}
	return report, nil
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

// Login verifies credentials and opens a new refresh family. Attempts are
// counted against both the identifier and the client IP (see WithClientIP);
// a blocked attempt returns *RateLimitedError before credentials are checked.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observe(MetricLoginLatency, start)

	res := e.flows.Login(ctx, req.Identifier, req.Secret, flows.Client{
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
	})
	if res.Failure != flows.FailureNone {
		err := e.flowError(res.Failure, res.Err, res.RetryAfter)
		e.recordLoginFailure(ctx, res, req.Identifier, err)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricFamilyCreated)
	e.emitAudit(ctx, auditEventLoginSuccess, true, res.SubjectID, res.FamilyID, nil, nil)
	return tokenPair(res.Pair), nil
}

// Refresh rotates the presented refresh token. Presenting a token that was
// already rotated revokes the whole family and returns ErrReplayDetected;
// there is no retry.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observe(MetricRefreshLatency, start)

	res := e.flows.Refresh(ctx, refreshToken, clientIPFromContext(ctx))
	if res.Failure != flows.FailureNone {
		err := e.flowError(res.Failure, res.Err, res.RetryAfter)
		e.recordRefreshFailure(ctx, res, err)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, res.SubjectID, res.FamilyID, nil, func() map[string]string {
		return map[string]string{"sequence": fmt.Sprint(res.Pair.Sequence)}
	})
	return tokenPair(res.Pair), nil
}

// Logout revokes the family of refreshToken. It succeeds for expired tokens
// and for families that are already revoked.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	res := e.flows.Logout(ctx, refreshToken)
	if res.Failure != flows.FailureNone {
		err := e.flowError(res.Failure, res.Err, 0)
		e.emitAudit(ctx, auditEventLogout, false, res.SubjectID, res.FamilyID, err, nil)
		return err
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, res.SubjectID, res.FamilyID, nil, nil)
	return nil
}

// LogoutAll revokes every live refresh family of subjectID and returns how
// many were revoked.
func (e *Engine) LogoutAll(ctx context.Context, subjectID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	res := e.flows.LogoutAll(ctx, subjectID)
	if res.Failure != flows.FailureNone {
		err := e.flowError(res.Failure, res.Err, 0)
		e.emitAudit(ctx, auditEventLogoutAll, false, subjectID, "", err, nil)
		return 0, err
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, subjectID, "", nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(res.Revoked)}
	})
	return res.Revoked, nil
}

// Sessions lists the live refresh families of subjectID, oldest first, with
// the client address and user agent recorded at login. Revoked and expired
// families are left out.
func (e *Engine) Sessions(ctx context.Context, subjectID string) ([]Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res := e.flows.Sessions(ctx, subjectID)
	if res.Failure != flows.FailureNone {
		return nil, e.flowError(res.Failure, res.Err, 0)
	}
	out := make([]Session, 0, len(res.Sessions))
	for _, entry := range res.Sessions {
		out = append(out, Session{
			FamilyID:     entry.FamilyID,
			Sequence:     entry.Sequence,
			IssuedAt:     entry.IssuedAt,
			LastActiveAt: entry.LastRotatedAt,
			ExpiresAt:    entry.ExpiresAt,
			ClientIP:     entry.ClientIP,
			UserAgent:    entry.UserAgent,
		})
	}
	return out, nil
}

// ValidateAccess verifies an access token and checks requiredScopes. It does
// not consult any store, so a revoked family's access tokens stay valid until
// they expire.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string, requiredScopes ...string) (*AccessResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observe(MetricValidateLatency, start)

	res := e.flows.Validate(accessToken, requiredScopes)
	if res.Failure != flows.FailureNone {
		e.metricInc(MetricValidateFailure)
		return nil, e.flowError(res.Failure, res.Err, 0)
	}
	e.metricInc(MetricValidateSuccess)
	return &AccessResult{
		SubjectID: res.Claims.Subject,
		Scopes:    append([]string(nil), res.Claims.Scopes...),
		TokenID:   res.Claims.ID,
		ExpiresAt: res.Claims.ExpiresAt.Time,
	}, nil
}

func tokenPair(p flows.Pair) *TokenPair {
	return &TokenPair{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
		FamilyID:         p.FamilyID,
		Sequence:         p.Sequence,
		TokenType:        TokenTypeBearer,
	}
}

// flowError maps a flow failure to the public error contract.
func (e *Engine) flowError(kind flows.FailureKind, err error, retryAfter time.Duration) error {
	switch kind {
	case flows.FailureThrottled, flows.FailureRateLimited:
		return &RateLimitedError{RetryAfter: retryAfter}
	case flows.FailureLimiterUnavailable:
		e.metricInc(MetricStoreUnavailable)
		e.logger.Warn("rate limiter unavailable, failing closed", slog.Any("error", err))
		return &RateLimitedError{
			RetryAfter: e.config.RateLimit.FailClosedRetryAfter,
			Cause:      storeUnavailable(err),
		}
	case flows.FailureInvalidCredentials:
		return ErrInvalidCredentials
	case flows.FailureCredentialBackend, flows.FailureLedgerUnavailable, flows.FailureAccountBackend:
		e.metricInc(MetricStoreUnavailable)
		e.logger.Warn("store unavailable", slog.String("failure", kind.String()), slog.Any("error", err))
		return storeUnavailable(err)
	case flows.FailureToken, flows.FailureReplay, flows.FailureRevoked, flows.FailureNotFound:
		// already one of the shared sentinels
		return err
	case flows.FailureScope:
		return fmt.Errorf("%w: %v", ErrInsufficientScope, err)
	case flows.FailureAccountExists, flows.FailureInvalidInput:
		return err
	case flows.FailureIssue:
		e.logger.Error("token issuance failed", slog.Any("error", err))
		return fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	default:
		return ErrEngineNotReady
	}
}

func (e *Engine) recordLoginFailure(ctx context.Context, res flows.PairResult, identifier string, err error) {
	switch res.Failure {
	case flows.FailureThrottled:
		e.metricInc(MetricIPThrottled)
		e.metricInc(MetricLoginRateLimited)
	case flows.FailureRateLimited, flows.FailureLimiterUnavailable:
		e.metricInc(MetricLoginRateLimited)
		e.metricInc(MetricRateLimitHit)
	default:
		e.metricInc(MetricLoginFailure)
	}
	event := auditEventLoginFailure
	if res.Failure == flows.FailureThrottled || res.Failure == flows.FailureRateLimited || res.Failure == flows.FailureLimiterUnavailable {
		event = auditEventLoginRateLimited
	}
	e.emitAudit(ctx, event, false, res.SubjectID, res.FamilyID, err, func() map[string]string {
		return map[string]string{
			"identifier": identifier,
			"reason":     res.Failure.String(),
		}
	})
}

func (e *Engine) recordRefreshFailure(ctx context.Context, res flows.PairResult, err error) {
	switch res.Failure {
	case flows.FailureReplay:
		e.metricInc(MetricReplayDetected)
		e.logger.Warn("refresh token replay detected, family revoked",
			slog.String("family_id", res.FamilyID),
			slog.String("subject_id", res.SubjectID),
			slog.String("ip", clientIPFromContext(ctx)),
		)
		e.emitAudit(ctx, auditEventRefreshReplay, false, res.SubjectID, res.FamilyID, err, nil)
		return
	case flows.FailureThrottled:
		e.metricInc(MetricIPThrottled)
		e.metricInc(MetricRefreshRateLimited)
	case flows.FailureRateLimited, flows.FailureLimiterUnavailable:
		e.metricInc(MetricRefreshRateLimited)
		e.metricInc(MetricRateLimitHit)
	default:
		e.metricInc(MetricRefreshFailure)
	}
	e.emitAudit(ctx, auditEventRefreshFailure, false, res.SubjectID, res.FamilyID, err, func() map[string]string {
		return map[string]string{"reason": res.Failure.String()}
	})
}
