package authcore

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/onboarding"
)

// Register creates a pending account and returns its verify-email token. The
// caller delivers the token; authcore sends no mail.
func (e *Engine) Register(ctx context.Context, email string) (*OnboardingResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res := e.flows.Register(ctx, email, clientIPFromContext(ctx))
	if res.Failure != flows.FailureNone {
		err := e.flowError(res.Failure, res.Err, res.RetryAfter)
		e.recordRegisterFailure(ctx, res, err)
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.metricInc(MetricVerificationIssued)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, res.Account.SubjectID, "", nil, nil)
	return onboardingResult(res.Account.SubjectID, res.Account.Email, StepPendingVerification, res.Token), nil
}

// ResendVerification issues a fresh verify-email token for an account still
// pending verification. Earlier tokens stay valid until they expire; the
// first one consumed wins.
func (e *Engine) ResendVerification(ctx context.Context, email string) (*OnboardingResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res := e.flows.ResendVerification(ctx, email, clientIPFromContext(ctx))
	if res.Failure != flows.FailureNone {
		err := e.flowError(res.Failure, res.Err, res.RetryAfter)
		if res.Failure == flows.FailureRateLimited || res.Failure == flows.FailureLimiterUnavailable {
			e.metricInc(MetricRegisterRateLimited)
		}
		e.emitAudit(ctx, auditEventVerificationIssued, false, "", "", err, nil)
		return nil, err
	}

	normalized, _ := onboarding.NormalizeEmail(email)
	e.metricInc(MetricVerificationIssued)
	e.emitAudit(ctx, auditEventVerificationIssued, true, res.Token.SubjectID, "", nil, nil)
	return onboardingResult(res.Token.SubjectID, normalized, StepPendingVerification, res.Token), nil
}

// VerifyEmail consumes a verify-email token and returns the set-password
// token for the next step. If issuing that token fails the account is still
// verified and RequestPasswordSetup can be used to retry.
func (e *Engine) VerifyEmail(ctx context.Context, token string) (*OnboardingResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	sctx, cancel := e.storeContext(ctx)
	acct, err := e.onboarding.ConsumeVerification(sctx, token)
	cancel()
	if err != nil {
		err = e.onboardingError(err)
		e.recordOnboardingRejected(ctx, auditEventEmailVerified, err)
		return nil, err
	}
	e.metricInc(MetricEmailVerified)
	e.emitAudit(ctx, auditEventEmailVerified, true, acct.SubjectID, "", nil, nil)

	sctx, cancel = e.storeContext(ctx)
	tok, err := e.onboarding.IssueSetPasswordToken(sctx, acct.SubjectID)
	cancel()
	if err != nil {
		return nil, e.onboardingError(err)
	}
	e.emitAudit(ctx, auditEventPasswordSetupIssued, true, acct.SubjectID, "", nil, nil)
	return onboardingResult(acct.SubjectID, acct.Email, StepVerifiedNoPassword, tok), nil
}

// RequestPasswordSetup issues a new set-password token for a verified account
// that has no password yet.
func (e *Engine) RequestPasswordSetup(ctx context.Context, subjectID string) (*OnboardingResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	sctx, cancel := e.storeContext(ctx)
	tok, err := e.onboarding.IssueSetPasswordToken(sctx, subjectID)
	cancel()
	if err != nil {
		err = e.onboardingError(err)
		e.emitAudit(ctx, auditEventPasswordSetupIssued, false, subjectID, "", err, nil)
		return nil, err
	}
	e.emitAudit(ctx, auditEventPasswordSetupIssued, true, subjectID, "", nil, nil)
	return onboardingResult(subjectID, "", StepVerifiedNoPassword, tok), nil
}

// CompletePasswordSetup consumes a set-password token and activates the
// account. The token is checked before the password is hashed so a bad token
// costs no hashing work.
func (e *Engine) CompletePasswordSetup(ctx context.Context, token, newPassword string) (*OnboardingResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	claims, err := e.codec.VerifyType(token, jwt.TypeOnboarding)
	if err != nil {
		e.recordOnboardingRejected(ctx, auditEventPasswordSet, err)
		return nil, err
	}
	if err := e.passwordHash.CheckPolicy(newPassword); err != nil {
		e.emitAudit(ctx, auditEventPasswordSet, false, claims.Subject, "", err, nil)
		return nil, err
	}
	hash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return nil, err
	}

	sctx, cancel := e.storeContext(ctx)
	acct, err := e.onboarding.ConsumeSetPassword(sctx, token, hash)
	cancel()
	if err != nil {
		err = e.onboardingError(err)
		e.recordOnboardingRejected(ctx, auditEventPasswordSet, err)
		return nil, err
	}

	e.metricInc(MetricPasswordSet)
	e.emitAudit(ctx, auditEventPasswordSet, true, acct.SubjectID, "", nil, nil)
	return &OnboardingResult{SubjectID: acct.SubjectID, Email: acct.Email, Step: StepActive}, nil
}

// ChangePassword replaces the password of an active account after checking
// the current one, then revokes every refresh family of the subject. A store
// failure during revocation is returned even though the new password is
// already stored.
func (e *Engine) ChangePassword(ctx context.Context, subjectID, oldPassword, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	if err := e.gatePasswordChange(ctx, subjectID); err != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFailed, false, subjectID, "", err, nil)
		return err
	}

	sctx, cancel := e.storeContext(ctx)
	acct, err := e.accounts.ByID(sctx, subjectID)
	cancel()
	switch {
	case errors.Is(err, onboarding.ErrAccountNotFound):
		e.passwordHash.VerifyDummy(oldPassword)
		return e.passwordChangeFailed(ctx, subjectID, ErrInvalidCredentials)
	case err != nil:
		return e.passwordChangeFailed(ctx, subjectID, e.onboardingError(err))
	}
	if acct.State != onboarding.StateActive {
		e.passwordHash.VerifyDummy(oldPassword)
		return e.passwordChangeFailed(ctx, subjectID, ErrOnboardingState)
	}

	ok, err := e.passwordHash.Verify(oldPassword, acct.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		return e.passwordChangeFailed(ctx, subjectID, ErrInvalidCredentials)
	}
	if err := e.passwordHash.CheckPolicy(newPassword); err != nil {
		return e.passwordChangeFailed(ctx, subjectID, err)
	}
	hash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return e.passwordChangeFailed(ctx, subjectID, err)
	}

	sctx, cancel = e.storeContext(ctx)
	err = e.accounts.SetPasswordHash(sctx, subjectID, hash, e.clock.Now())
	cancel()
	if err != nil {
		return e.passwordChangeFailed(ctx, subjectID, e.onboardingError(err))
	}

	sctx, cancel = e.storeContext(ctx)
	revoked, err := e.ledger.RevokeSubject(sctx, subjectID, e.clock.Now())
	cancel()
	if err != nil {
		e.metricInc(MetricStoreUnavailable)
		e.logger.Warn("password changed but sessions not revoked",
			slog.String("subject_id", subjectID),
			slog.Any("error", err),
		)
		return e.passwordChangeFailed(ctx, subjectID, storeUnavailable(err))
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChange, true, subjectID, "", nil, func() map[string]string {
		return map[string]string{"sessions_revoked": strconv.Itoa(revoked)}
	})
	return nil
}

// gatePasswordChange counts old-password attempts per subject against the
// login policy.
func (e *Engine) gatePasswordChange(ctx context.Context, subjectID string) error {
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	d, err := e.loginLimiter.Check(sctx, passwordChangeKey(subjectID))
	if err != nil {
		return e.flowError(flows.FailureLimiterUnavailable, err, 0)
	}
	if !d.Allowed {
		e.metricInc(MetricRateLimitHit)
		return &RateLimitedError{RetryAfter: d.RetryAfter}
	}
	return nil
}

func passwordChangeKey(subjectID string) string {
	return "password:sub:" + subjectID
}

func (e *Engine) passwordChangeFailed(ctx context.Context, subjectID string, err error) error {
	e.emitAudit(ctx, auditEventPasswordChangeFailed, false, subjectID, "", err, nil)
	return err
}

func (e *Engine) recordRegisterFailure(ctx context.Context, res flows.RegisterResult, err error) {
	switch res.Failure {
	case flows.FailureThrottled:
		e.metricInc(MetricIPThrottled)
		e.metricInc(MetricRegisterRateLimited)
	case flows.FailureRateLimited, flows.FailureLimiterUnavailable:
		e.metricInc(MetricRegisterRateLimited)
		e.metricInc(MetricRateLimitHit)
	case flows.FailureAccountExists:
		e.metricInc(MetricRegisterDuplicate)
	}
	e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", err, func() map[string]string {
		return map[string]string{"reason": res.Failure.String()}
	})
}

func (e *Engine) recordOnboardingRejected(ctx context.Context, eventType string, err error) {
	if !errors.Is(err, ErrStoreUnavailable) {
		e.metricInc(MetricOnboardingTokenRejected)
	}
	e.emitAudit(ctx, auditEventOnboardingRejected, false, "", "", err, func() map[string]string {
		return map[string]string{"step": eventType}
	})
}

// onboardingError maps account store failures to ErrStoreUnavailable and
// passes the shared sentinels through.
func (e *Engine) onboardingError(err error) error {
	if errors.Is(err, onboarding.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		e.metricInc(MetricStoreUnavailable)
		e.logger.Warn("account store unavailable", slog.Any("error", err))
		return storeUnavailable(err)
	}
	return err
}

func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.Store.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.config.Store.OperationTimeout)
}

func onboardingResult(subjectID, email string, step OnboardingStep, tok onboarding.Token) *OnboardingResult {
	return &OnboardingResult{
		SubjectID:      subjectID,
		Email:          email,
		Step:           step,
		Token:          tok.Value,
		TokenExpiresAt: tok.ExpiresAt,
	}
}
