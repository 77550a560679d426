package authcore

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginRateLimited     = "login_rate_limited"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshFailure       = "refresh_failure"
	auditEventRefreshReplay        = "refresh_replay_detected"
	auditEventLogout               = "logout"
	auditEventLogoutAll            = "logout_all"
	auditEventRegisterSuccess      = "register_success"
	auditEventRegisterFailure      = "register_failure"
	auditEventVerificationIssued   = "verification_issued"
	auditEventEmailVerified        = "email_verified"
	auditEventPasswordSetupIssued  = "password_setup_issued"
	auditEventPasswordSet          = "password_set"
	auditEventOnboardingRejected   = "onboarding_token_rejected"
	auditEventPasswordChange       = "password_change"
	auditEventPasswordChangeFailed = "password_change_failure"
)

// AuditErrorCode is the stable error label written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrReplay             AuditErrorCode = "refresh_replay"
	auditErrRevoked            AuditErrorCode = "session_revoked"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrBadSignature       AuditErrorCode = "bad_signature"
	auditErrTokenUsed          AuditErrorCode = "token_already_used"
	auditErrOnboardingState    AuditErrorCode = "onboarding_state"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrInvalidEmail       AuditErrorCode = "invalid_email"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrScope              AuditErrorCode = "insufficient_scope"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subjectID string,
	familyID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.clock.Now().UTC(),
		EventType: eventType,
		SubjectID: subjectID,
		FamilyID:  familyID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// auditErrorCode checks rate limiting first: a fail-closed rejection also
// matches ErrStoreUnavailable.
func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrReplayDetected):
		return auditErrReplay
	case errors.Is(err, ErrSessionRevoked):
		return auditErrRevoked
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrSignatureInvalid):
		return auditErrBadSignature
	case errors.Is(err, ErrTokenMalformed):
		return auditErrInvalidToken
	case errors.Is(err, ErrTokenAlreadyUsed):
		return auditErrTokenUsed
	case errors.Is(err, ErrOnboardingState):
		return auditErrOnboardingState
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	case errors.Is(err, ErrInvalidEmail):
		return auditErrInvalidEmail
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrInsufficientScope):
		return auditErrScope
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
