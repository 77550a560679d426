package flows

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/authcore/ledger"
)

// LoginIdentityKey and LoginIPKey name the limiter keys checked at login.
func LoginIdentityKey(identifier string) string {
	return "login:id:" + strings.ToLower(strings.TrimSpace(identifier))
}

func LoginIPKey(ip string) string {
	if ip == "" {
		return ""
	}
	return "login:ip:" + ip
}

// Client describes the caller of a login. It is recorded on the new family.
type Client struct {
	IP        string
	UserAgent string
}

// RunLogin gates the attempt, verifies credentials and opens a new refresh
// family at sequence 0.
func RunLogin(ctx context.Context, identifier, secret string, client Client, deps Deps) PairResult {
	idKey := LoginIdentityKey(identifier)
	kind, retry, err := deps.gate(ctx, deps.Login.Limiter, client.IP, idKey, LoginIPKey(client.IP))
	if kind != FailureNone {
		return PairResult{Failure: kind, Err: err, RetryAfter: retry}
	}

	if deps.Login.VerifyCredentials == nil {
		return PairResult{Failure: FailureCredentialBackend, Err: errors.New("no credential store")}
	}
	principal, err := deps.Login.VerifyCredentials(ctx, identifier, secret)
	if err != nil {
		if deps.Login.InvalidCredentials != nil && errors.Is(err, deps.Login.InvalidCredentials) {
			return PairResult{Failure: FailureInvalidCredentials, Err: err}
		}
		return PairResult{Failure: FailureCredentialBackend, Err: err}
	}

	familyID := deps.NewFamilyID()
	pair, err := issuePair(&deps, principal.SubjectID, principal.Scopes, familyID, 0, deps.RefreshTTL)
	if err != nil {
		return PairResult{Failure: FailureIssue, Err: err, SubjectID: principal.SubjectID}
	}

	now := deps.Now()
	sctx, cancel := deps.storeContext(ctx)
	err = deps.Ledger.Register(sctx, ledger.Entry{
		FamilyID:  familyID,
		SubjectID: principal.SubjectID,
		Sequence:  0,
		Status:    ledger.StatusActive,
		IssuedAt:  now,
		ExpiresAt: pair.RefreshExpiresAt,
		ClientIP:  client.IP,
		UserAgent: client.UserAgent,
	})
	cancel()
	if err != nil {
		return PairResult{Failure: FailureLedgerUnavailable, Err: err, SubjectID: principal.SubjectID, FamilyID: familyID}
	}

	if deps.Login.Limiter != nil {
		rctx, cancel := deps.storeContext(ctx)
		if err := deps.Login.Limiter.Reset(rctx, idKey); err != nil {
			deps.warn("login limiter reset failed", "error", err)
		}
		cancel()
	}

	return PairResult{SubjectID: principal.SubjectID, FamilyID: familyID, Pair: pair}
}
