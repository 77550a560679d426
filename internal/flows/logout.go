package flows

import (
	"context"

	"github.com/MrEthical07/authcore/jwt"
)

// LogoutResult reports the outcome of a revocation.
type LogoutResult struct {
	Failure   FailureKind
	Err       error
	SubjectID string
	FamilyID  string
	Revoked   int
}

// RunLogout revokes the family of refreshToken. Expired tokens are accepted
// so that a client can always end its session; revoking twice is not an
// error.
func RunLogout(ctx context.Context, refreshToken string, deps Deps) LogoutResult {
	claims, err := deps.Codec.VerifyIgnoringExpiry(refreshToken, jwt.TypeRefresh)
	if err != nil {
		return LogoutResult{Failure: FailureToken, Err: err}
	}
	res := LogoutResult{SubjectID: claims.Subject, FamilyID: claims.FamilyID}

	sctx, cancel := deps.storeContext(ctx)
	defer cancel()
	if err := deps.Ledger.Revoke(sctx, claims.FamilyID, deps.Now()); err != nil {
		res.Failure, res.Err = FailureLedgerUnavailable, err
		return res
	}
	res.Revoked = 1
	return res
}

// RunLogoutAll revokes every live family of subjectID.
func RunLogoutAll(ctx context.Context, subjectID string, deps Deps) LogoutResult {
	res := LogoutResult{SubjectID: subjectID}
	sctx, cancel := deps.storeContext(ctx)
	defer cancel()
	n, err := deps.Ledger.RevokeSubject(sctx, subjectID, deps.Now())
	if err != nil {
		res.Failure, res.Err = FailureLedgerUnavailable, err
		return res
	}
	res.Revoked = n
	return res
}
