package flows

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/ledger"
)

// RefreshFamilyKey names the limiter key checked on refresh.
func RefreshFamilyKey(familyID string) string {
	return "refresh:fam:" + familyID
}

// RunRefresh verifies the refresh token, rotates its family in the ledger and
// issues the successor pair. The successor never outlives the family.
func RunRefresh(ctx context.Context, refreshToken, ip string, deps Deps) PairResult {
	claims, err := deps.Codec.VerifyType(refreshToken, jwt.TypeRefresh)
	if err != nil {
		return PairResult{Failure: FailureToken, Err: err}
	}
	base := PairResult{SubjectID: claims.Subject, FamilyID: claims.FamilyID}

	kind, retry, err := deps.gate(ctx, deps.Refresh.Limiter, ip, RefreshFamilyKey(claims.FamilyID))
	if kind != FailureNone {
		base.Failure, base.Err, base.RetryAfter = kind, err, retry
		return base
	}

	now := deps.Now()
	sctx, cancel := deps.storeContext(ctx)
	entry, err := deps.Ledger.Rotate(sctx, claims.FamilyID, claims.Sequence, now)
	cancel()
	if err != nil {
		base.Err = err
		switch {
		case errors.Is(err, ledger.ErrReplayDetected):
			base.Failure = FailureReplay
		case errors.Is(err, ledger.ErrFamilyRevoked):
			base.Failure = FailureRevoked
		case errors.Is(err, ledger.ErrFamilyNotFound):
			base.Failure = FailureNotFound
		default:
			base.Failure = FailureLedgerUnavailable
		}
		return base
	}
	if entry.SubjectID != claims.Subject {
		// The rotation has committed. Revoke so the family ends here instead of
		// being left at a sequence nobody holds.
		rctx, cancel := deps.storeContext(ctx)
		if err := deps.Ledger.Revoke(rctx, claims.FamilyID, now); err != nil {
			deps.warn("revoke after subject mismatch failed", "family_id", claims.FamilyID, "error", err)
		}
		cancel()
		base.Failure = FailureToken
		base.Err = fmt.Errorf("%w: subject does not own family", jwt.ErrTokenMalformed)
		return base
	}

	ttl := entry.ExpiresAt.Sub(now)
	if ttl <= 0 {
		base.Failure, base.Err = FailureNotFound, ledger.ErrFamilyNotFound
		return base
	}
	pair, err := issuePair(&deps, claims.Subject, claims.Scopes, claims.FamilyID, entry.Sequence, ttl)
	if err != nil {
		base.Failure, base.Err = FailureIssue, err
		return base
	}
	base.Pair = pair
	return base
}
