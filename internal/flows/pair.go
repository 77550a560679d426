package flows

import (
	"time"

	"github.com/MrEthical07/authcore/jwt"
)

// Pair is a freshly issued access + refresh token pair.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	FamilyID         string
	Sequence         uint64
}

// PairResult carries either an issued pair or failure metadata.
type PairResult struct {
	Failure    FailureKind
	Err        error
	RetryAfter time.Duration
	SubjectID  string
	FamilyID   string
	Pair       Pair
}

// issuePair signs both tokens. refreshTTL is clipped by the caller to the
// family's remaining lifetime.
func issuePair(d *Deps, subject string, scopes []string, familyID string, seq uint64, refreshTTL time.Duration) (Pair, error) {
	access, accessClaims, err := d.Codec.Issue(subject, jwt.TypeAccess, d.AccessTTL, jwt.Extra{Scopes: scopes})
	if err != nil {
		return Pair{}, err
	}
	refresh, refreshClaims, err := d.Codec.Issue(subject, jwt.TypeRefresh, refreshTTL, jwt.Extra{
		Scopes:   scopes,
		FamilyID: familyID,
		Sequence: seq,
	})
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
		FamilyID:         familyID,
		Sequence:         seq,
	}, nil
}
