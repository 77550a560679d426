package flows

import (
	"fmt"

	"github.com/MrEthical07/authcore/jwt"
)

// ValidateResult carries verified access claims or failure metadata.
type ValidateResult struct {
	Failure FailureKind
	Err     error
	Claims  *jwt.Claims
}

// RunValidate verifies an access token and checks that it carries every
// required scope. It touches no store.
func RunValidate(accessToken string, required []string, deps Deps) ValidateResult {
	claims, err := deps.Codec.VerifyType(accessToken, jwt.TypeAccess)
	if err != nil {
		return ValidateResult{Failure: FailureToken, Err: err}
	}
	if missing := missingScope(claims.Scopes, required); missing != "" {
		return ValidateResult{
			Failure: FailureScope,
			Err:     fmt.Errorf("missing scope %q", missing),
			Claims:  claims,
		}
	}
	return ValidateResult{Claims: claims}
}

func missingScope(have, required []string) string {
	for _, want := range required {
		found := false
		for _, h := range have {
			if h == want {
				found = true
				break
			}
		}
		if !found {
			return want
		}
	}
	return ""
}
