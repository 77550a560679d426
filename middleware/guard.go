package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore"
)

type accessResultContextKey struct{}

// AccessFromContext returns the result stored by [Guard].
func AccessFromContext(ctx context.Context) (*authcore.AccessResult, bool) {
	res, ok := ctx.Value(accessResultContextKey{}).(*authcore.AccessResult)
	return res, ok
}

// Guard rejects requests without a valid bearer access token carrying every
// scope in requiredScopes. Validation is stateless.
func Guard(engine *authcore.Engine, requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", authcore.TokenTypeBearer)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			res, err := engine.ValidateAccess(r.Context(), token, requiredScopes...)
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), accessResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WriteError maps an engine error to a status code. Only the status text is
// written; the error itself is never echoed.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	switch status {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", authcore.TokenTypeBearer)
	case http.StatusTooManyRequests:
		if d, ok := authcore.RetryAfter(err); ok {
			secs := int(d.Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
	http.Error(w, strings.ToLower(http.StatusText(status)), status)
}

// StatusFor picks the HTTP status for err. Rate limiting is checked first
// since a fail-closed rejection also wraps ErrStoreUnavailable.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, authcore.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, authcore.ErrInsufficientScope):
		return http.StatusForbidden
	case errors.Is(err, authcore.ErrStoreUnavailable),
		errors.Is(err, authcore.ErrKeyUnavailable),
		errors.Is(err, authcore.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, authcore.ErrAccountExists),
		errors.Is(err, authcore.ErrOnboardingState),
		errors.Is(err, authcore.ErrTokenAlreadyUsed):
		return http.StatusConflict
	case errors.Is(err, authcore.ErrInvalidEmail),
		errors.Is(err, authcore.ErrPasswordPolicy):
		return http.StatusBadRequest
	default:
		return http.StatusUnauthorized
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
