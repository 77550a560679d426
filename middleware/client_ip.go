package middleware

import (
	"net"
	"net/http"

	"github.com/MrEthical07/authcore"
)

// ClientIP stores the peer address of each request with
// [authcore.WithClientIP] so the engine can rate limit and audit by IP. The
// User-Agent header goes in with [authcore.WithUserAgent] and is recorded on
// sessions opened by login. Forwarding headers are ignored; put a proxy-aware
// handler in front when the service sits behind one.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ctx := authcore.WithClientIP(r.Context(), host)
		if ua := r.UserAgent(); ua != "" {
			ctx = authcore.WithUserAgent(ctx, ua)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
