package authcore

import "context"

type (
	clientIPContextKey  struct{}
	userAgentContextKey struct{}
)

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for the per-IP throttle, the IP rate-limit keys and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// ClientIPFromContext returns the address stored by [WithClientIP].
func ClientIPFromContext(ctx context.Context) string {
	return clientIPFromContext(ctx)
}

// WithUserAgent attaches the caller's user agent to ctx. Login records it on
// the new session.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ua, _ := ctx.Value(userAgentContextKey{}).(string)
	return ua
}

// UserAgentFromContext returns the value stored by [WithUserAgent].
func UserAgentFromContext(ctx context.Context) string {
	return userAgentFromContext(ctx)
}
