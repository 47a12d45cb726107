package auth

import "context"

type contextKey string

const (
	claimsKey      contextKey = "claims"
	requestMetaKey contextKey = "request_meta"
)

// RequestMeta is the transport context copied into security events.
type RequestMeta struct {
	IP       string
	Endpoint string
}

func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey, meta)
}

func RequestMetaFromContext(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey).(RequestMeta)
	return meta
}

func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the claims stored by the guard, if any.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(Claims)
	return claims, ok
}
