package auth

import "context"

// Context keys use an unexported type so no other package can collide with
// them.
type ctxKey int

const (
	ctxKeyPrincipal ctxKey = iota
	ctxKeyToken
)

// ContextWithPrincipal returns a context carrying the verified caller.
// The authentication middleware sets it once per request.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

// PrincipalFromContext reads back the caller attached by the authentication
// layer; ok is false on unauthenticated requests.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(ctxKeyPrincipal).(Principal)
	return p, ok
}

// ContextWithToken carries the raw bearer credential alongside the
// principal, for components that forward it to downstream calls.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyToken, token)
}

// TokenFromContext returns the raw bearer credential, when present.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	tok, ok := ctx.Value(ctxKeyToken).(string)
	return tok, ok && tok != ""
}
