package bridge

import "context"

type environKey struct{}

// withEnviron attaches a copy of env to ctx.
func withEnviron(ctx context.Context, env Environ) context.Context {
	env.ctx = nil
	return context.WithValue(ctx, environKey{}, env)
}

// EnvironFrom returns the Environ of the request ctx was derived from.
// Its Context method returns ctx.
func EnvironFrom(ctx context.Context) (Environ, bool) {
	env, ok := ctx.Value(environKey{}).(Environ)
	if ok {
		env.ctx = ctx
	}
	return env, ok
}

// RequestIDFrom extracts the request ID from ctx.
func RequestIDFrom(ctx context.Context) (string, bool) {
	env, ok := EnvironFrom(ctx)
	return env.RequestID, ok && env.RequestID != ""
}
