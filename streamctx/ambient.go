package streamctx

import "context"

// ambientKey is an unexported type so only this package can set or read
// the ambient StreamContext binding, preventing accidental collisions
// with other context values.
type ambientKey struct{}

// With returns a derived context carrying sc as the ambient StreamContext.
// Binding is per-task (per context.Context value chain), never global:
// two concurrent runs never observe each other's ambient context.
func With(ctx context.Context, sc *Context) context.Context {
	return context.WithValue(ctx, ambientKey{}, sc)
}

// From retrieves the ambient StreamContext bound to ctx, if any. Agent
// code that was not passed a StreamContext explicitly uses this to obtain
// one. Callers installing the binding are responsible for calling With
// before invoking agent code and letting it fall out of scope on all exit
// paths (the binding is never cleared explicitly; it simply does not
// propagate past the context it was attached to).
func From(ctx context.Context) (*Context, bool) {
	sc, ok := ctx.Value(ambientKey{}).(*Context)
	return sc, ok
}
