package authflow

import "context"

type clientIPContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Redis backend
// uses it for per-IP issuance throttling and audit events record it.
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

type flowIDContextKey struct{}

// withFlowID tags a step context so backend audit events carry the flow id.
func withFlowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, flowIDContextKey{}, id)
}

func flowIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(flowIDContextKey{}).(string)
	return id
}
