package audit

import "context"

// RequestInfo is the request metadata stamped on audit entries
type RequestInfo struct {
	RequestID string
	IPAddress string
	UserAgent string
	Subject   string
	Roles     []string
}

type requestInfoKey struct{}

// WithRequestInfo returns a context carrying info
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFromContext returns the request metadata stored in ctx, if any
func RequestInfoFromContext(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info
}
