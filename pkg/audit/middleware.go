package audit

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/platinummonkey/fleetauthz/pkg/contextkeys"
)

// RequestIDHeader carries the request id in and out of the service
const RequestIDHeader = "X-Request-ID"

// RequestInfo is the request metadata bound to every audit event
type RequestInfo struct {
	IPAddress string
	UserAgent string
	Endpoint  string
	Method    string
	RequestID string
}

// NewRequestInfo extracts audit metadata from r. A request id is taken from
// the context, then the X-Request-ID header, and generated otherwise.
func NewRequestInfo(r *http.Request) RequestInfo {
	requestID := contextkeys.GetRequestID(r.Context())
	if requestID == "" {
		requestID = r.Header.Get(RequestIDHeader)
	}
	if requestID == "" {
		requestID = uuid.New().String()
	}

	return RequestInfo{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Endpoint:  r.URL.Path,
		Method:    r.Method,
		RequestID: requestID,
	}
}

// WithRequestInfo stores info in ctx
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	ctx = contextkeys.WithRequestID(ctx, info.RequestID)
	return context.WithValue(ctx, contextkeys.RequestInfoKey, info)
}

// RequestInfoFromContext returns the request metadata stored in ctx
func RequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(contextkeys.RequestInfoKey).(RequestInfo)
	return info, ok
}

// clientIP extracts the client IP from the request
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			xff = xff[:i]
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Middleware binds request metadata for audit events. It must run before
// authentication so that pre-auth events carry request context.
type Middleware struct{}

// NewMiddleware creates a new audit middleware
func NewMiddleware() *Middleware {
	return &Middleware{}
}

// Handler wraps an HTTP handler
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := NewRequestInfo(r)
		w.Header().Set(RequestIDHeader, info.RequestID)
		next.ServeHTTP(w, r.WithContext(WithRequestInfo(r.Context(), info)))
	})
}
