package apikit

import (
	"context"
	"net/url"
)

// Context keys for apikit values.
type contextKey string

const (
	contextKeyPrincipal  contextKey = "apikit:principal"
	contextKeyUserID     contextKey = "apikit:user_id"
	contextKeyIPAddress  contextKey = "apikit:ip_address"
	contextKeyUserAgent  contextKey = "apikit:user_agent"
	contextKeyRequestID  contextKey = "apikit:request_id"
	contextKeyQuery      contextKey = "apikit:query"
	contextKeyTx         contextKey = "apikit:tx"
	contextKeyUnitOfWork contextKey = "apikit:unit_of_work"
)

// WithPrincipal adds the authenticated principal to the context.
// The principal's user ID is also available through GetUserID.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	ctx = context.WithValue(ctx, contextKeyPrincipal, p)
	if p != nil && p.UserID != "" {
		ctx = WithUserID(ctx, p.UserID)
	}
	return ctx
}

// GetPrincipal retrieves the principal from context.
// Returns nil for anonymous requests.
func GetPrincipal(ctx context.Context) *Principal {
	if v := ctx.Value(contextKeyPrincipal); v != nil {
		if p, ok := v.(*Principal); ok {
			return p
		}
	}
	return nil
}

// WithUserID adds a user ID to the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKeyUserID, userID)
}

// GetUserID retrieves the user ID from context.
// Returns empty string if not set.
func GetUserID(ctx context.Context) string {
	if v := ctx.Value(contextKeyUserID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetUserRole returns the role of the principal in context.
// Anonymous requests get RoleAnonymous.
func GetUserRole(ctx context.Context) string {
	if p := GetPrincipal(ctx); p != nil && p.Role != "" {
		return p.Role
	}
	return RoleAnonymous
}

// WithIPAddress adds the client IP address to the context.
func WithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKeyIPAddress, ip)
}

// GetIPAddress retrieves the IP address from context.
func GetIPAddress(ctx context.Context) string {
	if v := ctx.Value(contextKeyIPAddress); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithUserAgent adds the user agent to the context.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, contextKeyUserAgent, ua)
}

// GetUserAgent retrieves the user agent from context.
func GetUserAgent(ctx context.Context) string {
	if v := ctx.Value(contextKeyUserAgent); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context (for logs and correlation).
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if v := ctx.Value(contextKeyRequestID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithQueryValues stores the request query string for filters.
func WithQueryValues(ctx context.Context, values url.Values) context.Context {
	return context.WithValue(ctx, contextKeyQuery, values)
}

// GetQueryValues retrieves the request query string from context.
// Returns an empty set if not set.
func GetQueryValues(ctx context.Context) url.Values {
	if v := ctx.Value(contextKeyQuery); v != nil {
		if q, ok := v.(url.Values); ok {
			return q
		}
	}
	return url.Values{}
}

// RequestMetadata holds the request information carried in context.
type RequestMetadata struct {
	UserID    string
	Role      string
	IPAddress string
	UserAgent string
	RequestID string
}

// GetRequestMetadata extracts all request information from context.
func GetRequestMetadata(ctx context.Context) RequestMetadata {
	return RequestMetadata{
		UserID:    GetUserID(ctx),
		Role:      GetUserRole(ctx),
		IPAddress: GetIPAddress(ctx),
		UserAgent: GetUserAgent(ctx),
		RequestID: GetRequestID(ctx),
	}
}

// WithRequestMetadata adds request information to context at once.
// The user ID and role are owned by the principal and are not copied.
func WithRequestMetadata(ctx context.Context, md RequestMetadata) context.Context {
	if md.IPAddress != "" {
		ctx = WithIPAddress(ctx, md.IPAddress)
	}
	if md.UserAgent != "" {
		ctx = WithUserAgent(ctx, md.UserAgent)
	}
	if md.RequestID != "" {
		ctx = WithRequestID(ctx, md.RequestID)
	}
	return ctx
}
