package apikit

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Authentication failure codes.
const (
	CodeMissingToken       = "MISSING_TOKEN"
	CodeInvalidTokenFormat = "INVALID_TOKEN_FORMAT"
	CodeEmptyToken         = "EMPTY_TOKEN"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeInsufficientRole   = "INSUFFICIENT_PERMISSIONS"
)

// HeaderRequestID carries the request ID in and out of the API.
const HeaderRequestID = "X-Request-ID"

// TokenError is an authentication failure with a stable code.
type TokenError struct {
	Code    string
	Message string
}

func (e *TokenError) Error() string {
	return e.Code + ": " + e.Message
}

// Unwrap lets IsUnauthorized recognize token errors.
func (e *TokenError) Unwrap() error {
	return ErrUnauthorized
}

// TokenExtractor reads the raw token from a request. A nil error with an
// empty token means the request carries no credentials.
type TokenExtractor func(c *gin.Context) (string, error)

// BearerToken reads an "Authorization: Bearer <token>" header.
func BearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", nil
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", &TokenError{Code: CodeInvalidTokenFormat, Message: "Authorization header must be in format 'Bearer <token>'"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", &TokenError{Code: CodeEmptyToken, Message: "JWT token cannot be empty"}
	}
	return token, nil
}

// Middleware provides the gin middleware for authentication and request metadata.
type Middleware struct {
	tokens       *TokenService
	extract      TokenExtractor
	errorHandler func(c *gin.Context, status int, err error)
}

// MiddlewareOption configures the Middleware.
type MiddlewareOption func(*Middleware)

// NewMiddleware creates a new Middleware instance.
//
// Example:
//
//	mw := apikit.NewMiddleware(tokens)
//	api := router.Group("/api", mw.Authenticate())
func NewMiddleware(tokens *TokenService, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		tokens:       tokens,
		extract:      BearerToken,
		errorHandler: defaultErrorHandler,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithTokenExtractor sets a custom function to read the token from a request.
func WithTokenExtractor(fn TokenExtractor) MiddlewareOption {
	return func(m *Middleware) {
		m.extract = fn
	}
}

// WithErrorHandler sets a custom error handler for middleware.
func WithErrorHandler(fn func(c *gin.Context, status int, err error)) MiddlewareOption {
	return func(m *Middleware) {
		m.errorHandler = fn
	}
}

func defaultErrorHandler(c *gin.Context, status int, err error) {
	var te *TokenError
	msg := ErrorMessage("", err.Error())
	if errors.As(err, &te) {
		msg = ErrorMessage(te.Code, te.Message)
	}
	resp := NewResponse[any](status, nil, msg)
	c.AbortWithStatusJSON(status, resp)
}

// principal authenticates the request. It returns nil without credentials.
func (m *Middleware) principal(c *gin.Context) (*Principal, error) {
	token, err := m.extract(c)
	if err != nil || token == "" {
		return nil, err
	}
	claims, err := m.tokens.ValidateToken(token)
	if err != nil {
		return nil, &TokenError{Code: CodeInvalidToken, Message: "Invalid or expired JWT token"}
	}
	return m.tokens.Principal(claims), nil
}

func setPrincipal(c *gin.Context, p *Principal) {
	c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), p))
}

// Authenticate requires a valid token and stores its principal in the request context.
func (m *Middleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := m.principal(c)
		if err == nil && p == nil {
			err = &TokenError{Code: CodeMissingToken, Message: "Authorization header is required"}
		}
		if err != nil {
			m.errorHandler(c, http.StatusUnauthorized, err)
			return
		}
		setPrincipal(c, p)
		c.Next()
	}
}

// OptionalAuthentication stores the principal when a token is present.
// Requests without credentials continue anonymously; invalid tokens are rejected.
func (m *Middleware) OptionalAuthentication() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := m.principal(c)
		if err != nil {
			m.errorHandler(c, http.StatusUnauthorized, err)
			return
		}
		if p != nil {
			setPrincipal(c, p)
		}
		c.Next()
	}
}

// RequireRole rejects principals holding none of roles.
//
// Example:
//
//	admin := router.Group("/admin", mw.Authenticate(), mw.RequireRole("admin"))
func (m *Middleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := GetPrincipal(c.Request.Context())
		if p.IsAnonymous() {
			m.errorHandler(c, http.StatusUnauthorized, &TokenError{Code: CodeMissingToken, Message: "Authorization header is required"})
			return
		}
		if !p.IsInRole(roles...) {
			m.errorHandler(c, http.StatusForbidden, &TokenError{
				Code:    CodeInsufficientRole,
				Message: fmt.Sprintf("Required roles: %v, user role: %s", roles, p.Role),
			})
			return
		}
		c.Next()
	}
}

// InjectRequestMetadata stores the client IP, user agent and request ID in the
// request context. A request without X-Request-ID gets a new one, echoed in the response.
//
// The IP is gin's ClientIP: forwarding headers count only when the peer is one of
// the engine's trusted proxies (see gin.Engine.SetTrustedProxies).
func InjectRequestMetadata() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		ctx = WithIPAddress(ctx, c.ClientIP())
		ctx = WithUserAgent(ctx, c.Request.UserAgent())

		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = WithRequestID(ctx, requestID)
		c.Header(HeaderRequestID, requestID)

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AccessLog logs one line per request.
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		md := GetRequestMetadata(c.Request.Context())
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", md.IPAddress),
			zap.String("request_id", md.RequestID),
			zap.String("user_id", md.UserID),
			zap.String("role", md.Role),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}

// LimitRequestBody caps request bodies at limit bytes. Reading past the limit
// fails with *http.MaxBytesError.
func LimitRequestBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
