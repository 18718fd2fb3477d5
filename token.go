package apikit

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenConfig configures a TokenService.
type TokenConfig struct {
	Secret    string        `yaml:"secret" json:"-"`
	Issuer    string        `yaml:"issuer" json:"issuer"`
	ExpiresIn time.Duration `yaml:"expires_in" json:"expires_in"`
	Algorithm string        `yaml:"algorithm" json:"algorithm"`
}

// Claims are the JWT claims apikit issues. The subject is the user ID.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService issues and validates bearer tokens.
type TokenService struct {
	secret    []byte
	method    jwt.SigningMethod
	issuer    string
	expiresIn time.Duration
}

// NewTokenService creates a TokenService. It defaults to HS256 and a 24 hour lifetime.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("JWT secret cannot be empty")
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(cfg.Algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing method %q", cfg.Algorithm)
	}
	if cfg.ExpiresIn <= 0 {
		cfg.ExpiresIn = 24 * time.Hour
	}
	return &TokenService{
		secret:    []byte(cfg.Secret),
		method:    method,
		issuer:    cfg.Issuer,
		expiresIn: cfg.ExpiresIn,
	}, nil
}

// GenerateClaims builds the claims for a user and role.
func (ts *TokenService) GenerateClaims(id, role string) *Claims {
	now := time.Now()
	return &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   id,
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.expiresIn)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
}

// GenerateToken signs claims.
func (ts *TokenService) GenerateToken(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(ts.method, claims)
	signed, err := token.SignedString(ts.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// IssueToken generates and signs the claims for a user and role.
func (ts *TokenService) IssueToken(id, role string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("user ID cannot be empty")
	}
	return ts.GenerateToken(ts.GenerateClaims(id, role))
}

// ValidateToken parses and validates a signed token.
// Every failure is reported as ErrInvalidToken.
func (ts *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, NewError(ErrInvalidToken, "token cannot be empty")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{ts.method.Alg()})}
	if ts.issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return ts.secret, nil
	}, opts...)
	if err != nil {
		return nil, NewError(ErrInvalidToken, err.Error())
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, NewError(ErrInvalidToken, "token is not valid")
	}
	if claims.Subject == "" {
		return nil, NewError(ErrInvalidToken, "token has no subject")
	}
	return claims, nil
}

// Principal converts validated claims into a Principal.
func (ts *TokenService) Principal(claims *Claims) *Principal {
	return &Principal{UserID: claims.Subject, Role: claims.Role, Claims: claims}
}
