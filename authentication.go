package apikit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Authentication message codes.
const (
	CodeAccountNotFound  = "authentication.authenticate.not-found"
	CodePasswordMismatch = "authentication.authenticate.password-mismatch"
)

// AuthenticationRequest is the login payload.
type AuthenticationRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is returned on a successful login.
type LoginResponse struct {
	Token     string `json:"token"`
	Role      string `json:"role"`
	AccountID string `json:"accountId"`
	Status    string `json:"status"`
}

// AuthenticatorConfig customizes an Authenticator.
type AuthenticatorConfig[T Account[K], K comparable] struct {
	// Finder locates the account. Defaults to a username column lookup
	// that skips the query provider.
	Finder func(ctx context.Context, accounts *DataContext[T, K], username string) (T, error)

	// UsernameColumn is used by the default finder. Defaults to "username".
	UsernameColumn string

	// Validators run on the found account before the password check.
	Validators []func(ctx context.Context, account T) error

	// Role is issued in the token. Empty uses the account role.
	Role string

	// Subject renders the token subject. Defaults to the account key.
	Subject func(account T) string

	Logger *zap.Logger
}

// Authenticator exchanges credentials for a bearer token.
type Authenticator[T Account[K], K comparable] struct {
	accounts  *DataContext[T, K]
	tokens    *TokenService
	passwords *PasswordService
	cfg       AuthenticatorConfig[T, K]
	log       *zap.Logger
}

// NewAuthenticator creates an Authenticator over accounts.
func NewAuthenticator[T Account[K], K comparable](accounts *DataContext[T, K], tokens *TokenService, passwords *PasswordService, cfg AuthenticatorConfig[T, K]) *Authenticator[T, K] {
	if cfg.UsernameColumn == "" {
		cfg.UsernameColumn = "username"
	}
	if cfg.Subject == nil {
		cfg.Subject = func(account T) string { return fmt.Sprint(account.GetID()) }
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Authenticator[T, K]{
		accounts:  accounts,
		tokens:    tokens,
		passwords: passwords,
		cfg:       cfg,
		log:       log,
	}
}

func (a *Authenticator[T, K]) find(ctx context.Context, username string) (T, error) {
	if a.cfg.Finder != nil {
		return a.cfg.Finder(ctx, a.accounts, username)
	}
	return a.accounts.FindOneWhere(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.? = ?", bun.Ident(a.cfg.UsernameColumn), username)
	}, SkipQueryProvider())
}

// Authenticate verifies the credentials and issues a token.
func (a *Authenticator[T, K]) Authenticate(ctx context.Context, req AuthenticationRequest) (*LoginResponse, error) {
	account, err := a.find(ctx, req.Username)
	if IsNotFound(err) || (err == nil && isNil(account)) {
		return nil, NewError(ErrNotFound, "account not found").
			WithMessages(ErrorMessage(CodeAccountNotFound, "Account was not found"))
	}
	if err != nil {
		return nil, err
	}

	for _, validate := range a.cfg.Validators {
		if err := validate(ctx, account); err != nil {
			return nil, err
		}
	}

	if !a.passwords.Verify(account.GetPassword(), req.Password) {
		return nil, NewError(ErrUnauthorized, "password mismatch").
			WithMessages(ErrorMessage(CodePasswordMismatch, "The entered password does not match."))
	}

	role := a.cfg.Role
	if role == "" {
		role = account.GetRole()
	}
	id := a.cfg.Subject(account)
	token, err := a.tokens.IssueToken(id, role)
	if err != nil {
		return nil, err
	}

	a.log.Info("account authenticated", zap.String("account_id", id), zap.String("role", role))
	return &LoginResponse{
		Token:     token,
		Role:      role,
		AccountID: fmt.Sprint(account.GetID()),
		Status:    "ok",
	}, nil
}

// LoginHandler serves POST /login.
func (a *Authenticator[T, K]) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AuthenticationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			GenerateResult(c, BadRequest[any](ErrorMessage("authentication.authenticate.invalid-request", err.Error())))
			return
		}
		resp, err := a.Authenticate(c.Request.Context(), req)
		if err != nil {
			GenerateError(c, err)
			return
		}
		GenerateResult(c, NewResponse(http.StatusOK, resp))
	}
}
