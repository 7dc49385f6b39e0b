// Package auth resolves bearer credentials into request actors. Shoppers
// carry HS256 JWTs minted by the storefront's identity service; operators use
// a static admin API key.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tourbook/internal/types"
)

// Claims is the token payload. The subject is the user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// roleAdmin in a user token grants operator access.
const roleAdmin = "admin"

// TokenConfig configures a TokenAuthenticator.
type TokenConfig struct {
	JWTSecret   types.SecretString
	JWTIssuer   string
	AdminAPIKey types.SecretString
	Logger      *slog.Logger
	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration
}

// TokenAuthenticator implements core.Authenticator.
type TokenAuthenticator struct {
	secret   []byte
	issuer   string
	adminKey []byte
	leeway   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewTokenAuthenticator creates a TokenAuthenticator.
func NewTokenAuthenticator(cfg TokenConfig) *TokenAuthenticator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = 30 * time.Second
	}
	return &TokenAuthenticator{
		secret:   []byte(cfg.JWTSecret.Unmask()),
		issuer:   cfg.JWTIssuer,
		adminKey: []byte(cfg.AdminAPIKey.Unmask()),
		leeway:   leeway,
		logger:   logger,
		now:      time.Now,
	}
}

// ResolveToken returns the actor for a bearer token. The admin key is checked
// first in constant time; anything else must be a valid JWT.
func (a *TokenAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	if len(a.adminKey) > 0 && subtle.ConstantTimeCompare([]byte(token), a.adminKey) == 1 {
		return &types.Actor{ID: "admin", Type: types.ActorTypeAdmin, Source: "ops"}, nil
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "token expired", err)
		}
		a.logger.DebugContext(ctx, "jwt rejected", "error", err)
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid token", err)
	}
	if claims.Subject == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token has no subject", nil)
	}

	actorType := types.ActorTypeUser
	if claims.Role == roleAdmin {
		actorType = types.ActorTypeAdmin
	}
	return &types.Actor{
		ID:     claims.Subject,
		Type:   actorType,
		Email:  claims.Email,
		Source: "jwt",
	}, nil
}

// IssueToken mints a user token. Local tooling uses it in place of the
// identity service.
func (a *TokenAuthenticator) IssueToken(userID, email string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
