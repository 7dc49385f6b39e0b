package core

import (
	"context"

	"tourbook/internal/types"
)

// Authenticator decouples the HTTP layer from the credential scheme.
//
// ResolveToken returns an AppError with ErrCodeAuthTokenInvalid for malformed
// or unknown tokens and ErrCodeAuthTokenExpired for expired ones.
type Authenticator interface {
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}
