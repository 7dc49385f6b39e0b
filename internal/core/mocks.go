package core

import (
	"context"
	"sync"

	"tourbook/internal/types"
)

// MockAuthenticator implements Authenticator for handler tests.
//
//	mock := &MockAuthenticator{Actor: &types.Actor{ID: "user_1", Type: types.ActorTypeUser}}
//
// Err, when set, is returned instead of Actor. ResolveTokenFunc overrides
// both.
type MockAuthenticator struct {
	Actor            *types.Actor
	Err              error
	ResolveTokenFunc func(ctx context.Context, token string) (*types.Actor, error)

	mu    sync.Mutex
	Calls []string
}

// ResolveToken implements Authenticator.
func (m *MockAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.ResolveTokenFunc != nil {
		return m.ResolveTokenFunc(ctx, token)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Actor, nil
}
