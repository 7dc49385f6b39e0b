package types

import (
	"context"
)

// ActorType identifies the kind of authenticated entity making a request.
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeAdmin  ActorType = "admin"
	ActorTypeSystem ActorType = "system"
)

// Actor represents the authenticated entity performing an operation.
type Actor struct {
	ID     string
	Type   ActorType
	Email  string
	Source string // Origin of the request (e.g., "checkout", "ops").
}

// IsAdmin reports whether the actor may use operator endpoints.
func (a Actor) IsAdmin() bool {
	return a.Type == ActorTypeAdmin || a.Type == ActorTypeSystem
}

type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
)

// WithActor stores the Actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the Actor from the context.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// UserIDFromContext returns the id of the authenticated user, or false when
// the request carries no user actor.
func UserIDFromContext(ctx context.Context) (string, bool) {
	actor, ok := GetActor(ctx)
	if !ok || actor.Type != ActorTypeUser || actor.ID == "" {
		return "", false
	}
	return actor.ID, true
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
