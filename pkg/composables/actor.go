package composables

import (
	"context"
	"errors"

	"github.com/cadenzahq/cadenza/pkg/constants"
	"github.com/google/uuid"
)

var ErrNoActor = errors.New("no actor found in context")

// Actor is the identity the upstream authentication layer established for
// the current request. GlobalOverride mirrors the identity provider's
// override flag; the casbin policy can grant the same capability by role.
type Actor struct {
	UserID         uuid.UUID
	GlobalOverride bool
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, constants.ActorKey, actor)
}

func UseActor(ctx context.Context) (Actor, error) {
	actor, ok := ctx.Value(constants.ActorKey).(Actor)
	if !ok || actor.UserID == uuid.Nil {
		return Actor{}, ErrNoActor
	}
	return actor, nil
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, constants.RequestIDKey, requestID)
}

func UseRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(constants.RequestIDKey).(string)
	if requestID == "" {
		return uuid.NewString()
	}
	return requestID
}
