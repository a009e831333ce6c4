// Package auth carries the acting user through request contexts. Identity is
// asserted by the gateway in front of the service through request headers.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/sitepolygons/internal/domain"
)

type contextKey string

const actorKey contextKey = "actor"

// Headers set by the gateway.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserName = "X-User-Name"
)

// ContextWithActor returns a new context that carries the acting user.
func ContextWithActor(ctx context.Context, actor domain.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext retrieves the acting user. The zero Actor is returned for
// anonymous requests.
func ActorFromContext(ctx context.Context) domain.Actor {
	if ctx == nil {
		return domain.Actor{}
	}
	actor, _ := ctx.Value(actorKey).(domain.Actor)
	return actor
}

// ActorFromRequest reads the actor headers. Both are optional, but a present
// user id must be a valid uuid.
func ActorFromRequest(r *http.Request) (domain.Actor, error) {
	actor := domain.Actor{Name: strings.TrimSpace(r.Header.Get(HeaderUserName))}
	raw := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if raw == "" {
		return actor, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("invalid %s header: %w", HeaderUserID, err)
	}
	if id != uuid.Nil {
		actor.ID = &id
	}
	return actor, nil
}
