package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the authenticated actor id in context. Identity is
// established upstream; requests reach this service with the actor already
// resolved.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext extracts the actor id, zero when absent.
func ActorFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(actorContextKey{}).(int64)
	return id
}
