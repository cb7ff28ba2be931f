package shared

import "context"

type actorContextKey struct{}

// Actor identifies the principal a request asserts is acting. It is carried
// per-request in context, never in process-wide state, and is recorded in
// the audit trail as-is. Authentication of the actor happens upstream.
type Actor struct {
	ID   int64
	Kind string
}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. The second return is
// false when no actor was attached.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
