package shared

import "context"

// Actor is the resolved authenticated principal for a request. Services take
// it as an explicit parameter for attribution stamping; the context carries it
// only between transport middleware and handlers.
type Actor struct {
	ID           int64
	Name         string
	Username     string
	IsSuperAdmin bool
	Roles        []string
	Permissions  []string
	// PermissionIDs mirrors Permissions by id, used for privilege
	// containment on permission assignment.
	PermissionIDs []int64
}

// HasRole reports whether the actor holds the named role.
func (a Actor) HasRole(name string) bool {
	for _, r := range a.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// HasPermission reports whether the named permission is in the actor's
// effective set (direct or via a role).
func (a Actor) HasPermission(name string) bool {
	for _, p := range a.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// RequestMeta carries client attribution recorded on every audit entry.
type RequestMeta struct {
	IP        string
	UserAgent string
}

type actorContextKey struct{}

type metaContextKey struct{}

// ContextWithActor stores the resolved actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// ContextWithRequestMeta stores request attribution in context.
func ContextWithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, metaContextKey{}, meta)
}

// RequestMetaFromContext extracts request attribution from context.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(metaContextKey{}).(RequestMeta)
	return meta
}
