package rbac

import (
	"context"
	"fmt"
	"strings"

	"github.com/sentinel-iam/sentinel-iam/internal/shared"
)

// Guard evaluates authorization predicates against the current actor's
// preloaded role and effective permission sets.
type Guard struct {
	repo Repository
}

// NewGuard constructs a Guard backed by the graph repository.
func NewGuard(repo Repository) *Guard {
	return &Guard{repo: repo}
}

// RequirePermissions fails unless every named permission exists in the system
// and is held by the actor, directly or via a role. A name that resolves to
// nothing fails closed.
func (g *Guard) RequirePermissions(ctx context.Context, actor shared.Actor, names ...string) error {
	required := normalizeNames(names)
	if len(required) == 0 {
		return nil
	}
	existing, err := g.repo.ExistingPermissionNames(ctx, required)
	if err != nil {
		return err
	}
	if len(existing) != len(required) {
		return fmt.Errorf("%w: not authorized", shared.ErrForbidden)
	}
	for _, name := range required {
		if !actor.HasPermission(name) {
			return fmt.Errorf("%w: not authorized", shared.ErrForbidden)
		}
	}
	return nil
}

// RequireAnyRole fails unless at least one named role exists in the system
// and the actor holds at least one of the names.
func (g *Guard) RequireAnyRole(ctx context.Context, actor shared.Actor, names ...string) error {
	required := normalizeNames(names)
	if len(required) == 0 {
		return nil
	}
	existing, err := g.repo.ExistingRoleNames(ctx, required)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return fmt.Errorf("%w: not authorized", shared.ErrForbidden)
	}
	for _, name := range required {
		if actor.HasRole(name) {
			return nil
		}
	}
	return fmt.Errorf("%w: not authorized", shared.ErrForbidden)
}

func normalizeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	normalized := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		normalized = append(normalized, name)
	}
	return normalized
}
