// Package roles resolves named roles per caller, per request. A role is
// either a static directory group or a function of the request itself
// (membership in an embedded person list). Admins resolve every role.
package roles

import (
	"context"
	"log"
	"strings"

	"caseflow/api/internal/store"
)

// GroupDirectory is the external group-membership collaborator.
type GroupDirectory interface {
	IsMember(ctx context.Context, email string, groupNames []string) (bool, error)
	IsAdmin(ctx context.Context, email string) (bool, error)
	Members(ctx context.Context, groupName string) ([]store.Person, error)
}

// Definition is one variant of a role: a static group or a request-relative
// selector.
type Definition interface {
	Name() string
	Members(ctx context.Context, groups GroupDirectory, req *store.Request) ([]store.Person, error)
}

// StaticGroup maps a role name onto a directory group.
type StaticGroup struct {
	Role  string
	Group string
}

func (d StaticGroup) Name() string { return d.Role }

func (d StaticGroup) Members(ctx context.Context, groups GroupDirectory, _ *store.Request) ([]store.Person, error) {
	return groups.Members(ctx, d.Group)
}

// RequestRelative derives role membership from a person list embedded in
// the request. Select must be a side-effect-free read of the snapshot.
type RequestRelative struct {
	Role   string
	Select func(req *store.Request) []store.Person
}

func (d RequestRelative) Name() string { return d.Role }

func (d RequestRelative) Members(_ context.Context, _ GroupDirectory, req *store.Request) ([]store.Person, error) {
	return d.Select(req), nil
}

type Resolver struct {
	groups GroupDirectory
	defs   map[string]Definition
}

func NewResolver(groups GroupDirectory, defs ...Definition) *Resolver {
	byName := make(map[string]Definition, len(defs))
	for _, def := range defs {
		byName[def.Name()] = def
	}
	return &Resolver{groups: groups, defs: byName}
}

// Definitions returns the known role names, for configuration validation.
func (r *Resolver) Definitions() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	return names
}

// Lookup returns the definition for a role name, if registered.
func (r *Resolver) Lookup(roleName string) (Definition, bool) {
	def, ok := r.defs[roleName]
	return def, ok
}

// Resolve reports whether the caller holds the named role for the request.
// Admins hold every role. A resolution failure never propagates: it is
// logged and the role resolves false.
func (r *Resolver) Resolve(ctx context.Context, roleName string, caller store.Person, req *store.Request) bool {
	if admin, err := r.groups.IsAdmin(ctx, caller.Email); err != nil {
		log.Printf("roles: admin check for %s: %v", caller.Email, err)
	} else if admin {
		return true
	}
	def, ok := r.defs[roleName]
	if !ok {
		return false
	}
	return r.holds(ctx, def, caller, req)
}

// ResolveAny reports whether the caller holds at least one of the roles.
func (r *Resolver) ResolveAny(ctx context.Context, roleNames []string, caller store.Person, req *store.Request) bool {
	if admin, err := r.groups.IsAdmin(ctx, caller.Email); err != nil {
		log.Printf("roles: admin check for %s: %v", caller.Email, err)
	} else if admin {
		return true
	}
	for _, roleName := range roleNames {
		def, ok := r.defs[roleName]
		if !ok {
			continue
		}
		if r.holds(ctx, def, caller, req) {
			return true
		}
	}
	return false
}

func (r *Resolver) holds(ctx context.Context, def Definition, caller store.Person, req *store.Request) (held bool) {
	// A selector must never crash a request.
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("roles: resolving %s for %s panicked: %v", def.Name(), caller.Email, rec)
			held = false
		}
	}()

	switch d := def.(type) {
	case StaticGroup:
		ok, err := r.groups.IsMember(ctx, caller.Email, []string{d.Group})
		if err != nil {
			log.Printf("roles: membership check %s for %s: %v", d.Group, caller.Email, err)
			return false
		}
		return ok
	default:
		members, err := def.Members(ctx, r.groups, req)
		if err != nil {
			log.Printf("roles: member lookup %s for %s: %v", def.Name(), caller.Email, err)
			return false
		}
		for _, member := range members {
			if strings.EqualFold(member.Email, caller.Email) && member.Email != "" {
				return true
			}
		}
		return false
	}
}

// RoleMembers returns the member snapshots for a role, used for
// notification fan-out. Unknown roles yield an empty list.
func (r *Resolver) RoleMembers(ctx context.Context, roleName string, req *store.Request) []store.Person {
	def, ok := r.defs[roleName]
	if !ok {
		return nil
	}
	members, err := def.Members(ctx, r.groups, req)
	if err != nil {
		log.Printf("roles: members of %s: %v", roleName, err)
		return nil
	}
	return members
}
