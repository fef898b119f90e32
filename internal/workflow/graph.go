// Package workflow holds the state graph: legal states, role-gated
// transitions, and entry hooks that fire when a request lands on a state.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"caseflow/api/internal/roles"
	"caseflow/api/internal/store"
	"caseflow/api/internal/util"
)

var (
	ErrIllegalTransition = errors.New("target state not reachable from current state")
	ErrAccessDenied      = errors.New("caller holds no qualifying role for transition")
)

// Transition describes one outgoing edge. A caller holding any one of
// Groups may fire it.
type Transition struct {
	Groups      []string
	Label       string
	Description string
}

// HookContext is what an entry hook gets to work with. Notify is
// fire-and-forget: its failure never rolls back the transition.
type HookContext struct {
	Caller    store.Person
	Request   *store.Request
	CheckRole func(roleName string) bool
	Notify    func(roleNames []string, subject, message string)
}

// Hook runs when a transition lands on a state. It may seed request
// defaults, assert the caller's role (returning ErrAccessDenied), and
// notify. It returns extra role names to cache as read roles for the state.
type Hook interface {
	OnEnter(ctx context.Context, hc *HookContext) ([]string, error)
}

type HookFunc func(ctx context.Context, hc *HookContext) ([]string, error)

func (f HookFunc) OnEnter(ctx context.Context, hc *HookContext) ([]string, error) {
	return f(ctx, hc)
}

type StateDefinition struct {
	Label       string
	Description string
	Read        []string
	Write       []string
	Entry       Hook
	Next        map[string]Transition
}

// Terminal reports whether the state has no outgoing transitions.
func (d StateDefinition) Terminal() bool {
	return len(d.Next) == 0
}

// NotifyFunc delivers a message to every member of the named roles.
type NotifyFunc func(ctx context.Context, roleNames []string, subject, message string)

type Graph struct {
	states   map[string]StateDefinition
	resolver *roles.Resolver
}

// NewGraph validates that every transition points at a defined state.
func NewGraph(states map[string]StateDefinition, resolver *roles.Resolver) (*Graph, error) {
	for name, def := range states {
		for target := range def.Next {
			if _, ok := states[target]; !ok {
				return nil, fmt.Errorf("state %q has transition to undefined state %q", name, target)
			}
		}
	}
	return &Graph{states: states, resolver: resolver}, nil
}

func (g *Graph) State(name string) (StateDefinition, bool) {
	def, ok := g.states[name]
	return def, ok
}

func (g *Graph) ReadRoles(state string) []string {
	return append([]string(nil), g.states[state].Read...)
}

func (g *Graph) WriteRoles(state string) []string {
	return append([]string(nil), g.states[state].Write...)
}

// CanTransition reports whether the caller may move the request to target:
// the edge must exist and the caller must hold at least one of its groups
// (admins always qualify).
func (g *Graph) CanTransition(ctx context.Context, req *store.Request, target string, caller store.Person) bool {
	cur, ok := g.states[req.State]
	if !ok {
		return false
	}
	t, ok := cur.Next[target]
	if !ok {
		return false
	}
	return g.resolver.ResolveAny(ctx, t.Groups, caller, req)
}

// Available lists the transitions the caller may fire from the request's
// current state, keyed by target state, in sorted order.
func (g *Graph) Available(ctx context.Context, req *store.Request, caller store.Person) []string {
	cur, ok := g.states[req.State]
	if !ok {
		return nil
	}
	targets := make([]string, 0, len(cur.Next))
	for target, t := range cur.Next {
		if g.resolver.ResolveAny(ctx, t.Groups, caller, req) {
			targets = append(targets, target)
		}
	}
	sort.Strings(targets)
	return targets
}

// ApplyTransition moves the request to target in place: it appends the
// state-history event and the synthetic state comment, runs the entry hook,
// and recomputes the read/write role cache. The caller persists the result;
// a hook error leaves nothing written.
func (g *Graph) ApplyTransition(ctx context.Context, req *store.Request, target string, caller store.Person, notify NotifyFunc) error {
	cur, ok := g.states[req.State]
	if !ok {
		return fmt.Errorf("%w: unknown state %q", ErrIllegalTransition, req.State)
	}
	t, ok := cur.Next[target]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, req.State, target)
	}
	if !g.resolver.ResolveAny(ctx, t.Groups, caller, req) {
		return fmt.Errorf("%w: %s -> %s", ErrAccessDenied, req.State, target)
	}

	next := g.states[target]
	now := time.Now().UTC()
	req.StateHistory = append(req.StateHistory, store.StateEvent{
		State: target,
		Date:  now,
		Email: caller.Email,
	})
	req.Comments = append(req.Comments, store.Comment{
		ID:    util.NewID("cmt"),
		User:  caller.Snapshot(),
		Topic: "state",
		Text:  next.Label,
		Date:  now,
	})
	req.State = target

	var hookRoles []string
	if next.Entry != nil {
		hc := &HookContext{
			Caller:  caller,
			Request: req,
			CheckRole: func(roleName string) bool {
				return g.resolver.Resolve(ctx, roleName, caller, req)
			},
			Notify: func(roleNames []string, subject, message string) {
				if notify != nil {
					notify(ctx, roleNames, subject, message)
				}
			},
		}
		extra, err := next.Entry.OnEnter(ctx, hc)
		if err != nil {
			return err
		}
		hookRoles = extra
	}

	req.CurStateRead = dedupe(append(append([]string(nil), next.Read...), hookRoles...))
	req.CurStateWrite = dedupe(next.Write)
	return nil
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
