package workflow

import (
	"context"
	"errors"
	"testing"

	"caseflow/api/internal/roles"
	"caseflow/api/internal/store"
)

type fakeGroups struct {
	admins  map[string]bool
	members map[string][]string
}

func (f *fakeGroups) IsMember(_ context.Context, email string, groupNames []string) (bool, error) {
	for _, group := range groupNames {
		for _, member := range f.members[group] {
			if member == email {
				return true, nil
			}
		}
	}
	return false, nil
}

func (f *fakeGroups) IsAdmin(_ context.Context, email string) (bool, error) {
	return f.admins[email], nil
}

func (f *fakeGroups) Members(_ context.Context, groupName string) ([]store.Person, error) {
	people := make([]store.Person, 0)
	for _, email := range f.members[groupName] {
		people = append(people, store.Person{Email: email})
	}
	return people, nil
}

func newTestGraph(t *testing.T, groups *fakeGroups) *Graph {
	t.Helper()
	resolver := roles.NewResolver(groups, DefaultDefinitions("administrators", "users")...)
	graph, err := DefaultGraph(resolver)
	if err != nil {
		t.Fatalf("DefaultGraph: %v", err)
	}
	return graph
}

func draftRequest(requestor string) *store.Request {
	return &store.Request{
		ID:    "req_test",
		State: "created",
		StateHistory: []store.StateEvent{
			{State: "created", Email: requestor},
		},
		Requestors: []store.Person{{Name: "Alice", Email: requestor, Owner: true}},
		Fields:     map[string]any{"title": "New laptop"},
	}
}

func TestTerminalStatesHaveNoTransitions(t *testing.T) {
	graph := newTestGraph(t, &fakeGroups{})
	for _, name := range []string{"closed", "cancelled"} {
		def, ok := graph.State(name)
		if !ok {
			t.Fatalf("state %q missing", name)
		}
		if !def.Terminal() {
			t.Fatalf("state %q should be terminal", name)
		}
	}
	// Terminal states accept nothing, even from an admin.
	graph = newTestGraph(t, &fakeGroups{admins: map[string]bool{"root@x.com": true}})
	req := draftRequest("alice@x.com")
	req.State = "closed"
	err := graph.ApplyTransition(context.Background(), req, "created", store.Person{Email: "root@x.com"}, nil)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestSubmitTransition(t *testing.T) {
	graph := newTestGraph(t, &fakeGroups{})
	req := draftRequest("alice@x.com")

	var notifiedRoles []string
	var notifiedSubject string
	notify := func(_ context.Context, roleNames []string, subject, _ string) {
		notifiedRoles = roleNames
		notifiedSubject = subject
	}

	err := graph.ApplyTransition(context.Background(), req, "submitted", store.Person{Name: "Alice", Email: "alice@x.com"}, notify)
	if err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}
	if req.State != "submitted" {
		t.Fatalf("state = %q, want submitted", req.State)
	}
	if len(req.StateHistory) != 2 || req.StateHistory[1].State != "submitted" {
		t.Fatalf("state history not appended: %+v", req.StateHistory)
	}
	last := req.Comments[len(req.Comments)-1]
	if last.Topic != "state" || last.Text != "Submitted" {
		t.Fatalf("state comment = %+v, want topic state / text Submitted", last)
	}
	if len(notifiedRoles) != 1 || notifiedRoles[0] != RoleAdministrator {
		t.Fatalf("notified roles = %v, want [Administrator]", notifiedRoles)
	}
	if notifiedSubject != "Request submitted" {
		t.Fatalf("subject = %q", notifiedSubject)
	}
	if len(req.CurStateWrite) != 1 || req.CurStateWrite[0] != RoleRequestor {
		t.Fatalf("curStateWrite = %v", req.CurStateWrite)
	}
}

func TestSubmitDeniedForStranger(t *testing.T) {
	graph := newTestGraph(t, &fakeGroups{})
	req := draftRequest("alice@x.com")
	before := len(req.StateHistory)

	err := graph.ApplyTransition(context.Background(), req, "submitted", store.Person{Email: "mallory@x.com"}, nil)
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	// The in-memory request may be discarded by the caller; the graph must
	// at minimum not have advanced the state on a denied edge.
	if req.State != "created" || len(req.StateHistory) != before {
		t.Fatalf("request mutated on denied transition: %+v", req)
	}
}

func TestAdminMayFireAnyLegalTransition(t *testing.T) {
	graph := newTestGraph(t, &fakeGroups{admins: map[string]bool{"root@x.com": true}})
	req := draftRequest("alice@x.com")

	err := graph.ApplyTransition(context.Background(), req, "submitted", store.Person{Email: "root@x.com"}, nil)
	if err != nil {
		t.Fatalf("admin transition: %v", err)
	}
	if req.State != "submitted" {
		t.Fatalf("state = %q", req.State)
	}
}

func TestIllegalTransition(t *testing.T) {
	graph := newTestGraph(t, &fakeGroups{})
	req := draftRequest("alice@x.com")

	err := graph.ApplyTransition(context.Background(), req, "delivered", store.Person{Email: "alice@x.com"}, nil)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestCreatedEntrySeedsRequestors(t *testing.T) {
	graph := newTestGraph(t, &fakeGroups{members: map[string][]string{"users": {"alice@x.com"}}})
	req := &store.Request{ID: "req_new", State: StateStart}

	caller := store.Person{Name: "Alice", Email: "alice@x.com", Title: "Engineer"}
	if err := graph.ApplyTransition(context.Background(), req, "created", caller, nil); err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}
	if len(req.Requestors) != 1 {
		t.Fatalf("requestors = %+v", req.Requestors)
	}
	owner := req.Requestors[0]
	if owner.Email != "alice@x.com" || !owner.Owner {
		t.Fatalf("owner requestor = %+v", owner)
	}
}

func TestApprovedCachesDeliveryTeamRead(t *testing.T) {
	graph := newTestGraph(t, &fakeGroups{})
	req := draftRequest("alice@x.com")
	req.State = "review"
	req.Reviewers = []store.Person{{Email: "bob@x.com"}}

	err := graph.ApplyTransition(context.Background(), req, "approved", store.Person{Email: "bob@x.com"}, nil)
	if err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}
	found := false
	for _, role := range req.CurStateRead {
		if role == RoleDeliveryTeam {
			found = true
		}
	}
	if !found {
		t.Fatalf("curStateRead missing DeliveryTeam: %v", req.CurStateRead)
	}
}

func TestAvailableTransitions(t *testing.T) {
	graph := newTestGraph(t, &fakeGroups{})
	req := draftRequest("alice@x.com")

	got := graph.Available(context.Background(), req, store.Person{Email: "alice@x.com"})
	want := []string{"cancelled", "submitted"}
	if len(got) != len(want) {
		t.Fatalf("available = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("available = %v, want %v", got, want)
		}
	}
	if got := graph.Available(context.Background(), req, store.Person{Email: "mallory@x.com"}); len(got) != 0 {
		t.Fatalf("stranger should have no transitions, got %v", got)
	}
}
