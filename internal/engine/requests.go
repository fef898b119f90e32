package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"caseflow/api/internal/obs"
	"caseflow/api/internal/patch"
	"caseflow/api/internal/store"
	"caseflow/api/internal/util"
	"caseflow/api/internal/workflow"
)

// Declared domain fields and their empty defaults. Callers may add fields
// beyond these; the engine only guarantees defaults for the declared set.
func defaultFields() map[string]any {
	return map[string]any{
		"title":       "",
		"description": "",
		"priority":    "",
		"tags":        []any{},
	}
}

// CreateRequest builds a request from the initial field set, fires the
// start -> created transition (which gates creation and seeds the requestor
// list from the caller), and persists it.
func (e *Engine) CreateRequest(ctx context.Context, caller store.Person, initialFields map[string]any) (store.Request, error) {
	p, err := patch.Parse(initialFields)
	if err != nil {
		return store.Request{}, errValidation(err.Error())
	}
	if p.State != "" || p.Comment != nil || len(p.Push) > 0 || len(p.Pull) > 0 || len(p.Set) > 0 {
		return store.Request{}, errValidation("creation accepts plain fields only")
	}

	now := time.Now().UTC()
	req := store.Request{
		ID:           util.NewID("req"),
		State:        workflow.StateStart,
		StateHistory: []store.StateEvent{},
		Comments:     []store.Comment{},
		Attachments:  []store.AttachmentRef{},
		Requestors:   []store.Person{},
		Reviewers:    []store.Person{},
		DeliveryTeam: []store.Person{},
		DateCreated:  now,
		DateUpdated:  now,
		Fields:       defaultFields(),
	}
	if err := patch.Apply(&req, p); err != nil {
		return store.Request{}, errValidation(err.Error())
	}

	if err := e.graph.ApplyTransition(ctx, &req, "created", caller, e.notifyFunc(&req)); err != nil {
		return store.Request{}, e.mapTransitionError(err, workflow.StateStart, "created")
	}

	if err := e.store.PutRequest(ctx, req); err != nil {
		return store.Request{}, errUpstream("request store write", err)
	}
	obs.RecordMutation("create")
	e.index(req)
	return req, nil
}

// GetRequest returns the record if the caller holds a read role. Private
// comments from other authors are filtered out for non-admins.
func (e *Engine) GetRequest(ctx context.Context, caller store.Person, requestID string) (store.Request, error) {
	req, err := e.loadRequest(ctx, requestID)
	if err != nil {
		return store.Request{}, err
	}
	if err := e.authorizeRead(ctx, &req, caller); err != nil {
		return store.Request{}, err
	}
	if !e.isAdmin(ctx, caller) {
		visible := make([]store.Comment, 0, len(req.Comments))
		for _, comment := range req.Comments {
			if comment.Private && !sameEmail(comment.User.Email, caller.Email) {
				continue
			}
			visible = append(visible, comment)
		}
		req.Comments = visible
	}
	return req, nil
}

// ListRequests returns the requests the caller may read.
func (e *Engine) ListRequests(ctx context.Context, caller store.Person, state string, limit int) ([]store.Request, error) {
	items, err := e.store.QueryRequests(ctx, state, limit)
	if err != nil {
		return nil, errUpstream("request store query", err)
	}
	admin := e.isAdmin(ctx, caller)
	readable := make([]store.Request, 0, len(items))
	for _, item := range items {
		if !admin && !e.resolver.ResolveAny(ctx, e.readRoles(&item), caller, &item) {
			continue
		}
		readable = append(readable, item)
	}
	return readable, nil
}

// AvailableTransitions lists the target states the caller may move the
// request to from its current state.
func (e *Engine) AvailableTransitions(ctx context.Context, caller store.Person, requestID string) ([]string, error) {
	req, err := e.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := e.authorizeRead(ctx, &req, caller); err != nil {
		return nil, err
	}
	return e.graph.Available(ctx, &req, caller), nil
}

// UpdateRequest applies a partial patch: field replacement first, then the
// comment append, then the state transition, so an entry hook sees the
// already-updated fields and the new comment. The mutation persists as a
// single store write or not at all.
func (e *Engine) UpdateRequest(ctx context.Context, caller store.Person, requestID string, rawPatch map[string]any) (store.Request, error) {
	req, err := e.loadRequest(ctx, requestID)
	if err != nil {
		return store.Request{}, err
	}
	p, err := patch.Parse(rawPatch)
	if err != nil {
		return store.Request{}, errValidation(err.Error())
	}
	if p.Empty() {
		return store.Request{}, errValidation("empty patch")
	}
	if err := e.authorizeWrite(ctx, &req, caller); err != nil {
		return store.Request{}, err
	}

	working := req.Clone()
	if err := patch.Apply(&working, p); err != nil {
		return store.Request{}, errValidation(err.Error())
	}
	if p.Comment != nil {
		appendComment(&working, caller, *p.Comment)
	}
	if p.State != "" {
		if err := e.graph.ApplyTransition(ctx, &working, p.State, caller, e.notifyFunc(&working)); err != nil {
			return store.Request{}, e.mapTransitionError(err, req.State, p.State)
		}
		obs.RecordTransition(req.State, p.State)
	}

	working.DateUpdated = time.Now().UTC()
	if err := e.store.PutRequest(ctx, working); err != nil {
		return store.Request{}, errUpstream("request store write", err)
	}
	obs.RecordMutation("update")
	e.index(working)
	return working, nil
}

// DeleteRequest removes the record and its attachment blobs. Admin only.
func (e *Engine) DeleteRequest(ctx context.Context, caller store.Person, requestID string) error {
	req, err := e.loadRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if !e.isAdmin(ctx, caller) {
		return errAccessDenied("only administrators may delete requests")
	}

	for _, ref := range req.Attachments {
		if err := e.blobs.Delete(ctx, ref.Hash); err != nil {
			log.Printf("engine: delete blob %s for %s: %v", ref.Hash, requestID, err)
		}
	}
	if err := e.store.DeleteRequest(ctx, requestID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("request " + requestID)
		}
		return errUpstream("request store delete", err)
	}
	obs.RecordMutation("delete")
	if e.indexer != nil {
		e.indexer.RemoveRequest(requestID)
	}
	return nil
}

// CloneRequest creates a new request from the source's field set, with a
// provenance comment linking back to the source.
func (e *Engine) CloneRequest(ctx context.Context, caller store.Person, sourceID string) (store.Request, error) {
	return e.copyFrom(ctx, caller, sourceID, nil, true)
}

// CopyRequest is a clone without provenance, with caller-supplied field
// overrides layered on top of the source's fields.
func (e *Engine) CopyRequest(ctx context.Context, caller store.Person, sourceID string, overrides map[string]any) (store.Request, error) {
	return e.copyFrom(ctx, caller, sourceID, overrides, false)
}

func (e *Engine) copyFrom(ctx context.Context, caller store.Person, sourceID string, overrides map[string]any, provenance bool) (store.Request, error) {
	src, err := e.loadRequest(ctx, sourceID)
	if err != nil {
		return store.Request{}, err
	}
	if err := e.authorizeRead(ctx, &src, caller); err != nil {
		return store.Request{}, err
	}

	// Identity, history, comments and attachments stay behind; only the
	// domain field set and the role lists carry over.
	fields := make(map[string]any, len(src.Fields)+3)
	for key, value := range src.Fields {
		fields[key] = value
	}
	fields["requestors"] = personsToAny(src.Requestors)
	fields["reviewers"] = personsToAny(src.Reviewers)
	fields["deliveryTeam"] = personsToAny(src.DeliveryTeam)
	for key, value := range overrides {
		fields[key] = value
	}

	created, err := e.CreateRequest(ctx, caller, fields)
	if err != nil {
		return store.Request{}, err
	}
	if !provenance {
		return created, nil
	}
	return e.AddComment(ctx, caller, created.ID, patch.CommentInput{
		Topic: "clone",
		Text:  fmt.Sprintf("Cloned from request %s.", sourceID),
	})
}

func personsToAny(people []store.Person) []any {
	out := make([]any, 0, len(people))
	for _, person := range people {
		out = append(out, person)
	}
	return out
}

func (e *Engine) mapTransitionError(err error, from, to string) error {
	switch {
	case errors.Is(err, workflow.ErrIllegalTransition):
		return errIllegalTransition(from, to)
	case errors.Is(err, workflow.ErrAccessDenied):
		return errAccessDenied(err.Error())
	default:
		var domainErr *DomainError
		if errors.As(err, &domainErr) {
			return domainErr
		}
		return errUpstream("state transition", err)
	}
}
