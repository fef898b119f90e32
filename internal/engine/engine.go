// Package engine is the document workflow engine: it owns request
// persistence, authorizes every mutation against the current state's role
// sets, routes state changes through the graph, and manages the comment and
// attachment sub-records. It is request-scoped and stateless between calls:
// load, transform in memory, write back in one store call.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"

	"caseflow/api/internal/obs"
	"caseflow/api/internal/roles"
	"caseflow/api/internal/store"
	"caseflow/api/internal/workflow"
)

// RequestStore is the authoritative document store, atomic per call.
type RequestStore interface {
	GetRequest(ctx context.Context, id string) (store.Request, error)
	PutRequest(ctx context.Context, item store.Request) error
	DeleteRequest(ctx context.Context, id string) error
	QueryRequests(ctx context.Context, state string, limit int) ([]store.Request, error)
}

// Directory resolves a bare email or id into a profile snapshot.
type Directory interface {
	LookupProfile(ctx context.Context, emailOrID string) (store.Person, error)
}

// Notifier delivers messages; failures are logged, never fatal.
type Notifier interface {
	Notify(ctx context.Context, to []string, subject, message string) error
}

// BlobStore holds attachment content, keyed by content digest.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Indexer mirrors requests into the search index, fire-and-forget.
type Indexer interface {
	IndexRequest(item store.Request)
	RemoveRequest(id string)
}

type Engine struct {
	store     RequestStore
	directory Directory
	groups    roles.GroupDirectory
	resolver  *roles.Resolver
	graph     *workflow.Graph
	notifier  Notifier
	blobs     BlobStore
	indexer   Indexer
}

func New(requests RequestStore, directory Directory, groups roles.GroupDirectory, resolver *roles.Resolver, graph *workflow.Graph, notifier Notifier, blobs BlobStore, indexer Indexer) *Engine {
	return &Engine{
		store:     requests,
		directory: directory,
		groups:    groups,
		resolver:  resolver,
		graph:     graph,
		notifier:  notifier,
		blobs:     blobs,
		indexer:   indexer,
	}
}

// ResolveCaller turns the transport-level caller email into a Person
// snapshot. A missing directory entry degrades to a bare email identity:
// directory lookups are a non-critical collaborator.
func (e *Engine) ResolveCaller(ctx context.Context, email string) store.Person {
	email = strings.TrimSpace(email)
	if email == "" {
		return store.Person{}
	}
	person, err := e.directory.LookupProfile(ctx, email)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("engine: profile lookup %s: %v", email, err)
		}
		return store.Person{Email: email}
	}
	return person
}

func (e *Engine) loadRequest(ctx context.Context, requestID string) (store.Request, error) {
	item, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Request{}, errNotFound("request " + requestID)
		}
		return store.Request{}, errUpstream("request store read", err)
	}
	return item, nil
}

// readRoles is the effective read-role set: the graph's static lookup for
// the current state plus the cached hook-derived roles. The cached columns
// alone are never trusted for an authorization decision.
func (e *Engine) readRoles(req *store.Request) []string {
	return append(e.graph.ReadRoles(req.State), req.CurStateRead...)
}

func (e *Engine) writeRoles(req *store.Request) []string {
	return append(e.graph.WriteRoles(req.State), req.CurStateWrite...)
}

func (e *Engine) authorizeRead(ctx context.Context, req *store.Request, caller store.Person) error {
	if e.resolver.ResolveAny(ctx, e.readRoles(req), caller, req) {
		return nil
	}
	return errAccessDenied("no read access to request " + req.ID)
}

func (e *Engine) authorizeWrite(ctx context.Context, req *store.Request, caller store.Person) error {
	if e.resolver.ResolveAny(ctx, e.writeRoles(req), caller, req) {
		return nil
	}
	return errAccessDenied("no write access to request " + req.ID)
}

// CanRead reports whether the caller may read the request. Unknown
// requests read false.
func (e *Engine) CanRead(ctx context.Context, caller store.Person, requestID string) bool {
	req, err := e.loadRequest(ctx, requestID)
	if err != nil {
		return false
	}
	return e.authorizeRead(ctx, &req, caller) == nil
}

// sameEmail compares caller identities the way role resolution does.
func sameEmail(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}

func (e *Engine) isAdmin(ctx context.Context, caller store.Person) bool {
	admin, err := e.groups.IsAdmin(ctx, caller.Email)
	if err != nil {
		log.Printf("engine: admin check %s: %v", caller.Email, err)
		return false
	}
	return admin
}

// notifyFunc adapts the notifier to the graph's role-addressed contract:
// role names fan out to member emails, deduplicated, and delivery failure
// is logged only.
func (e *Engine) notifyFunc(req *store.Request) workflow.NotifyFunc {
	return func(ctx context.Context, roleNames []string, subject, message string) {
		e.notifyRoles(ctx, req, roleNames, subject, message)
	}
}

func (e *Engine) notifyRoles(ctx context.Context, req *store.Request, roleNames []string, subject, message string) {
	seen := make(map[string]struct{})
	to := make([]string, 0)
	for _, roleName := range roleNames {
		for _, member := range e.resolver.RoleMembers(ctx, roleName, req) {
			email := strings.ToLower(strings.TrimSpace(member.Email))
			if email == "" {
				continue
			}
			if _, ok := seen[email]; ok {
				continue
			}
			seen[email] = struct{}{}
			to = append(to, member.Email)
		}
	}
	if len(to) == 0 || e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, to, subject, message); err != nil {
		log.Printf("engine: notify %v for %s: %v", roleNames, req.ID, err)
		obs.RecordNotification("error")
		return
	}
	obs.RecordNotification("sent")
}

func (e *Engine) index(item store.Request) {
	if e.indexer != nil {
		e.indexer.IndexRequest(item)
	}
}
