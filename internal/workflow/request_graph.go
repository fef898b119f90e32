package workflow

import (
	"context"
	"fmt"

	"caseflow/api/internal/roles"
	"caseflow/api/internal/store"
)

// Role names used by the default request graph.
const (
	RoleRequestor     = "Requestor"
	RoleReviewer      = "Reviewer"
	RoleDeliveryTeam  = "DeliveryTeam"
	RoleAdministrator = "Administrator"
	RoleUser          = "User"
)

// StateStart is the pseudo-state that gates creation; it has no roles of
// its own and no request ever rests in it.
const StateStart = "start"

// DefaultDefinitions binds the graph's role names: Administrator and User
// to directory groups, the rest to person lists on the request.
func DefaultDefinitions(adminGroup, userGroup string) []roles.Definition {
	return []roles.Definition{
		roles.StaticGroup{Role: RoleAdministrator, Group: adminGroup},
		roles.StaticGroup{Role: RoleUser, Group: userGroup},
		roles.RequestRelative{Role: RoleRequestor, Select: func(req *store.Request) []store.Person {
			return req.Requestors
		}},
		roles.RequestRelative{Role: RoleReviewer, Select: func(req *store.Request) []store.Person {
			return req.Reviewers
		}},
		roles.RequestRelative{Role: RoleDeliveryTeam, Select: func(req *store.Request) []store.Person {
			return req.DeliveryTeam
		}},
	}
}

// DefaultGraph is the delivery-request state graph:
//
//	start -> created -> submitted -> review -> approved -> inProgress -> delivered -> closed
//	                                        -> denied -> created
//	(non-terminal states may also be cancelled by the requestor)
func DefaultGraph(resolver *roles.Resolver) (*Graph, error) {
	states := map[string]StateDefinition{
		StateStart: {
			Label: "Start",
			Next: map[string]Transition{
				"created": {Groups: []string{RoleUser}, Label: "Create"},
			},
		},
		"created": {
			Label:       "Created",
			Description: "Draft request, editable by its requestors.",
			Read:        []string{RoleRequestor, RoleAdministrator},
			Write:       []string{RoleRequestor},
			Entry:       HookFunc(enterCreated),
			Next: map[string]Transition{
				"submitted": {Groups: []string{RoleRequestor}, Label: "Submit"},
				"cancelled": {Groups: []string{RoleRequestor}, Label: "Cancel"},
			},
		},
		"submitted": {
			Label:       "Submitted",
			Description: "Waiting for triage.",
			Read:        []string{RoleRequestor, RoleAdministrator},
			Write:       []string{RoleRequestor},
			Entry:       HookFunc(enterSubmitted),
			Next: map[string]Transition{
				"review":    {Groups: []string{RoleAdministrator, RoleReviewer}, Label: "Start review"},
				"created":   {Groups: []string{RoleRequestor}, Label: "Return to draft"},
				"cancelled": {Groups: []string{RoleRequestor}, Label: "Cancel"},
			},
		},
		"review": {
			Label:       "In Review",
			Description: "Under review by the assigned reviewers.",
			Read:        []string{RoleRequestor, RoleReviewer, RoleAdministrator},
			Write:       []string{RoleReviewer},
			Entry:       HookFunc(enterReview),
			Next: map[string]Transition{
				"approved":  {Groups: []string{RoleReviewer, RoleAdministrator}, Label: "Approve"},
				"denied":    {Groups: []string{RoleReviewer, RoleAdministrator}, Label: "Deny"},
				"cancelled": {Groups: []string{RoleRequestor}, Label: "Cancel"},
			},
		},
		"approved": {
			Label:       "Approved",
			Description: "Approved and waiting for delivery to begin.",
			Read:        []string{RoleRequestor, RoleReviewer, RoleDeliveryTeam, RoleAdministrator},
			Write:       []string{RoleDeliveryTeam},
			Entry:       HookFunc(enterApproved),
			Next: map[string]Transition{
				"inProgress": {Groups: []string{RoleDeliveryTeam, RoleAdministrator}, Label: "Start work"},
				"cancelled":  {Groups: []string{RoleRequestor}, Label: "Cancel"},
			},
		},
		"denied": {
			Label:       "Denied",
			Description: "Rejected by review; may be reworked and resubmitted.",
			Read:        []string{RoleRequestor, RoleReviewer, RoleAdministrator},
			Write:       []string{RoleRequestor},
			Entry:       HookFunc(enterDenied),
			Next: map[string]Transition{
				"created": {Groups: []string{RoleRequestor}, Label: "Rework"},
			},
		},
		"inProgress": {
			Label:       "In Progress",
			Description: "Delivery team is working the request.",
			Read:        []string{RoleRequestor, RoleDeliveryTeam, RoleAdministrator},
			Write:       []string{RoleDeliveryTeam},
			Next: map[string]Transition{
				"delivered": {Groups: []string{RoleDeliveryTeam}, Label: "Deliver"},
			},
		},
		"delivered": {
			Label:       "Delivered",
			Description: "Delivered, awaiting requestor confirmation.",
			Read:        []string{RoleRequestor, RoleDeliveryTeam, RoleAdministrator},
			Write:       []string{RoleRequestor},
			Entry:       HookFunc(enterDelivered),
			Next: map[string]Transition{
				"closed": {Groups: []string{RoleRequestor, RoleAdministrator}, Label: "Close"},
			},
		},
		"closed": {
			Label:       "Closed",
			Description: "Completed.",
			Read:        []string{RoleRequestor, RoleAdministrator},
			Write:       []string{},
			Next:        map[string]Transition{},
		},
		"cancelled": {
			Label:       "Cancelled",
			Description: "Withdrawn by the requestor.",
			Read:        []string{RoleRequestor, RoleAdministrator},
			Write:       []string{},
			Next:        map[string]Transition{},
		},
	}
	return NewGraph(states, resolver)
}

// enterCreated seeds the requestor list from the caller on first entry, so
// a request created with no explicit requestors is owned by its creator.
func enterCreated(_ context.Context, hc *HookContext) ([]string, error) {
	if len(hc.Request.Requestors) == 0 {
		owner := hc.Caller.Snapshot()
		hc.Request.Requestors = []store.Person{{
			Name:       owner.Name,
			Email:      owner.Email,
			Title:      owner.Title,
			Department: owner.Department,
			Owner:      true,
		}}
	}
	return nil, nil
}

func enterSubmitted(_ context.Context, hc *HookContext) ([]string, error) {
	if !hc.CheckRole(RoleRequestor) {
		return nil, fmt.Errorf("%w: only a requestor may submit", ErrAccessDenied)
	}
	title, _ := hc.Request.Fields["title"].(string)
	hc.Notify([]string{RoleAdministrator}, "Request submitted",
		fmt.Sprintf("Request %s (%s) was submitted by %s.", hc.Request.ID, title, hc.Caller.Email))
	return nil, nil
}

func enterReview(_ context.Context, hc *HookContext) ([]string, error) {
	hc.Notify([]string{RoleReviewer}, "Request ready for review",
		fmt.Sprintf("Request %s is ready for review.", hc.Request.ID))
	return nil, nil
}

func enterApproved(_ context.Context, hc *HookContext) ([]string, error) {
	hc.Notify([]string{RoleRequestor, RoleDeliveryTeam}, "Request approved",
		fmt.Sprintf("Request %s was approved by %s.", hc.Request.ID, hc.Caller.Email))
	return []string{RoleDeliveryTeam}, nil
}

func enterDenied(_ context.Context, hc *HookContext) ([]string, error) {
	hc.Notify([]string{RoleRequestor}, "Request denied",
		fmt.Sprintf("Request %s was denied by %s. See comments for rationale.", hc.Request.ID, hc.Caller.Email))
	return nil, nil
}

func enterDelivered(_ context.Context, hc *HookContext) ([]string, error) {
	hc.Notify([]string{RoleRequestor}, "Request delivered",
		fmt.Sprintf("Request %s was marked delivered by %s.", hc.Request.ID, hc.Caller.Email))
	return nil, nil
}
