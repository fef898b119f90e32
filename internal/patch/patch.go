// Package patch parses the partial-update wire payload into explicit
// operations and applies them to an in-memory request. The wire shape mixes
// plain field replacement with $push/$pull/$set operators plus optional
// comment and state sub-patches; parsing resolves that into a tagged set of
// ops before anything touches the record.
package patch

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"caseflow/api/internal/store"
)

type CommentInput struct {
	Topic    string `json:"topic"`
	Text     string `json:"text"`
	Private  bool   `json:"private,omitempty"`
	Approved string `json:"approved,omitempty"`
}

// PushOp appends values to a list field, order preserved.
type PushOp struct {
	Field  string
	Values []any
}

// PullOp removes list elements matching the predicate. A map predicate
// matches elements whose fields equal every key; anything else matches by
// equality.
type PullOp struct {
	Field string
	Match any
}

// SetOp replaces a whole field, or one list element addressed as
// "field.index".
type SetOp struct {
	Path  string
	Value any
}

type Patch struct {
	Fields  map[string]any
	Push    []PushOp
	Pull    []PullOp
	Set     []SetOp
	State   string
	Comment *CommentInput
}

func (p Patch) Empty() bool {
	return len(p.Fields) == 0 && len(p.Push) == 0 && len(p.Pull) == 0 &&
		len(p.Set) == 0 && p.State == "" && p.Comment == nil
}

// Fields owned by the engine; a patch may never write them directly.
var reservedFields = map[string]struct{}{
	"id":            {},
	"stateHistory":  {},
	"comments":      {},
	"attachments":   {},
	"curStateRead":  {},
	"curStateWrite": {},
	"dateCreated":   {},
	"dateUpdated":   {},
}

var personListFields = map[string]struct{}{
	"requestors":   {},
	"reviewers":    {},
	"deliveryTeam": {},
}

// Parse resolves the untyped wire payload into explicit operations.
func Parse(raw map[string]any) (Patch, error) {
	var p Patch
	for key, value := range raw {
		switch key {
		case "$push":
			ops, err := parsePush(value)
			if err != nil {
				return Patch{}, err
			}
			p.Push = append(p.Push, ops...)
		case "$pull":
			ops, err := parsePull(value)
			if err != nil {
				return Patch{}, err
			}
			p.Pull = append(p.Pull, ops...)
		case "$set":
			ops, err := parseSet(value)
			if err != nil {
				return Patch{}, err
			}
			p.Set = append(p.Set, ops...)
		case "state":
			state, ok := value.(string)
			if !ok || strings.TrimSpace(state) == "" {
				return Patch{}, fmt.Errorf("state must be a non-empty string")
			}
			p.State = state
		case "comment":
			comment, err := parseComment(value)
			if err != nil {
				return Patch{}, err
			}
			p.Comment = comment
		default:
			if _, reserved := reservedFields[key]; reserved {
				return Patch{}, fmt.Errorf("field %q is engine-owned and cannot be patched", key)
			}
			if p.Fields == nil {
				p.Fields = make(map[string]any)
			}
			p.Fields[key] = value
		}
	}
	return p, nil
}

func parsePush(value any) ([]PushOp, error) {
	fields, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("$push must be an object of field -> value")
	}
	ops := make([]PushOp, 0, len(fields))
	for field, v := range fields {
		if err := checkListField(field); err != nil {
			return nil, err
		}
		op := PushOp{Field: field}
		if each, ok := v.(map[string]any); ok {
			items, hasEach := each["$each"]
			if !hasEach {
				op.Values = []any{v}
			} else {
				list, ok := items.([]any)
				if !ok {
					return nil, fmt.Errorf("$push %s $each must be a list", field)
				}
				op.Values = list
			}
		} else {
			op.Values = []any{v}
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func parsePull(value any) ([]PullOp, error) {
	fields, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("$pull must be an object of field -> predicate")
	}
	ops := make([]PullOp, 0, len(fields))
	for field, predicate := range fields {
		if err := checkListField(field); err != nil {
			return nil, err
		}
		ops = append(ops, PullOp{Field: field, Match: predicate})
	}
	return ops, nil
}

func parseSet(value any) ([]SetOp, error) {
	paths, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("$set must be an object of path -> value")
	}
	ops := make([]SetOp, 0, len(paths))
	for path, v := range paths {
		field, _, _ := strings.Cut(path, ".")
		if _, reserved := reservedFields[field]; reserved {
			return nil, fmt.Errorf("field %q is engine-owned and cannot be patched", field)
		}
		ops = append(ops, SetOp{Path: path, Value: v})
	}
	return ops, nil
}

func parseComment(value any) (*CommentInput, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("comment: %w", err)
	}
	var comment CommentInput
	if err := json.Unmarshal(encoded, &comment); err != nil {
		return nil, fmt.Errorf("comment must be an object: %w", err)
	}
	if strings.TrimSpace(comment.Text) == "" {
		return nil, fmt.Errorf("comment text is required")
	}
	return &comment, nil
}

func checkListField(field string) error {
	if _, reserved := reservedFields[field]; reserved {
		return fmt.Errorf("field %q is engine-owned and cannot be patched", field)
	}
	return nil
}

// Apply runs the field replacement and list operators against the request,
// in the order: plain fields, $push, $pull, $set. Comment and state
// sub-patches are the engine's job.
func Apply(req *store.Request, p Patch) error {
	for field, value := range p.Fields {
		if err := replaceField(req, field, value); err != nil {
			return err
		}
	}
	for _, op := range p.Push {
		if err := applyPush(req, op); err != nil {
			return err
		}
	}
	for _, op := range p.Pull {
		if err := applyPull(req, op); err != nil {
			return err
		}
	}
	for _, op := range p.Set {
		if err := applySet(req, op); err != nil {
			return err
		}
	}
	return nil
}

func replaceField(req *store.Request, field string, value any) error {
	if _, isPersonList := personListFields[field]; isPersonList {
		people, err := toPersons(value)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		setPersonList(req, field, people)
		return nil
	}
	if req.Fields == nil {
		req.Fields = make(map[string]any)
	}
	req.Fields[field] = value
	return nil
}

func applyPush(req *store.Request, op PushOp) error {
	if _, isPersonList := personListFields[op.Field]; isPersonList {
		existing := personList(req, op.Field)
		for _, v := range op.Values {
			person, err := toPerson(v)
			if err != nil {
				return fmt.Errorf("%s: %w", op.Field, err)
			}
			existing = append(existing, person)
		}
		setPersonList(req, op.Field, existing)
		return nil
	}
	if req.Fields == nil {
		req.Fields = make(map[string]any)
	}
	current, _ := req.Fields[op.Field].([]any)
	req.Fields[op.Field] = append(current, op.Values...)
	return nil
}

func applyPull(req *store.Request, op PullOp) error {
	if _, isPersonList := personListFields[op.Field]; isPersonList {
		existing := personList(req, op.Field)
		kept := existing[:0]
		for _, person := range existing {
			if !matches(person, op.Match) {
				kept = append(kept, person)
			}
		}
		setPersonList(req, op.Field, append([]store.Person(nil), kept...))
		return nil
	}
	current, ok := req.Fields[op.Field].([]any)
	if !ok {
		return nil
	}
	kept := make([]any, 0, len(current))
	for _, elem := range current {
		if !matches(elem, op.Match) {
			kept = append(kept, elem)
		}
	}
	req.Fields[op.Field] = kept
	return nil
}

func applySet(req *store.Request, op SetOp) error {
	field, indexPart, hasIndex := strings.Cut(op.Path, ".")
	if !hasIndex {
		return replaceField(req, field, op.Value)
	}
	index, err := strconv.Atoi(indexPart)
	if err != nil || index < 0 {
		return fmt.Errorf("$set path %q: index must be a non-negative integer", op.Path)
	}
	if _, isPersonList := personListFields[field]; isPersonList {
		existing := personList(req, field)
		if index >= len(existing) {
			return fmt.Errorf("$set path %q: index out of range", op.Path)
		}
		person, err := toPerson(op.Value)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		existing[index] = person
		return nil
	}
	current, ok := req.Fields[field].([]any)
	if !ok || index >= len(current) {
		return fmt.Errorf("$set path %q: index out of range", op.Path)
	}
	current[index] = op.Value
	return nil
}

func personList(req *store.Request, field string) []store.Person {
	switch field {
	case "requestors":
		return req.Requestors
	case "reviewers":
		return req.Reviewers
	case "deliveryTeam":
		return req.DeliveryTeam
	}
	return nil
}

func setPersonList(req *store.Request, field string, people []store.Person) {
	switch field {
	case "requestors":
		req.Requestors = people
	case "reviewers":
		req.Reviewers = people
	case "deliveryTeam":
		req.DeliveryTeam = people
	}
}

func toPerson(value any) (store.Person, error) {
	if person, ok := value.(store.Person); ok {
		return person, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return store.Person{}, fmt.Errorf("invalid person: %w", err)
	}
	var person store.Person
	if err := json.Unmarshal(encoded, &person); err != nil {
		return store.Person{}, fmt.Errorf("invalid person: %w", err)
	}
	if person.Email == "" {
		return store.Person{}, fmt.Errorf("person requires an email")
	}
	return person, nil
}

func toPersons(value any) ([]store.Person, error) {
	list, ok := value.([]any)
	if !ok {
		if typed, ok := value.([]store.Person); ok {
			return typed, nil
		}
		return nil, fmt.Errorf("expected a list of persons")
	}
	people := make([]store.Person, 0, len(list))
	for _, v := range list {
		person, err := toPerson(v)
		if err != nil {
			return nil, err
		}
		people = append(people, person)
	}
	return people, nil
}

// matches compares a list element against a pull predicate. Both sides are
// normalized through JSON so typed and untyped elements compare alike.
func matches(elem, predicate any) bool {
	normalized := normalize(elem)
	if fields, ok := normalize(predicate).(map[string]any); ok {
		elemFields, ok := normalized.(map[string]any)
		if !ok {
			return false
		}
		for key, want := range fields {
			if !reflect.DeepEqual(elemFields[key], want) {
				return false
			}
		}
		return len(fields) > 0
	}
	return reflect.DeepEqual(normalized, normalize(predicate))
}

func normalize(value any) any {
	encoded, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return value
	}
	return out
}
