package engine

import (
	"context"
	"time"

	"caseflow/api/internal/obs"
	"caseflow/api/internal/patch"
	"caseflow/api/internal/store"
	"caseflow/api/internal/util"
)

// CommentPatch is a partial edit of an existing comment. Nil pointers leave
// the field alone. Only a text change counts as an edit for history
// purposes.
type CommentPatch struct {
	Topic    *string `json:"topic"`
	Text     *string `json:"text"`
	Private  *bool   `json:"private"`
	Approved *string `json:"approved"`
}

func appendComment(req *store.Request, caller store.Person, input patch.CommentInput) store.Comment {
	comment := store.Comment{
		ID:       util.NewID("cmt"),
		User:     caller.Snapshot(),
		Topic:    input.Topic,
		Text:     input.Text,
		Date:     time.Now().UTC(),
		Approved: input.Approved,
		Private:  input.Private,
	}
	req.Comments = append(req.Comments, comment)
	return comment
}

// AddComment appends a comment authored by the caller and persists the
// request.
func (e *Engine) AddComment(ctx context.Context, caller store.Person, requestID string, input patch.CommentInput) (store.Request, error) {
	req, err := e.loadRequest(ctx, requestID)
	if err != nil {
		return store.Request{}, err
	}
	if err := e.authorizeWrite(ctx, &req, caller); err != nil {
		return store.Request{}, err
	}
	if input.Text == "" {
		return store.Request{}, errValidation("comment text is required")
	}

	working := req.Clone()
	appendComment(&working, caller, input)
	working.DateUpdated = time.Now().UTC()
	if err := e.store.PutRequest(ctx, working); err != nil {
		return store.Request{}, errUpstream("request store write", err)
	}
	obs.RecordMutation("comment")
	e.index(working)
	return working, nil
}

// GetComment returns a single comment. Private comments are visible only to
// their author and administrators.
func (e *Engine) GetComment(ctx context.Context, caller store.Person, requestID, commentID string) (store.Comment, error) {
	req, err := e.loadRequest(ctx, requestID)
	if err != nil {
		return store.Comment{}, err
	}
	if err := e.authorizeRead(ctx, &req, caller); err != nil {
		return store.Comment{}, err
	}
	for _, comment := range req.Comments {
		if comment.ID != commentID {
			continue
		}
		if comment.Private && !sameEmail(comment.User.Email, caller.Email) && !e.isAdmin(ctx, caller) {
			return store.Comment{}, errNotFound("comment " + commentID)
		}
		return comment, nil
	}
	return store.Comment{}, errNotFound("comment " + commentID)
}

// UpdateComment applies a partial edit. When the text changes, the comment's
// prior date and author are pushed onto the edit history before the comment
// is re-stamped with the editor's identity and the current time.
// Metadata-only edits leave date, author and history untouched.
func (e *Engine) UpdateComment(ctx context.Context, caller store.Person, requestID, commentID string, edit CommentPatch) (store.Request, error) {
	req, err := e.loadRequest(ctx, requestID)
	if err != nil {
		return store.Request{}, err
	}
	if err := e.authorizeWrite(ctx, &req, caller); err != nil {
		return store.Request{}, err
	}

	working := req.Clone()
	index := -1
	for i := range working.Comments {
		if working.Comments[i].ID == commentID {
			index = i
			break
		}
	}
	if index < 0 {
		return store.Request{}, errNotFound("comment " + commentID)
	}

	comment := &working.Comments[index]
	if edit.Text != nil && *edit.Text != comment.Text {
		comment.Edited = append(comment.Edited, store.EditRecord{
			Date: comment.Date,
			User: comment.User,
		})
		comment.Text = *edit.Text
		comment.Date = time.Now().UTC()
		comment.User = caller.Snapshot()
	}
	if edit.Topic != nil {
		comment.Topic = *edit.Topic
	}
	if edit.Private != nil {
		comment.Private = *edit.Private
	}
	if edit.Approved != nil {
		comment.Approved = *edit.Approved
	}

	working.DateUpdated = time.Now().UTC()
	if err := e.store.PutRequest(ctx, working); err != nil {
		return store.Request{}, errUpstream("request store write", err)
	}
	obs.RecordMutation("comment")
	e.index(working)
	return working, nil
}

// DeleteComment removes a comment. Only the comment's author or an
// administrator may delete it.
func (e *Engine) DeleteComment(ctx context.Context, caller store.Person, requestID, commentID string) (store.Request, error) {
	req, err := e.loadRequest(ctx, requestID)
	if err != nil {
		return store.Request{}, err
	}
	if err := e.authorizeWrite(ctx, &req, caller); err != nil {
		return store.Request{}, err
	}

	working := req.Clone()
	index := -1
	for i := range working.Comments {
		if working.Comments[i].ID == commentID {
			index = i
			break
		}
	}
	if index < 0 {
		return store.Request{}, errNotFound("comment " + commentID)
	}
	if !sameEmail(working.Comments[index].User.Email, caller.Email) && !e.isAdmin(ctx, caller) {
		return store.Request{}, errAccessDenied("only the comment author or an administrator may delete a comment")
	}

	working.Comments = append(working.Comments[:index], working.Comments[index+1:]...)
	working.DateUpdated = time.Now().UTC()
	if err := e.store.PutRequest(ctx, working); err != nil {
		return store.Request{}, errUpstream("request store write", err)
	}
	obs.RecordMutation("comment")
	e.index(working)
	return working, nil
}
