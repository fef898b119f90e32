package engine

import (
	"context"
	"testing"
	"time"

	"caseflow/api/internal/patch"
	"caseflow/api/internal/store"
)

func strPtr(s string) *string { return &s }

func TestAddComment(t *testing.T) {
	env := newTestEnv(t, nil, draftRequest("alice@x.com"))

	got, err := env.engine.AddComment(context.Background(), alice, "req_test", patch.CommentInput{
		Topic: "question",
		Text:  "When do we need this by?",
	})
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if len(got.Comments) != 1 {
		t.Fatalf("comments = %+v", got.Comments)
	}
	comment := got.Comments[0]
	if comment.ID == "" || comment.Topic != "question" || comment.User.Email != "alice@x.com" {
		t.Fatalf("comment = %+v", comment)
	}
	if comment.User.Owner {
		t.Fatal("comment author snapshot kept membership flags")
	}
	if len(comment.Edited) != 0 {
		t.Fatalf("new comment has edit history: %+v", comment.Edited)
	}
}

func TestAddCommentRequiresText(t *testing.T) {
	env := newTestEnv(t, nil, draftRequest("alice@x.com"))
	_, err := env.engine.AddComment(context.Background(), alice, "req_test", patch.CommentInput{Topic: "t"})
	wantCode(t, err, "VALIDATION_ERROR")
}

func TestUpdateCommentTextPushesEditRecord(t *testing.T) {
	original := store.Comment{
		ID:   "cmt_1",
		User: store.Person{Name: "Alice", Email: "alice@x.com"},
		Text: "first draft",
		Date: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	req := draftRequest("alice@x.com")
	req.Comments = []store.Comment{original}
	env := newTestEnv(t, nil, req)

	got, err := env.engine.UpdateComment(context.Background(), alice, "req_test", "cmt_1", CommentPatch{
		Text: strPtr("second draft"),
	})
	if err != nil {
		t.Fatalf("UpdateComment: %v", err)
	}
	comment := got.Comments[0]
	if comment.Text != "second draft" {
		t.Fatalf("text = %q", comment.Text)
	}
	if len(comment.Edited) != 1 {
		t.Fatalf("edited = %+v", comment.Edited)
	}
	prior := comment.Edited[0]
	if !prior.Date.Equal(original.Date) || prior.User.Email != "alice@x.com" {
		t.Fatalf("edit record = %+v", prior)
	}
	if !comment.Date.After(original.Date) {
		t.Fatal("comment date not re-stamped")
	}
}

func TestUpdateCommentSameTextNoEditRecord(t *testing.T) {
	req := draftRequest("alice@x.com")
	req.Comments = []store.Comment{{ID: "cmt_1", User: store.Person{Email: "alice@x.com"}, Text: "same"}}
	env := newTestEnv(t, nil, req)

	got, err := env.engine.UpdateComment(context.Background(), alice, "req_test", "cmt_1", CommentPatch{
		Text: strPtr("same"),
	})
	if err != nil {
		t.Fatalf("UpdateComment: %v", err)
	}
	if len(got.Comments[0].Edited) != 0 {
		t.Fatalf("edited = %+v", got.Comments[0].Edited)
	}
}

func TestUpdateCommentMetadataOnlyLeavesHistory(t *testing.T) {
	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	req := draftRequest("alice@x.com")
	req.Comments = []store.Comment{{
		ID:   "cmt_1",
		User: store.Person{Name: "Bob", Email: "bob@x.com"},
		Text: "looks good",
		Date: stamp,
	}}
	env := newTestEnv(t, nil, req)

	got, err := env.engine.UpdateComment(context.Background(), alice, "req_test", "cmt_1", CommentPatch{
		Approved: strPtr("yes"),
	})
	if err != nil {
		t.Fatalf("UpdateComment: %v", err)
	}
	comment := got.Comments[0]
	if comment.Approved != "yes" {
		t.Fatalf("approved = %q", comment.Approved)
	}
	if len(comment.Edited) != 0 {
		t.Fatalf("metadata edit appended history: %+v", comment.Edited)
	}
	if !comment.Date.Equal(stamp) || comment.User.Email != "bob@x.com" {
		t.Fatalf("metadata edit re-stamped comment: %+v", comment)
	}
}

func TestUpdateCommentNotFound(t *testing.T) {
	env := newTestEnv(t, nil, draftRequest("alice@x.com"))
	_, err := env.engine.UpdateComment(context.Background(), alice, "req_test", "cmt_missing", CommentPatch{Text: strPtr("x")})
	wantCode(t, err, "NOT_FOUND")
}

func TestDeleteCommentAuthorOrAdmin(t *testing.T) {
	req := draftRequest("alice@x.com")
	req.Requestors = append(req.Requestors, store.Person{Name: "Carol", Email: "carol@x.com"})
	req.Comments = []store.Comment{{ID: "cmt_1", User: store.Person{Email: "alice@x.com"}, Text: "mine"}}
	env := newTestEnv(t, &fakeGroups{admins: map[string]bool{"root@x.com": true}}, req)

	// Carol has write access but is not the author.
	_, err := env.engine.DeleteComment(context.Background(), store.Person{Email: "carol@x.com"}, "req_test", "cmt_1")
	wantCode(t, err, "ACCESS_DENIED")

	got, err := env.engine.DeleteComment(context.Background(), alice, "req_test", "cmt_1")
	if err != nil {
		t.Fatalf("DeleteComment as author: %v", err)
	}
	if len(got.Comments) != 0 {
		t.Fatalf("comments = %+v", got.Comments)
	}

	// Admin may delete someone else's comment.
	req2 := draftRequest("alice@x.com")
	req2.Comments = []store.Comment{{ID: "cmt_2", User: store.Person{Email: "alice@x.com"}, Text: "mine"}}
	env = newTestEnv(t, &fakeGroups{admins: map[string]bool{"root@x.com": true}}, req2)
	if _, err := env.engine.DeleteComment(context.Background(), store.Person{Email: "root@x.com"}, "req_test", "cmt_2"); err != nil {
		t.Fatalf("DeleteComment as admin: %v", err)
	}
}

func TestGetCommentPrivateVisibility(t *testing.T) {
	req := draftRequest("alice@x.com")
	req.Requestors = append(req.Requestors, store.Person{Email: "carol@x.com"})
	req.Comments = []store.Comment{{ID: "cmt_1", User: store.Person{Email: "alice@x.com"}, Text: "secret", Private: true}}
	env := newTestEnv(t, &fakeGroups{admins: map[string]bool{"root@x.com": true}}, req)

	if _, err := env.engine.GetComment(context.Background(), alice, "req_test", "cmt_1"); err != nil {
		t.Fatalf("author should see own private comment: %v", err)
	}
	if _, err := env.engine.GetComment(context.Background(), store.Person{Email: "root@x.com"}, "req_test", "cmt_1"); err != nil {
		t.Fatalf("admin should see private comment: %v", err)
	}
	_, err := env.engine.GetComment(context.Background(), store.Person{Email: "carol@x.com"}, "req_test", "cmt_1")
	wantCode(t, err, "NOT_FOUND")
}

func TestCommentAuthorMatchIgnoresEmailCase(t *testing.T) {
	req := draftRequest("alice@x.com")
	req.Comments = []store.Comment{{ID: "cmt_1", User: store.Person{Email: "alice@x.com"}, Text: "secret", Private: true}}
	env := newTestEnv(t, nil, req)

	// Upstream identity providers do not agree on email casing.
	caller := store.Person{Name: "Alice", Email: "Alice@X.com"}

	if _, err := env.engine.GetComment(context.Background(), caller, "req_test", "cmt_1"); err != nil {
		t.Fatalf("author with differently cased email lost own private comment: %v", err)
	}
	got, err := env.engine.GetRequest(context.Background(), caller, "req_test")
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if len(got.Comments) != 1 {
		t.Fatalf("private comment filtered for its author: %+v", got.Comments)
	}
	if _, err := env.engine.DeleteComment(context.Background(), caller, "req_test", "cmt_1"); err != nil {
		t.Fatalf("author with differently cased email could not delete own comment: %v", err)
	}
}
