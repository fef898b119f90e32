package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestGetRequestDecodesDoc(t *testing.T) {
	s, mock := newMockStore(t)

	want := Request{
		ID:    "req_1",
		State: "created",
		StateHistory: []StateEvent{
			{State: "created", Date: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), Email: "alice@x.com"},
		},
		Requestors: []Person{{Name: "Alice", Email: "alice@x.com", Owner: true}},
	}
	doc, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	mock.ExpectQuery(`SELECT doc FROM requests WHERE id=\$1`).
		WithArgs("req_1").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(doc))

	got, err := s.GetRequest(context.Background(), "req_1")
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if got.ID != want.ID || got.State != want.State {
		t.Fatalf("got %q/%q, want %q/%q", got.ID, got.State, want.ID, want.State)
	}
	if len(got.StateHistory) != 1 || got.StateHistory[0].Email != "alice@x.com" {
		t.Fatalf("state history not decoded: %+v", got.StateHistory)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetRequestMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT doc FROM requests WHERE id=\$1`).
		WithArgs("req_missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetRequest(context.Background(), "req_missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestPutRequestUpserts(t *testing.T) {
	s, mock := newMockStore(t)

	item := Request{
		ID:          "req_2",
		State:       "submitted",
		DateCreated: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
		DateUpdated: time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
	}
	mock.ExpectExec(`INSERT INTO requests`).
		WithArgs(item.ID, item.State, item.DateCreated, item.DateUpdated, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.PutRequest(context.Background(), item); err != nil {
		t.Fatalf("PutRequest: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteRequestNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM requests WHERE id=\$1`).
		WithArgs("req_gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteRequest(context.Background(), "req_gone")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestQueryRequestsFiltersByState(t *testing.T) {
	s, mock := newMockStore(t)

	doc, _ := json.Marshal(Request{ID: "req_3", State: "review"})
	mock.ExpectQuery(`SELECT doc FROM requests WHERE state=\$1`).
		WithArgs("review", 50).
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(doc))

	items, err := s.QueryRequests(context.Background(), "review", 0)
	if err != nil {
		t.Fatalf("QueryRequests: %v", err)
	}
	if len(items) != 1 || items[0].ID != "req_3" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestGroupsForMember(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT group_name FROM group_memberships`).
		WithArgs("bob@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"group_name"}).AddRow("reviewers").AddRow("users"))

	groups, err := s.GroupsForMember(context.Background(), "bob@x.com")
	if err != nil {
		t.Fatalf("GroupsForMember: %v", err)
	}
	if len(groups) != 2 || groups[0] != "reviewers" {
		t.Fatalf("unexpected groups: %v", groups)
	}
}

func TestLookupProfile(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT name, email, title, department`).
		WithArgs("alice@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"name", "email", "title", "department"}).
			AddRow("Alice", "alice@x.com", "Engineer", "Platform"))

	person, err := s.LookupProfile(context.Background(), "alice@x.com")
	if err != nil {
		t.Fatalf("LookupProfile: %v", err)
	}
	if person.Name != "Alice" || person.Department != "Platform" {
		t.Fatalf("unexpected person: %+v", person)
	}
}
