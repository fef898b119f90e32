package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PostgresStore is the authoritative request store. The full record is kept
// as a JSONB document; state and timestamps are denormalized into columns
// for filtering only.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetRequest(ctx context.Context, requestID string) (Request, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM requests WHERE id=$1`, requestID).Scan(&doc)
	if err != nil {
		return Request{}, err
	}
	var item Request
	if err := json.Unmarshal(doc, &item); err != nil {
		return Request{}, fmt.Errorf("decode request %s: %w", requestID, err)
	}
	return item, nil
}

func (s *PostgresStore) PutRequest(ctx context.Context, item Request) error {
	doc, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode request %s: %w", item.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO requests (id, state, date_created, date_updated, doc)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET state=EXCLUDED.state, date_updated=EXCLUDED.date_updated, doc=EXCLUDED.doc
	`, item.ID, item.State, item.DateCreated, item.DateUpdated, doc)
	if err != nil {
		return fmt.Errorf("put request %s: %w", item.ID, err)
	}
	return nil
}

func (s *PostgresStore) DeleteRequest(ctx context.Context, requestID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE id=$1`, requestID)
	if err != nil {
		return fmt.Errorf("delete request %s: %w", requestID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete request %s: %w", requestID, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// QueryRequests lists requests, newest first, optionally filtered by state.
func (s *PostgresStore) QueryRequests(ctx context.Context, state string, limit int) ([]Request, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT doc FROM requests ORDER BY date_updated DESC LIMIT $1`
	args := []any{limit}
	if strings.TrimSpace(state) != "" {
		query = `SELECT doc FROM requests WHERE state=$1 ORDER BY date_updated DESC LIMIT $2`
		args = []any{state, limit}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	items := make([]Request, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		var item Request
		if err := json.Unmarshal(doc, &item); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return items, nil
}

// LookupProfile resolves a bare email or user id into a Person snapshot.
func (s *PostgresStore) LookupProfile(ctx context.Context, emailOrID string) (Person, error) {
	var person Person
	err := s.db.QueryRowContext(ctx, `
		SELECT name, email, title, department
		FROM users
		WHERE email=$1 OR id=$1
	`, emailOrID).Scan(&person.Name, &person.Email, &person.Title, &person.Department)
	if err != nil {
		return Person{}, err
	}
	return person, nil
}

// GroupsForMember returns the names of every group the email belongs to.
func (s *PostgresStore) GroupsForMember(ctx context.Context, email string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_name FROM group_memberships WHERE email=$1 ORDER BY group_name
	`, email)
	if err != nil {
		return nil, fmt.Errorf("groups for member: %w", err)
	}
	defer rows.Close()

	groups := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return groups, nil
}

// GroupMembers returns profile snapshots for every member of a group.
func (s *PostgresStore) GroupMembers(ctx context.Context, groupName string) ([]Person, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.name, u.email, u.title, u.department
		FROM group_memberships gm
		JOIN users u ON u.email = gm.email
		WHERE gm.group_name=$1
		ORDER BY u.email
	`, groupName)
	if err != nil {
		return nil, fmt.Errorf("group members: %w", err)
	}
	defer rows.Close()

	members := make([]Person, 0)
	for rows.Next() {
		var person Person
		if err := rows.Scan(&person.Name, &person.Email, &person.Title, &person.Department); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, person)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// SearchRequests is the postgres fallback used when Meilisearch is down.
// It matches the query against the title and description fields in the doc.
func (s *PostgresStore) SearchRequests(ctx context.Context, query, state string, limit int) ([]Request, error) {
	items, err := s.QueryRequests(ctx, state, limit)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return items, nil
	}
	matched := make([]Request, 0, len(items))
	for _, item := range items {
		title, _ := item.Fields["title"].(string)
		description, _ := item.Fields["description"].(string)
		if strings.Contains(strings.ToLower(title), needle) || strings.Contains(strings.ToLower(description), needle) {
			matched = append(matched, item)
		}
	}
	return matched, nil
}
