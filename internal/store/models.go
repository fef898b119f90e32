package store

import "time"

// Person is a membership snapshot embedded in a request. It is copied from
// the directory at add-time and stays stale until explicitly re-synced.
type Person struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Title      string `json:"title,omitempty"`
	Department string `json:"department,omitempty"`
	Owner      bool   `json:"owner,omitempty"`
	Requested  bool   `json:"requested,omitempty"`
}

// Snapshot strips role-membership flags, leaving only the identity fields
// that may be embedded in comments and edit history.
func (p Person) Snapshot() Person {
	return Person{Name: p.Name, Email: p.Email, Title: p.Title, Department: p.Department}
}

// StateEvent is one entry of the append-only state history.
type StateEvent struct {
	State string    `json:"state"`
	Date  time.Time `json:"date"`
	Email string    `json:"email"`
}

// EditRecord captures the date and author a comment had before a text edit.
type EditRecord struct {
	Date time.Time `json:"date"`
	User Person    `json:"user"`
}

type Comment struct {
	ID       string       `json:"id"`
	User     Person       `json:"user"`
	Topic    string       `json:"topic"`
	Text     string       `json:"text"`
	Date     time.Time    `json:"date"`
	Approved string       `json:"approved,omitempty"`
	Private  bool         `json:"private,omitempty"`
	Edited   []EditRecord `json:"edited,omitempty"`
}

// AttachmentRef points at externally stored binary content. The download
// URL is derived by the API layer and never stored.
type AttachmentRef struct {
	ID   string    `json:"id"`
	Hash string    `json:"hash"`
	Name string    `json:"name"`
	Size int64     `json:"size"`
	Date time.Time `json:"date"`
	Type string    `json:"type"`
}

// Request is the workflow record. StateHistory is append-only and its last
// entry always names the current state. CurStateRead and CurStateWrite are
// a denormalized cache of the resolved role lists for the current state,
// recomputed on every transition.
type Request struct {
	ID            string          `json:"id"`
	State         string          `json:"state"`
	StateHistory  []StateEvent    `json:"stateHistory"`
	Comments      []Comment       `json:"comments"`
	Attachments   []AttachmentRef `json:"attachments"`
	CurStateRead  []string        `json:"curStateRead"`
	CurStateWrite []string        `json:"curStateWrite"`
	Requestors    []Person        `json:"requestors"`
	Reviewers     []Person        `json:"reviewers"`
	DeliveryTeam  []Person        `json:"deliveryTeam"`
	DateCreated   time.Time       `json:"dateCreated"`
	DateUpdated   time.Time       `json:"dateUpdated"`
	Fields        map[string]any  `json:"fields,omitempty"`
}

// Clone returns a deep copy so in-memory mutation never leaks between
// a loaded snapshot and the persisted record.
func (r Request) Clone() Request {
	out := r
	out.StateHistory = append([]StateEvent(nil), r.StateHistory...)
	out.Comments = make([]Comment, len(r.Comments))
	for i, c := range r.Comments {
		c.Edited = append([]EditRecord(nil), c.Edited...)
		out.Comments[i] = c
	}
	out.Attachments = append([]AttachmentRef(nil), r.Attachments...)
	out.CurStateRead = append([]string(nil), r.CurStateRead...)
	out.CurStateWrite = append([]string(nil), r.CurStateWrite...)
	out.Requestors = append([]Person(nil), r.Requestors...)
	out.Reviewers = append([]Person(nil), r.Reviewers...)
	out.DeliveryTeam = append([]Person(nil), r.DeliveryTeam...)
	if r.Fields != nil {
		out.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}
