// Package search mirrors requests into Meilisearch and answers text
// queries, falling back to a store scan when the index is unreachable.
package search

// RequestRecord is the flattened projection of a request that goes into
// the search index. Only text a reader of the request may already see is
// indexed; comments are excluded because some are private.
type RequestRecord struct {
	ID          string   `json:"id"`
	State       string   `json:"state"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Tags        []string `json:"tags"`
	Requestors  []string `json:"requestors"`
}

type Query struct {
	Text   string
	State  string
	Limit  int
	Offset int
}

type Result struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}
