package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDecision ResultType = "decision"
	ResultComment  ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DecisionID string     `json:"decisionId"`
	ProjectID  string     `json:"projectId"`
	Status     string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterProjectID string
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexDecision(d DecisionRecord) error
	IndexComment(c CommentRecord) error
	DeleteDecision(id string) error
}

// DecisionRecord is the data we index for a decision.
type DecisionRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Phase       string `json:"phase"`
	ProjectID   string `json:"projectId"`
	Status      string `json:"status"`
}

// CommentRecord is the data we index for a decision comment.
type CommentRecord struct {
	ID         string `json:"id"`
	Body       string `json:"body"`
	AuthorName string `json:"authorName"`
	DecisionID string `json:"decisionId"`
	ProjectID  string `json:"projectId"`
}
