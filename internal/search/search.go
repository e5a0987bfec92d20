package search

import "context"

type ResultType string

const (
	ResultManual   ResultType = "manual"
	ResultDocument ResultType = "document"
)

// Result is a single search hit. For document hits ManualID names the manual
// that links the content and ID is the manual-document link.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	ManualID string     `json:"manualId"`
	Status   string     `json:"status,omitempty"`
}

type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	IncludeArchived bool
	Limit           int
	Offset          int
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// ManualRecord is what gets indexed for a manual.
type ManualRecord struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Version     int    `json:"version"`
}

// DocumentRecord is what gets indexed for an active manual-document link.
type DocumentRecord struct {
	ID           string `json:"id"`
	ManualID     string `json:"manualId"`
	Title        string `json:"title"`
	ChapterTitle string `json:"chapterTitle"`
	Status       string `json:"status"`
}
