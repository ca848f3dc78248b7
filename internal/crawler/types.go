package crawler

import (
	"fmt"
	"time"
)

// PageRecord is produced once for each page that was fetched and parsed successfully.
type PageRecord struct {
	URL             string              `json:"url"`
	Timestamp       time.Time           `json:"timestamp"`
	Title           string              `json:"title"`
	MetaDescription string              `json:"meta_description"`
	TextContent     string              `json:"text_content"`
	Links           []string            `json:"links"`
	Images          []string            `json:"images"`
	Fields          map[string][]string `json:"fields,omitempty"`
	Tables          []Table             `json:"tables,omitempty"`
}

// Table is an HTML table flattened into header names and rows.
type Table struct {
	Headers []string   `json:"headers"`
	Rows    []TableRow `json:"rows"`
}

// TableRow holds cells keyed by header when the row width matches the header
// row, otherwise the raw cells in order.
type TableRow struct {
	Values map[string]string `json:"values,omitempty"`
	Cells  []string          `json:"cells,omitempty"`
}

// OutcomeKind enumerates every way a single fetch can end.
type OutcomeKind int

// Fetch outcome kinds.
const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeNotFound
	OutcomeForbidden
	OutcomeOtherStatus
	OutcomeTimeout
	OutcomeConnectionError
	OutcomeUnexpectedError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeForbidden:
		return "forbidden"
	case OutcomeOtherStatus:
		return "other_status"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeConnectionError:
		return "connection_error"
	case OutcomeUnexpectedError:
		return "unexpected_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// FetchOutcome is the result returned by a Fetcher implementation. URL is always
// the URL that was requested, even when redirects were followed.
type FetchOutcome struct {
	Kind       OutcomeKind
	URL        string
	StatusCode int
	Body       []byte
	Message    string
	Duration   time.Duration
}

// OK reports whether the fetch produced a usable body.
func (o FetchOutcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

// Success builds a successful outcome.
func Success(url string, status int, body []byte) FetchOutcome {
	return FetchOutcome{Kind: OutcomeSuccess, URL: url, StatusCode: status, Body: body}
}

// StatusOutcome maps a non-2xx HTTP status to its outcome kind.
func StatusOutcome(url string, status int) FetchOutcome {
	kind := OutcomeOtherStatus
	switch status {
	case 404:
		kind = OutcomeNotFound
	case 403:
		kind = OutcomeForbidden
	}
	return FetchOutcome{Kind: kind, URL: url, StatusCode: status}
}

// FailureOutcome builds a transport-level failure outcome.
func FailureOutcome(url string, kind OutcomeKind, message string) FetchOutcome {
	return FetchOutcome{Kind: kind, URL: url, Message: message}
}

// State is the lifecycle state of a Controller.
type State string

// Controller states.
const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
)

// Stats is a point-in-time view of a running crawl.
type Stats struct {
	RunID    string `json:"run_id"`
	State    State  `json:"state"`
	Visited  int    `json:"visited"`
	Queued   int    `json:"queued"`
	Records  int    `json:"records"`
	Failures int    `json:"failures"`
}

// CrawlResult is returned by Controller.Crawl.
type CrawlResult struct {
	RunID       string
	Records     []PageRecord
	Visited     []string
	Interrupted bool
}
