package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher performs one GET and classifies the result. Implementations never
// return transport errors; every failure is expressed as a FetchOutcome.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) FetchOutcome
}

// Parser turns a fetched body into a PageRecord and discovers outbound links.
type Parser interface {
	Parse(body []byte, sourceURL string) (PageRecord, error)
	ExtractLinks(body []byte, sourceURL string) ([]string, error)
}

// DomainFilter gates which URLs may be fetched.
type DomainFilter interface {
	Allowed(rawURL string) bool
}

// RateLimiter spaces fetches. WaitBeforeNext is used by the sequential loop,
// WaitStart by concurrent workers.
type RateLimiter interface {
	WaitBeforeNext(ctx context.Context, pending bool) error
	WaitStart(ctx context.Context) error
}

// BlobStore persists artifacts (exports, HTML snapshots) and returns their location.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// HTMLSink archives raw page bodies.
type HTMLSink interface {
	SaveHTML(ctx context.Context, rawURL string, body []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes digests for file naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}
