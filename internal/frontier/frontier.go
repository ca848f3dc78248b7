// Package frontier holds the per-crawl queue of discovered URLs and the set of
// URLs that have already been attempted.
package frontier

import (
	"errors"
	"sync"
)

// ErrEmptyFrontier is returned by Next when nothing is queued.
var ErrEmptyFrontier = errors.New("frontier is empty")

// Frontier is a FIFO queue with set-backed membership plus an append-only visited set.
// A URL in the visited set is never queued again, and a URL is queued at most once
// at a time.
type Frontier struct {
	mu           sync.Mutex
	queue        []string
	queued       map[string]struct{}
	visited      map[string]struct{}
	visitedOrder []string
}

// New returns an empty Frontier.
func New() *Frontier {
	return &Frontier{
		queued:  make(map[string]struct{}),
		visited: make(map[string]struct{}),
	}
}

// Seed resets the frontier so it holds exactly url and nothing has been visited.
func (f *Frontier) Seed(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = []string{url}
	f.queued = map[string]struct{}{url: {}}
	f.visited = make(map[string]struct{})
	f.visitedOrder = nil
}

// HasNext reports whether the queue is non-empty.
func (f *Frontier) HasNext() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue) > 0
}

// Next removes and returns the head of the queue.
func (f *Frontier) Next() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return "", ErrEmptyFrontier
	}
	head := f.queue[0]
	f.queue[0] = ""
	f.queue = f.queue[1:]
	delete(f.queued, head)
	return head, nil
}

// MarkVisited records url as attempted. Calling it twice has no further effect.
func (f *Frontier) MarkVisited(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.visited[url]; ok {
		return
	}
	f.visited[url] = struct{}{}
	f.visitedOrder = append(f.visitedOrder, url)
}

// IsVisited reports whether url has been attempted.
func (f *Frontier) IsVisited(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.visited[url]
	return ok
}

// EnqueueIfNew appends url to the tail unless it was visited or is already queued.
// It reports whether url was added.
func (f *Frontier) EnqueueIfNew(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.visited[url]; ok {
		return false
	}
	if _, ok := f.queued[url]; ok {
		return false
	}
	f.queue = append(f.queue, url)
	f.queued[url] = struct{}{}
	return true
}

// VisitedCount returns the size of the visited set.
func (f *Frontier) VisitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.visitedOrder)
}

// Len returns the number of queued URLs.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Visited returns the visited URLs in the order they were marked.
func (f *Frontier) Visited() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.visitedOrder))
	copy(out, f.visitedOrder)
	return out
}
