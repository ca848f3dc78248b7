package crawler

import "sync"

// Results is the append-only list of PageRecords produced by one crawl.
// Records keep the order in which they were appended.
type Results struct {
	mu      sync.Mutex
	records []PageRecord
}

// NewResults returns an empty accumulator.
func NewResults() *Results {
	return &Results{}
}

// Append adds rec to the end of the list.
func (r *Results) Append(rec PageRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// Len returns the number of records collected so far.
func (r *Results) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Records returns a copy of the collected records.
func (r *Results) Records() []PageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PageRecord, len(r.records))
	copy(out, r.records)
	return out
}
