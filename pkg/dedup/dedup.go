// Package dedup collapses a fetch batch to one record per URI before
// it reaches storage. Last write wins so a fresher copy of a record
// replaces an earlier one, but the record keeps its original position
// in the batch.
package dedup

import (
	"sync"

	"harvester/pkg/models"
)

// Set is an insertion-ordered, URI-keyed record set.
type Set struct {
	mu    sync.Mutex
	index map[string]int
	items []*models.HarvestRecord
}

func NewSet() *Set {
	return &Set{index: make(map[string]int)}
}

// Add inserts or replaces the record keyed by its URI. Returns true
// when the URI was not seen before. Records without a URI are dropped.
func (s *Set) Add(r *models.HarvestRecord) bool {
	if r == nil || r.URI == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.index[r.URI]; ok {
		s.items[i] = r
		return false
	}
	s.index[r.URI] = len(s.items)
	s.items = append(s.items, r)
	return true
}

// AddAll inserts a batch and returns how many URIs were new.
func (s *Set) AddAll(records []*models.HarvestRecord) int {
	added := 0
	for _, r := range records {
		if s.Add(r) {
			added++
		}
	}
	return added
}

// Values returns the records in first-insertion order. The returned
// slice is a copy; the set keeps accepting writes.
func (s *Set) Values() []*models.HarvestRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.HarvestRecord, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of distinct URIs held.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
