// Package stats tracks run-time counters for the harvester. One
// Collector instance is owned by the scheduler; everything else sees
// immutable Snapshot copies.
package stats

import (
	"sync"
	"time"

	"harvester/pkg/models"
)

// Collector accumulates counters for the current run. All mutation
// goes through the typed Record methods.
type Collector struct {
	mu sync.Mutex

	started time.Time

	fetched    int64
	persisted  int64
	duplicates int64

	outcomes map[string]int64
	errors   map[string]int64

	windowsMet    map[string]int64
	windowsMissed map[string]int64

	perSourceFetched   map[string]int64
	perSourcePersisted map[string]int64
}

func NewCollector() *Collector {
	return &Collector{
		started:            time.Now(),
		outcomes:           make(map[string]int64),
		errors:             make(map[string]int64),
		windowsMet:         make(map[string]int64),
		windowsMissed:      make(map[string]int64),
		perSourceFetched:   make(map[string]int64),
		perSourcePersisted: make(map[string]int64),
	}
}

// RecordFetched counts items returned by a source before dedup.
func (c *Collector) RecordFetched(source string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetched += int64(n)
	c.perSourceFetched[source] += int64(n)
}

// RecordPersisted counts newly archived items for a source.
func (c *Collector) RecordPersisted(source string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persisted += int64(n)
	c.perSourcePersisted[source] += int64(n)
}

// RecordDuplicates counts items dropped by dedup or already archived.
func (c *Collector) RecordDuplicates(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.duplicates += int64(n)
}

// RecordOutcome counts how a paired request ended.
func (c *Collector) RecordOutcome(o models.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[o.String()]++
}

// RecordError counts an error by taxonomy type.
func (c *Collector) RecordError(errType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[errType]++
}

// RecordErrors counts n errors of one taxonomy type at once.
func (c *Collector) RecordErrors(errType string, n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[errType] += int64(n)
}

// RecordWindowMet counts a closed quota window by period ("hourly" or
// "daily") and whether it reached its target fraction.
func (c *Collector) RecordWindowMet(period string, met bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if met {
		c.windowsMet[period]++
	} else {
		c.windowsMissed[period]++
	}
}

// Snapshot is an immutable copy of the collector's counters.
type Snapshot struct {
	Started    time.Time        `json:"started"`
	Elapsed    time.Duration    `json:"elapsed"`
	Fetched    int64            `json:"fetched"`
	Persisted  int64            `json:"persisted"`
	Duplicates int64            `json:"duplicates"`
	Outcomes   map[string]int64 `json:"outcomes"`
	Errors     map[string]int64 `json:"errors"`

	WindowsMet    map[string]int64 `json:"windows_met"`
	WindowsMissed map[string]int64 `json:"windows_missed"`

	PerSourceFetched   map[string]int64 `json:"per_source_fetched"`
	PerSourcePersisted map[string]int64 `json:"per_source_persisted"`
}

// Snapshot returns a copy safe to read while the collector keeps
// counting.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		Started:            c.started,
		Elapsed:            time.Since(c.started),
		Fetched:            c.fetched,
		Persisted:          c.persisted,
		Duplicates:         c.duplicates,
		Outcomes:           copyMap(c.outcomes),
		Errors:             copyMap(c.errors),
		WindowsMet:         copyMap(c.windowsMet),
		WindowsMissed:      copyMap(c.windowsMissed),
		PerSourceFetched:   copyMap(c.perSourceFetched),
		PerSourcePersisted: copyMap(c.perSourcePersisted),
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
