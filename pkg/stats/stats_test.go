package stats

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/pkg/models"
)

func TestSnapshotIsIsolatedFromCollector(t *testing.T) {
	c := NewCollector()
	c.RecordFetched("twitter", 10)
	c.RecordPersisted("twitter", 7)
	c.RecordDuplicates(3)
	c.RecordOutcome(models.OutcomeSuccess)

	snap := c.Snapshot()
	assert.EqualValues(t, 10, snap.Fetched)
	assert.EqualValues(t, 7, snap.Persisted)
	assert.EqualValues(t, 3, snap.Duplicates)
	assert.EqualValues(t, 1, snap.Outcomes["success"])

	// Later mutation must not leak into the taken snapshot.
	c.RecordPersisted("twitter", 5)
	c.RecordOutcome(models.OutcomeSuccess)
	assert.EqualValues(t, 7, snap.Persisted)
	assert.EqualValues(t, 1, snap.Outcomes["success"])
	assert.EqualValues(t, 7, snap.PerSourcePersisted["twitter"])
}

func TestRecordErrorAndOutcomeKeys(t *testing.T) {
	c := NewCollector()
	c.RecordError("network")
	c.RecordError("network")
	c.RecordOutcome(models.OutcomeRateLimited)

	snap := c.Snapshot()
	assert.EqualValues(t, 2, snap.Errors["network"])
	assert.EqualValues(t, 1, snap.Outcomes["rate_limited"])
}

func TestRecordWindowMet(t *testing.T) {
	c := NewCollector()
	c.RecordWindowMet("hourly", true)
	c.RecordWindowMet("hourly", true)
	c.RecordWindowMet("hourly", false)
	c.RecordWindowMet("daily", true)

	snap := c.Snapshot()
	assert.EqualValues(t, 2, snap.WindowsMet["hourly"])
	assert.EqualValues(t, 1, snap.WindowsMissed["hourly"])
	assert.EqualValues(t, 1, snap.WindowsMet["daily"])
	assert.Zero(t, snap.WindowsMissed["daily"])
}

func TestRecordErrorsBulk(t *testing.T) {
	c := NewCollector()
	c.RecordError("storage")
	c.RecordErrors("storage", 3)
	c.RecordErrors("storage", 0)
	c.RecordErrors("storage", -1)

	snap := c.Snapshot()
	assert.EqualValues(t, 4, snap.Errors["storage"])
}

func TestStoreMergesAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")

	store, err := OpenStore(path)
	require.NoError(t, err)

	run1 := Snapshot{
		Fetched:            100,
		Persisted:          80,
		Duplicates:         20,
		Outcomes:           map[string]int64{"success": 9, "empty": 1},
		Errors:             map[string]int64{"network": 2},
		WindowsMet:         map[string]int64{"hourly": 5},
		WindowsMissed:      map[string]int64{"hourly": 1},
		PerSourcePersisted: map[string]int64{"twitter": 80},
	}
	require.NoError(t, store.Merge(run1))
	require.NoError(t, store.Close())

	// A second process merges on top of the first run's totals.
	store, err = OpenStore(path)
	require.NoError(t, err)
	defer store.Close()

	run2 := Snapshot{
		Fetched:            50,
		Persisted:          40,
		WindowsMet:         map[string]int64{"hourly": 3},
		PerSourcePersisted: map[string]int64{"twitter": 30, "reddit": 10},
	}
	require.NoError(t, store.Merge(run2))

	counters, lastRun, err := store.Cumulative()
	require.NoError(t, err)
	assert.EqualValues(t, 150, counters["fetched"])
	assert.EqualValues(t, 120, counters["persisted"])
	assert.EqualValues(t, 20, counters["duplicates"])
	assert.EqualValues(t, 9, counters["outcome:success"])
	assert.EqualValues(t, 2, counters["error:network"])
	assert.EqualValues(t, 8, counters["windows_met:hourly"])
	assert.EqualValues(t, 1, counters["windows_missed:hourly"])
	assert.EqualValues(t, 110, counters["source:twitter"])
	assert.EqualValues(t, 10, counters["source:reddit"])
	assert.False(t, lastRun.IsZero())
}

func TestCumulativeOnFreshStore(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	defer store.Close()

	counters, lastRun, err := store.Cumulative()
	require.NoError(t, err)
	assert.Empty(t, counters)
	assert.True(t, lastRun.IsZero())
}
