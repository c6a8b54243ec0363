package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/pkg/config"
	"harvester/pkg/models"
)

// openMemory opens an in-memory gateway pinned to one connection so
// every query sees the same database.
func openMemory(t *testing.T) *Gateway {
	t.Helper()
	g, err := Open(config.StorageConfig{DBPath: ":memory:"}, nil)
	require.NoError(t, err)
	g.db.SetMaxOpenConns(1)
	t.Cleanup(func() { g.Close() })
	return g
}

func testRecord(uri string, sourceID int, ts time.Time) *models.HarvestRecord {
	return &models.HarvestRecord{
		SourceID:   sourceID,
		URI:        uri,
		Timestamp:  ts,
		Content:    []byte("payload-" + uri),
		Label:      "#Climate",
		Author:     "someone",
		Engagement: map[string]int64{"likes": 3, "reposts": 1, "replies": 2},
	}
}

func TestWriteCountsOnlyNewURIs(t *testing.T) {
	g := openMemory(t)
	ctx := context.Background()
	now := time.Now()

	batch := []*models.HarvestRecord{
		testRecord("uri-1", 1, now),
		testRecord("uri-2", 1, now),
	}
	res, err := g.Write(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	// Replaying the same batch updates rows but reports nothing new.
	res, err = g.Write(ctx, batch)
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)

	total, err := g.TotalArchived(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}

func TestWriteUpsertsBothRepresentations(t *testing.T) {
	g := openMemory(t)
	ctx := context.Background()
	now := time.Now()

	r := testRecord("uri-1", 1, now)
	_, err := g.Write(ctx, []*models.HarvestRecord{r})
	require.NoError(t, err)

	fresh := testRecord("uri-1", 1, now)
	fresh.Author = "edited"
	fresh.Content = []byte("longer payload than before")
	res, err := g.Write(ctx, []*models.HarvestRecord{fresh})
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)

	var author string
	require.NoError(t, g.db.QueryRow(`SELECT author FROM harvest_records WHERE uri = 'uri-1'`).Scan(&author))
	assert.Equal(t, "edited", author)

	var size int
	require.NoError(t, g.db.QueryRow(`SELECT contentSizeBytes FROM data_archive WHERE uri = 'uri-1'`).Scan(&size))
	assert.Equal(t, len(fresh.Content), size)
}

func TestWriteNormalizesLabelAndBucketsTime(t *testing.T) {
	g := openMemory(t)
	ctx := context.Background()
	ts := time.Unix(7200*3600+1800, 0) // half past an exact bucket boundary

	r := testRecord("uri-1", 2, ts)
	r.Label = "#CLIMATEchange"
	_, err := g.Write(ctx, []*models.HarvestRecord{r})
	require.NoError(t, err)

	var label string
	var bucket int64
	require.NoError(t, g.db.QueryRow(`SELECT label, timeBucketId FROM data_archive WHERE uri = 'uri-1'`).Scan(&label, &bucket))
	assert.Equal(t, "climatechange", label)
	assert.EqualValues(t, 7200, bucket)
}

func TestWriteSkipsAndCountsRecordWithoutURI(t *testing.T) {
	g := openMemory(t)
	ctx := context.Background()

	batch := []*models.HarvestRecord{
		testRecord("uri-1", 1, time.Now()),
		{SourceID: 1, Timestamp: time.Now(), Content: []byte("no uri")},
	}
	res, err := g.Write(ctx, batch)
	require.NoError(t, err, "one bad record must not sink the batch")
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Failed, "the skipped record must show up in the result")
}

func TestWriteEmptyBatch(t *testing.T) {
	g := openMemory(t)
	res, err := g.Write(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
	assert.Zero(t, res.Failed)
}

func TestCountBySourceAndSince(t *testing.T) {
	g := openMemory(t)
	ctx := context.Background()
	now := time.Now()

	batch := []*models.HarvestRecord{
		testRecord("a", 1, now.Add(-48*time.Hour)),
		testRecord("b", 1, now),
		testRecord("c", 2, now),
	}
	_, err := g.Write(ctx, batch)
	require.NoError(t, err)

	bySource, err := g.CountBySource(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, bySource[1])
	assert.EqualValues(t, 1, bySource[2])

	recent, err := g.CountSince(ctx, 1, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, recent)
}
