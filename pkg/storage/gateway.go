// Package storage is the persistence gateway. Every record is written
// under two representations: a query-oriented table with extracted
// scalar columns, and a uniform archival table keyed by URI. Writes
// are idempotent; re-persisting an already stored URI updates the row
// and is not counted as new.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"harvester/pkg/config"
	"harvester/pkg/errors"
	"harvester/pkg/logger"
	"harvester/pkg/models"
	"harvester/pkg/retry"
)

const schema = `
CREATE TABLE IF NOT EXISTS harvest_records (
	uri        TEXT PRIMARY KEY,
	source     INTEGER NOT NULL,
	author     TEXT NOT NULL DEFAULT '',
	timestamp  TEXT NOT NULL,
	label      TEXT NOT NULL DEFAULT '',
	likes      INTEGER NOT NULL DEFAULT 0,
	reposts    INTEGER NOT NULL DEFAULT 0,
	replies    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_harvest_records_source ON harvest_records(source);
CREATE INDEX IF NOT EXISTS idx_harvest_records_label  ON harvest_records(label);

CREATE TABLE IF NOT EXISTS data_archive (
	uri              TEXT PRIMARY KEY,
	datetime         TEXT NOT NULL,
	timeBucketId     INTEGER NOT NULL,
	source           INTEGER NOT NULL,
	label            TEXT NOT NULL DEFAULT '',
	content          BLOB NOT NULL,
	contentSizeBytes INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_data_archive_bucket ON data_archive(timeBucketId);
`

// Gateway is the single writer over the durable store.
type Gateway struct {
	db  *sql.DB
	log logger.Logger
}

// Open opens (creating if needed) the SQLite store at cfg.DBPath with
// WAL journaling and a busy timeout, and ensures the schema exists.
func Open(cfg config.StorageConfig, log logger.Logger) (*Gateway, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, errors.Wrap(errors.ErrorTypeStorage, "create db directory", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeStorage, "open database", err)
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 10 * time.Second
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, errors.Wrap(errors.ErrorTypeStorage, p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.ErrorTypeStorage, "apply schema", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.ErrorTypeStorage, "ping database", err)
	}

	return &Gateway{db: db, log: log}, nil
}

// Close releases the underlying database.
func (g *Gateway) Close() error {
	return g.db.Close()
}

// WriteResult summarizes one batch write: how many URIs were newly
// archived and how many records could not be written at all.
type WriteResult struct {
	Inserted int
	Failed   int
}

// Write persists a deduplicated batch under both representations in
// one transaction. Individual record failures are logged, counted in
// the result and skipped; a failure of the transaction itself is
// retried once before being reported.
func (g *Gateway) Write(ctx context.Context, records []*models.HarvestRecord) (WriteResult, error) {
	if len(records) == 0 {
		return WriteResult{}, nil
	}

	cfg := &retry.Config{
		MaxAttempts: 2,
		Backoff:     retry.DefaultBackoff(),
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      g.log,
	}
	return retry.DoWithResult(func() (WriteResult, error) {
		return g.writeBatch(ctx, records)
	}, cfg)
}

func (g *Gateway) writeBatch(ctx context.Context, records []*models.HarvestRecord) (WriteResult, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return WriteResult{}, errors.Wrap(errors.ErrorTypeStorage, "begin batch", err)
	}
	defer tx.Rollback()

	var res WriteResult
	for _, r := range records {
		isNew, err := g.writeRecord(ctx, tx, r)
		if err != nil {
			res.Failed++
			g.log.WarnWithFields("record skipped", map[string]interface{}{
				"uri":   r.URI,
				"error": err.Error(),
			})
			continue
		}
		if isNew {
			res.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return WriteResult{}, errors.Wrap(errors.ErrorTypeStorage, "commit batch", err)
	}
	return res, nil
}

func (g *Gateway) writeRecord(ctx context.Context, tx *sql.Tx, r *models.HarvestRecord) (bool, error) {
	if r.URI == "" {
		return false, errors.New(errors.ErrorTypeStorage, "record has no uri")
	}

	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM data_archive WHERE uri = ?)`, r.URI,
	).Scan(&exists)
	if err != nil {
		return false, err
	}

	ts := r.Timestamp.UTC().Format(time.RFC3339)
	label := models.NormalizeLabel(r.Label)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO harvest_records (uri, source, author, timestamp, label, likes, reposts, replies)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			author  = excluded.author,
			label   = excluded.label,
			likes   = excluded.likes,
			reposts = excluded.reposts,
			replies = excluded.replies`,
		r.URI, r.SourceID, r.Author, ts, label,
		r.Engagement["likes"], r.Engagement["reposts"], r.Engagement["replies"],
	)
	if err != nil {
		return false, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO data_archive (uri, datetime, timeBucketId, source, label, content, contentSizeBytes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			datetime         = excluded.datetime,
			timeBucketId     = excluded.timeBucketId,
			label            = excluded.label,
			content          = excluded.content,
			contentSizeBytes = excluded.contentSizeBytes`,
		r.URI, ts, models.TimeBucketID(r.Timestamp), r.SourceID, label, r.Content, r.Size(),
	)
	if err != nil {
		return false, err
	}

	return !exists, nil
}

// TotalArchived returns the number of rows in the archive.
func (g *Gateway) TotalArchived(ctx context.Context) (int64, error) {
	var n int64
	err := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data_archive`).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(errors.ErrorTypeStorage, "count archive", err)
	}
	return n, nil
}

// CountBySource returns archived row counts keyed by source code.
func (g *Gateway) CountBySource(ctx context.Context) (map[int]int64, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM data_archive GROUP BY source`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeStorage, "count by source", err)
	}
	defer rows.Close()

	out := make(map[int]int64)
	for rows.Next() {
		var source int
		var n int64
		if err := rows.Scan(&source, &n); err != nil {
			return nil, errors.Wrap(errors.ErrorTypeStorage, "scan source count", err)
		}
		out[source] = n
	}
	return out, rows.Err()
}

// CountSince returns how many rows a source archived at or after the
// given time, using the hourly bucket index.
func (g *Gateway) CountSince(ctx context.Context, sourceID int, since time.Time) (int64, error) {
	var n int64
	err := g.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM data_archive WHERE source = ? AND timeBucketId >= ?`,
		sourceID, models.TimeBucketID(since),
	).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(errors.ErrorTypeStorage, "count since", err)
	}
	return n, nil
}
