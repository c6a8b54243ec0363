package stats

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"harvester/pkg/errors"
)

const (
	countersBucket = "counters"
	metaBucket     = "meta"
	lastRunKey     = "last_run"
)

// Store persists cumulative counters across runs in a small bbolt
// file next to the main database.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if needed) the cumulative stats store.
func OpenStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(errors.ErrorTypeStorage, "create stats directory", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeStorage, "open stats db", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(countersBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.ErrorTypeStorage, "init stats buckets", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Merge folds a run snapshot into the cumulative counters.
func (s *Store) Merge(snap Snapshot) error {
	deltas := map[string]int64{
		"fetched":    snap.Fetched,
		"persisted":  snap.Persisted,
		"duplicates": snap.Duplicates,
	}
	for k, v := range snap.Outcomes {
		deltas["outcome:"+k] = v
	}
	for k, v := range snap.Errors {
		deltas["error:"+k] = v
	}
	for k, v := range snap.WindowsMet {
		deltas["windows_met:"+k] = v
	}
	for k, v := range snap.WindowsMissed {
		deltas["windows_missed:"+k] = v
	}
	for k, v := range snap.PerSourcePersisted {
		deltas["source:"+k] = v
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(countersBucket))
		for key, delta := range deltas {
			if delta == 0 {
				continue
			}
			current := decodeCounter(bucket.Get([]byte(key)))
			if err := bucket.Put([]byte(key), encodeCounter(current+delta)); err != nil {
				return err
			}
		}
		meta := tx.Bucket([]byte(metaBucket))
		return meta.Put([]byte(lastRunKey), []byte(time.Now().UTC().Format(time.RFC3339)))
	})
	if err != nil {
		return errors.Wrap(errors.ErrorTypeStorage, "merge stats", err)
	}
	return nil
}

// Cumulative returns all persisted counters plus the last run time,
// zero when no run has ever merged.
func (s *Store) Cumulative() (map[string]int64, time.Time, error) {
	counters := make(map[string]int64)
	var lastRun time.Time

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(countersBucket))
		if err := bucket.ForEach(func(k, v []byte) error {
			counters[string(k)] = decodeCounter(v)
			return nil
		}); err != nil {
			return err
		}
		if raw := tx.Bucket([]byte(metaBucket)).Get([]byte(lastRunKey)); raw != nil {
			t, err := time.Parse(time.RFC3339, string(raw))
			if err == nil {
				lastRun = t
			}
		}
		return nil
	})
	if err != nil {
		return nil, time.Time{}, errors.Wrap(errors.ErrorTypeStorage, "read stats", err)
	}
	return counters, lastRun, nil
}

func encodeCounter(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeCounter(raw []byte) int64 {
	if len(raw) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(raw))
}
