package cache

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/vinayprograms/trialkit/errors"
)

var responsesBucket = []byte("responses")

// BoltStore keeps one JSON record per entry in a bbolt database.
type BoltStore struct {
	db *bolt.DB
}

var _ IncrementalStore = (*BoltStore)(nil)

// OpenBoltStore opens or creates the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open cache database", errors.WithMetadata("path", path))
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(responsesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create cache bucket")
	}
	return &BoltStore{db: db}, nil
}

// Load reads all records, deleting those older than ttl.
func (s *BoltStore) Load(ttl time.Duration, now time.Time) (map[string]*Entry, error) {
	entries := make(map[string]*Entry)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(responsesBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			e := fromRecord(string(k), r)
			if !fresh(e, ttl, now) {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			entries[e.Key] = e
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return make(map[string]*Entry), errors.Wrap(err, "load cache database")
	}
	return entries, nil
}

// Save replaces the bucket contents with entries.
func (s *BoltStore) Save(entries map[string]Entry) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(responsesBucket) != nil {
			if err := tx.DeleteBucket(responsesBucket); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket(responsesBucket)
		if err != nil {
			return err
		}
		for key, e := range entries {
			v, err := json.Marshal(toRecord(e))
			if err != nil {
				return err
			}
			if err := b.Put([]byte(key), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "save cache database")
	}
	return nil
}

// Put writes a single entry.
func (s *BoltStore) Put(e Entry) error {
	v, err := json.Marshal(toRecord(e))
	if err != nil {
		return errors.Wrap(err, "encode cache entry")
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(responsesBucket).Put([]byte(e.Key), v)
	})
	if err != nil {
		return errors.Wrap(err, "put cache entry")
	}
	return nil
}

// Delete removes entries by key.
func (s *BoltStore) Delete(keys ...string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(responsesBucket)
		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "delete cache entries")
	}
	return nil
}

// Remove empties the bucket. The database file stays open.
func (s *BoltStore) Remove() error {
	return s.Save(nil)
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
