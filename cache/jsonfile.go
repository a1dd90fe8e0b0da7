package cache

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/renameio/v2"

	"github.com/vinayprograms/trialkit/errors"
)

// JSONFileStore keeps the cache in a single JSON document mapping hex key
// to record. Every Save rewrites the file atomically.
type JSONFileStore struct {
	path string
}

var _ Store = (*JSONFileStore)(nil)

// NewJSONFileStore creates a store backed by path. The file is created on
// first Save.
func NewJSONFileStore(path string) *JSONFileStore {
	return &JSONFileStore{path: path}
}

// Path returns the backing file path.
func (s *JSONFileStore) Path() string {
	return s.path
}

// Load reads the file, dropping entries older than ttl.
func (s *JSONFileStore) Load(ttl time.Duration, now time.Time) (map[string]*Entry, error) {
	entries := make(map[string]*Entry)
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return entries, nil
	}
	if err != nil {
		return entries, errors.Wrap(err, "read cache file")
	}

	var records map[string]record
	if err := json.Unmarshal(data, &records); err != nil {
		return entries, errors.WrapWithCode(err, errors.ErrCodeCorruption, "decode cache file",
			errors.WithMetadata("path", s.path))
	}
	for key, r := range records {
		e := fromRecord(key, r)
		if fresh(e, ttl, now) {
			entries[key] = e
		}
	}
	return entries, nil
}

// Save atomically replaces the file with entries.
func (s *JSONFileStore) Save(entries map[string]Entry) error {
	records := make(map[string]record, len(entries))
	for key, e := range entries {
		records[key] = toRecord(e)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode cache file")
	}
	if err := renameio.WriteFile(s.path, data, 0644); err != nil {
		return errors.Wrap(err, "write cache file")
	}
	return nil
}

// Remove deletes the file. A missing file is not an error.
func (s *JSONFileStore) Remove() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove cache file")
	}
	return nil
}

// Close is a no-op.
func (s *JSONFileStore) Close() error {
	return nil
}
