package cache

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Backend names accepted by OpenStore.
const (
	BackendJSON = "json"
	BackendBolt = "bolt"
)

// Store persists cache entries between processes.
type Store interface {
	// Load returns all entries still fresh at now. A missing backing file
	// yields an empty map and no error.
	Load(ttl time.Duration, now time.Time) (map[string]*Entry, error)

	// Save replaces the stored entry set.
	Save(entries map[string]Entry) error

	// Remove deletes all stored data.
	Remove() error

	// Close releases any held resources.
	Close() error
}

// IncrementalStore is a Store that can apply single-entry changes.
type IncrementalStore interface {
	Store
	Put(e Entry) error
	Delete(keys ...string) error
}

// OpenStore opens the backing store for backend inside dir.
func OpenStore(backend, dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	switch backend {
	case "", BackendJSON:
		return NewJSONFileStore(filepath.Join(dir, "responses.json")), nil
	case BackendBolt:
		return OpenBoltStore(filepath.Join(dir, "responses.db"))
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

// record is the on-disk form of an entry.
type record struct {
	Payload    string  `json:"payload"`
	TokenCount int     `json:"token_count"`
	ModelID    string  `json:"model_id"`
	Timestamp  float64 `json:"timestamp"` // epoch seconds
	HitCount   int     `json:"hit_count"`
}

func toRecord(e Entry) record {
	return record{
		Payload:    e.Payload,
		TokenCount: e.TokenCount,
		ModelID:    e.ModelID,
		Timestamp:  float64(e.CreatedAt.UnixNano()) / 1e9,
		HitCount:   e.HitCount,
	}
}

func fromRecord(key string, r record) *Entry {
	sec, frac := math.Modf(r.Timestamp)
	return &Entry{
		Key:        key,
		Payload:    r.Payload,
		TokenCount: r.TokenCount,
		ModelID:    r.ModelID,
		CreatedAt:  time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3),
		HitCount:   r.HitCount,
	}
}

func fresh(e *Entry, ttl time.Duration, now time.Time) bool {
	return ttl <= 0 || now.Sub(e.CreatedAt) <= ttl
}

func sortByCreated(m map[string]*Entry) []*Entry {
	out := make([]*Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
