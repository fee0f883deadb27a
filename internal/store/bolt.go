package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"
)

var (
	bucketVolumes = []byte("volumes")
	bucketRegions = []byte("regions")
)

type regionMarker struct {
	Region       string    `json:"region"`
	TopicARN     string    `json:"topic_arn"`
	ConfiguredAt time.Time `json:"configured_at"`
}

// BoltStore keeps lifecycle state in a local bbolt file. An in-memory
// btree mirrors the volumes bucket so listings come back ordered by
// region and volume ID.
type BoltStore struct {
	mu    sync.RWMutex
	db    *bbolt.DB
	index *btree.BTreeG[*VolumeRecord]
}

func lessRecord(a, b *VolumeRecord) bool {
	return volumeKey(a.Region, a.VolumeID) < volumeKey(b.Region, b.VolumeID)
}

// OpenBolt opens or creates the state file at path.
func OpenBolt(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketVolumes, bucketRegions} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	s := &BoltStore{
		db:    db,
		index: btree.NewG[*VolumeRecord](32, lessRecord),
	}
	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVolumes).ForEach(func(_, v []byte) error {
			var rec VolumeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode volume record: %w", err)
			}
			s.index.ReplaceOrInsert(&rec)
			return nil
		})
	})
}

// GetVolume implements Store.
func (s *BoltStore) GetVolume(_ context.Context, region, volumeID string) (*VolumeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.index.Get(&VolumeRecord{Region: region, VolumeID: volumeID})
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// PutVolume implements Store.
func (s *BoltStore) PutVolume(_ context.Context, rec *VolumeRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode volume record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVolumes).Put([]byte(volumeKey(rec.Region, rec.VolumeID)), value)
	})
	if err != nil {
		return fmt.Errorf("put volume %s: %w", rec.VolumeID, err)
	}

	cp := *rec
	s.index.ReplaceOrInsert(&cp)
	return nil
}

// ListVolumes implements Lister.
func (s *BoltStore) ListVolumes(_ context.Context) ([]VolumeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]VolumeRecord, 0, s.index.Len())
	s.index.Ascend(func(rec *VolumeRecord) bool {
		out = append(out, *rec)
		return true
	})
	return out, nil
}

// RegionConfigured implements Store.
func (s *BoltStore) RegionConfigured(_ context.Context, region string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketRegions).Get([]byte(region)) != nil
		return nil
	})
	return found, err
}

// MarkRegionConfigured implements Store.
func (s *BoltStore) MarkRegionConfigured(_ context.Context, region, topicARN string) error {
	value, err := json.Marshal(regionMarker{
		Region:       region,
		TopicARN:     topicARN,
		ConfiguredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode region marker: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRegions)
		if b.Get([]byte(region)) != nil {
			return nil
		}
		return b.Put([]byte(region), value)
	})
}

// Close implements Store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
