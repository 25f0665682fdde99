package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/cascade/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketPipelines    = []byte("pipelines")
	bucketSlots        = []byte("slots")
	bucketBarriers     = []byte("barriers")
	bucketBarrierIndex = []byte("barrier_index")
	bucketStatus       = []byte("status")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "cascade.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketPipelines,
			bucketSlots,
			bucketBarriers,
			bucketBarrierIndex,
			bucketStatus,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// boltTx adapts one bolt transaction to the Tx interface
type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) GetPipeline(id string) (*types.PipelineRecord, error) {
	var record types.PipelineRecord
	if err := getRecord(t.tx, bucketPipelines, id, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (t *boltTx) PutPipeline(record *types.PipelineRecord) error {
	return putRecord(t.tx, bucketPipelines, record.ID, record)
}

func (t *boltTx) DeletePipeline(id string) error {
	return t.tx.Bucket(bucketPipelines).Delete([]byte(id))
}

func (t *boltTx) GetSlot(id string) (*types.SlotRecord, error) {
	var record types.SlotRecord
	if err := getRecord(t.tx, bucketSlots, id, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (t *boltTx) PutSlot(record *types.SlotRecord) error {
	return putRecord(t.tx, bucketSlots, record.ID, record)
}

func (t *boltTx) DeleteSlot(id string) error {
	return t.tx.Bucket(bucketSlots).Delete([]byte(id))
}

func (t *boltTx) GetBarrier(targetID string, purpose types.BarrierPurpose) (*types.BarrierRecord, error) {
	var record types.BarrierRecord
	if err := getRecord(t.tx, bucketBarriers, types.BarrierKey(targetID, purpose), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (t *boltTx) PutBarrier(record *types.BarrierRecord) error {
	return putRecord(t.tx, bucketBarriers, record.Key(), record)
}

func (t *boltTx) DeleteBarrier(targetID string, purpose types.BarrierPurpose) error {
	return t.tx.Bucket(bucketBarriers).Delete([]byte(types.BarrierKey(targetID, purpose)))
}

func (t *boltTx) PutBarrierIndex(entry *types.BarrierIndexEntry) error {
	return putRecord(t.tx, bucketBarrierIndex, entry.Key(), entry)
}

func (t *boltTx) DeleteBarrierIndex(key string) error {
	return t.tx.Bucket(bucketBarrierIndex).Delete([]byte(key))
}

func (t *boltTx) GetStatus(pipelineID string) (*types.StatusRecord, error) {
	var record types.StatusRecord
	if err := getRecord(t.tx, bucketStatus, pipelineID, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (t *boltTx) PutStatus(record *types.StatusRecord) error {
	return putRecord(t.tx, bucketStatus, record.PipelineID, record)
}

func (t *boltTx) DeleteStatus(pipelineID string) error {
	return t.tx.Bucket(bucketStatus).Delete([]byte(pipelineID))
}

func getRecord(tx *bolt.Tx, bucket []byte, key string, out any) error {
	data := tx.Bucket(bucket).Get([]byte(key))
	if data == nil {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	}
	return json.Unmarshal(data, out)
}

func putRecord(tx *bolt.Tx, bucket []byte, key string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", key, err)
	}
	return tx.Bucket(bucket).Put([]byte(key), data)
}

// Atomically runs fn inside one write transaction
func (s *BoltStore) Atomically(fn func(tx Tx) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Pipeline operations
func (s *BoltStore) GetPipeline(id string) (*types.PipelineRecord, error) {
	var record types.PipelineRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return getRecord(tx, bucketPipelines, id, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BoltStore) GetSlot(id string) (*types.SlotRecord, error) {
	var record types.SlotRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return getRecord(tx, bucketSlots, id, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BoltStore) GetBarrier(targetID string, purpose types.BarrierPurpose) (*types.BarrierRecord, error) {
	var record types.BarrierRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return getRecord(tx, bucketBarriers, types.BarrierKey(targetID, purpose), &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BoltStore) GetStatus(pipelineID string) (*types.StatusRecord, error) {
	var record types.StatusRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return getRecord(tx, bucketStatus, pipelineID, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListRootPipelines returns root pipeline records in key order, optionally
// filtered by class path. The returned cursor resumes the scan.
func (s *BoltStore) ListRootPipelines(classPath string, cursor string, count int) ([]*types.PipelineRecord, string, error) {
	var records []*types.PipelineRecord
	var next string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPipelines).Cursor()
		k, v := seekAfter(c, cursor)
		for ; k != nil; k, v = c.Next() {
			var record types.PipelineRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if !record.IsRootPipeline {
				continue
			}
			if classPath != "" && record.ClassPath != classPath {
				continue
			}
			if count > 0 && len(records) == count {
				next = string(k)
				return nil
			}
			records = append(records, &record)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return records, next, nil
}

// ListPipelineIDsByRoot returns ids of pipelines under a root in key
// order, in batches. Used by the abort fan-out sweep.
func (s *BoltStore) ListPipelineIDsByRoot(rootID string, cursor string, limit int) ([]string, string, error) {
	var ids []string
	var next string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPipelines).Cursor()
		k, v := seekAfter(c, cursor)
		for ; k != nil; k, v = c.Next() {
			var record types.PipelineRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if record.RootPipelineID != rootID {
				continue
			}
			if limit > 0 && len(ids) == limit {
				next = string(k)
				return nil
			}
			ids = append(ids, record.ID)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return ids, next, nil
}

func (s *BoltStore) ListPipelinesByRoot(rootID string) ([]*types.PipelineRecord, error) {
	var records []*types.PipelineRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPipelines).ForEach(func(k, v []byte) error {
			var record types.PipelineRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if record.RootPipelineID == rootID {
				records = append(records, &record)
			}
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) ListSlotsByRoot(rootID string) ([]*types.SlotRecord, error) {
	var records []*types.SlotRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSlots).ForEach(func(k, v []byte) error {
			var record types.SlotRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if record.RootPipelineID == rootID {
				records = append(records, &record)
			}
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) ListBarriersByRoot(rootID string) ([]*types.BarrierRecord, error) {
	var records []*types.BarrierRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBarriers).ForEach(func(k, v []byte) error {
			var record types.BarrierRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if record.RootPipelineID == rootID {
				records = append(records, &record)
			}
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) ListStatusByRoot(rootID string) ([]*types.StatusRecord, error) {
	var records []*types.StatusRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStatus).ForEach(func(k, v []byte) error {
			var record types.StatusRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if record.RootPipelineID == rootID {
				records = append(records, &record)
			}
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) ListBarrierIndexKeysByRoot(rootID string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBarrierIndex).ForEach(func(k, v []byte) error {
			var entry types.BarrierIndexEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.RootPipelineID == rootID {
				keys = append(keys, string(k))
			}
			return nil
		})
	})
	return keys, err
}

// ScanBarrierIndex walks index entries whose key starts with the slot's
// prefix, resuming after cursor when set.
func (s *BoltStore) ScanBarrierIndex(slotID string, cursor string, limit int) ([]*types.BarrierIndexEntry, string, error) {
	prefix := []byte(types.BarrierIndexPrefix(slotID))
	var entries []*types.BarrierIndexEntry
	var next string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBarrierIndex).Cursor()
		var k, v []byte
		if cursor != "" {
			k, v = seekAfter(c, cursor)
		} else {
			k, v = c.Seek(prefix)
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if limit > 0 && len(entries) == limit {
				next = string(k)
				return nil
			}
			var entry types.BarrierIndexEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return entries, next, nil
}

// seekAfter positions a cursor at the first key >= cursor, or at the
// start of the bucket when cursor is empty. Cursors are the next
// unvisited key, so no skip is needed on resume.
func seekAfter(c *bolt.Cursor, cursor string) ([]byte, []byte) {
	if cursor == "" {
		return c.First()
	}
	return c.Seek([]byte(cursor))
}
