package scan

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "scans"

// DB persists scan history
type DB interface {
	SaveScan(scan *Scan) error
	GetScan(id string) (*Scan, error)
	// ListScans returns all scans, newest first
	ListScans() ([]*Scan, error)
	DeleteScan(id string) error
	Close() error
}

// BoltDB implements DB on a bbolt file
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (or creates) the database at path
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) SaveScan(scan *Scan) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(scan)
		if err != nil {
			return fmt.Errorf("marshaling scan: %w", err)
		}
		return tx.Bucket([]byte(bucketName)).Put([]byte(scan.ID), data)
	})
}

func (b *BoltDB) GetScan(id string) (*Scan, error) {
	var scan *Scan
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &scan)
	})
	if err != nil {
		return nil, err
	}
	return scan, nil
}

func (b *BoltDB) ListScans() ([]*Scan, error) {
	scans := make([]*Scan, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, v []byte) error {
			var scan Scan
			if err := json.Unmarshal(v, &scan); err != nil {
				return fmt.Errorf("unmarshaling scan %s: %w", k, err)
			}
			scans = append(scans, &scan)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(scans, func(i, j int) bool {
		return scans[i].CreatedAt.After(scans[j].CreatedAt)
	})
	return scans, nil
}

func (b *BoltDB) DeleteScan(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return bucket.Delete([]byte(id))
	})
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}
