package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/junctionhq/junction/pkg/types"
)

var (
	// Bucket names
	bucketIntegrations   = []byte("integrations")
	bucketDeintegrations = []byte("deintegrations")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the hub database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "junction.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketIntegrations,
			bucketDeintegrations,
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

// PutIntegration upserts an integration record.
func (s *BoltStore) PutIntegration(integration *types.Integration) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIntegrations)
		data, err := json.Marshal(integration)
		if err != nil {
			return err
		}
		return b.Put([]byte(integration.ID), data)
	})
}

func (s *BoltStore) GetIntegration(id string) (*types.Integration, error) {
	var integration types.Integration
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIntegrations)
		data := b.Get([]byte(id))
		if data == nil {
			return types.NewError(types.KindNotFound, "integration not found: %s", id)
		}
		return json.Unmarshal(data, &integration)
	})
	if err != nil {
		return nil, err
	}
	return &integration, nil
}

func (s *BoltStore) ListIntegrations() ([]*types.Integration, error) {
	var integrations []*types.Integration
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIntegrations)
		return b.ForEach(func(k, v []byte) error {
			var integration types.Integration
			if err := json.Unmarshal(v, &integration); err != nil {
				return err
			}
			integrations = append(integrations, &integration)
			return nil
		})
	})
	return integrations, err
}

func (s *BoltStore) DeleteIntegration(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIntegrations)
		return b.Delete([]byte(id))
	})
}

// PutDeintegration upserts a deintegration history record.
func (s *BoltStore) PutDeintegration(record *types.Deintegration) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeintegrations)
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(record.ID), data)
	})
}

func (s *BoltStore) GetDeintegration(id string) (*types.Deintegration, error) {
	var record types.Deintegration
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeintegrations)
		data := b.Get([]byte(id))
		if data == nil {
			return types.NewError(types.KindRecordNotFound, "deintegration not found: %s", id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BoltStore) ListDeintegrations() ([]*types.Deintegration, error) {
	var records []*types.Deintegration
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeintegrations)
		return b.ForEach(func(k, v []byte) error {
			var record types.Deintegration
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	return records, err
}
