package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/fleetcore/fleetcore/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketWorkers  = []byte("workers")
	bucketMissions = []byte("missions")
)

// BoltStore implements Store using BoltDB, one bucket per entity.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "fleetcore.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketWorkers, bucketMissions}
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

// Worker operations

func (s *BoltStore) CreateWorker(worker *types.Worker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data, err := json.Marshal(worker)
		if err != nil {
			return err
		}
		return b.Put([]byte(worker.ID), data)
	})
}

func (s *BoltStore) GetWorker(id string) (*types.Worker, error) {
	var worker types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("worker not found: %s", id)
		}
		return json.Unmarshal(data, &worker)
	})
	if err != nil {
		return nil, err
	}
	return &worker, nil
}

func (s *BoltStore) ListWorkers() ([]*types.Worker, error) {
	var workers []*types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		return b.ForEach(func(k, v []byte) error {
			var worker types.Worker
			if err := json.Unmarshal(v, &worker); err != nil {
				return err
			}
			workers = append(workers, &worker)
			return nil
		})
	})
	return workers, err
}

func (s *BoltStore) UpdateWorker(worker *types.Worker) error {
	return s.CreateWorker(worker) // upsert
}

func (s *BoltStore) DeleteWorker(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		return b.Delete([]byte(id))
	})
}

// Mission operations

func (s *BoltStore) CreateMission(mission *types.Mission) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMissions)
		data, err := json.Marshal(mission)
		if err != nil {
			return err
		}
		return b.Put([]byte(mission.ID), data)
	})
}

func (s *BoltStore) GetMission(id string) (*types.Mission, error) {
	var mission types.Mission
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMissions)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("mission not found: %s", id)
		}
		return json.Unmarshal(data, &mission)
	})
	if err != nil {
		return nil, err
	}
	return &mission, nil
}

func (s *BoltStore) ListMissions() ([]*types.Mission, error) {
	var missions []*types.Mission
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMissions)
		return b.ForEach(func(k, v []byte) error {
			var mission types.Mission
			if err := json.Unmarshal(v, &mission); err != nil {
				return err
			}
			missions = append(missions, &mission)
			return nil
		})
	})
	return missions, err
}

func (s *BoltStore) ListMissionsByState(state types.MissionState) ([]*types.Mission, error) {
	missions, err := s.ListMissions()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Mission
	for _, mission := range missions {
		if mission.State == state {
			filtered = append(filtered, mission)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListMissionsByWorker(workerID string) ([]*types.Mission, error) {
	missions, err := s.ListMissions()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Mission
	for _, mission := range missions {
		for _, w := range mission.AssignedWorkers {
			if w == workerID {
				filtered = append(filtered, mission)
				break
			}
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateMission(mission *types.Mission) error {
	return s.CreateMission(mission)
}

func (s *BoltStore) DeleteMission(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMissions)
		return b.Delete([]byte(id))
	})
}
