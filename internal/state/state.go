package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/kanban-sync/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.kanban-sync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	boardBucket = []byte("board")
	tasksKey    = []byte("tasks")
	lastSyncKey = []byte("last_sync")
)

// ErrCorrupt is returned by LoadTasks when the persisted collection
// cannot be decoded.
var ErrCorrupt = errors.New("local task cache is corrupt")

// State wraps a bbolt database holding the local task cache. The whole
// collection lives under a single key so every save replaces it in one
// transaction and readers never observe a partial write.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. The board bucket is created on open.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boardBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// LoadTasks returns the cached task collection. A missing collection
// yields an empty slice and no error. Undecodable data yields ErrCorrupt;
// callers treat that as an empty cache.
func (s *State) LoadTasks() ([]models.Task, error) {
	var tasks []models.Task

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boardBucket).Get(tasksKey)
		if len(v) == 0 {
			return nil
		}

		if err := json.Unmarshal(v, &tasks); err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if tasks == nil {
		tasks = []models.Task{}
	}

	return tasks, nil
}

// SaveTasks overwrites the cached collection.
func (s *State) SaveTasks(tasks []models.Task) error {
	if tasks == nil {
		tasks = []models.Task{}
	}

	data, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("encoding tasks: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boardBucket).Put(tasksKey, data)
	})
}

// LastSync returns the time of the last fully clean sync, or the zero
// time if none has been recorded.
func (s *State) LastSync() time.Time {
	var t time.Time

	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boardBucket).Get(lastSyncKey)
		if v == nil {
			return nil
		}

		return t.UnmarshalText(v)
	})

	return t
}

// SetLastSync records the time of a fully clean sync.
func (s *State) SetLastSync(t time.Time) error {
	data, err := t.UTC().MarshalText()
	if err != nil {
		return fmt.Errorf("encoding last sync time: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boardBucket).Put(lastSyncKey, data)
	})
}
