package checkpoint

import (
	"fmt"
	"path/filepath"
	"strings"

	bolt "go.etcd.io/bbolt"
)

var bucketCheckpoints = []byte("checkpoints")

// Store persists per-(module, source) resume tokens using BoltDB. All
// modules share one database; keys are prefixed with the module name so a
// module's tokens survive unload and are found again on reload.
type Store struct {
	db *bolt.DB
}

// NewStore opens (or creates) the checkpoint database in dataDir
func NewStore(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "checkpoints.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCheckpoints)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func checkpointKey(module, source string) []byte {
	return []byte(module + "/" + source)
}

// Put persists the checkpoint for a source. Called only after every event of
// the poll was accepted by the bus.
func (s *Store) Put(module, source, checkpoint string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCheckpoints).Put(checkpointKey(module, source), []byte(checkpoint))
	})
}

// Get returns the stored checkpoint, or ok=false when the source has never
// completed a poll
func (s *Store) Get(module, source string) (string, bool, error) {
	var checkpoint string
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCheckpoints).Get(checkpointKey(module, source))
		if data != nil {
			checkpoint = string(data)
			ok = true
		}
		return nil
	})
	return checkpoint, ok, err
}

// DeleteModule removes every checkpoint belonging to a module
func (s *Store) DeleteModule(module string) error {
	prefix := module + "/"
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketCheckpoints)
		c := bkt.Cursor()
		for k, _ := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

