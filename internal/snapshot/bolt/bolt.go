package bolt

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"metastore/internal/snapshot"
)

var (
	dataBucket = []byte("snapshots")
	metaBucket = []byte("snapshot_meta")
)

// meta is stored next to each blob so it can be decoded after the
// configured format changes.
type meta struct {
	Format  string    `json:"format"`
	SavedAt time.Time `json:"saved_at"`
}

// Store implements snapshot.Backend using bbolt (embedded B+ tree).
type Store struct {
	db *bolt.DB
}

var _ snapshot.Backend = (*Store)(nil)

// Open creates or opens a bbolt database at the given path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{dataBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Put writes the blob and its metadata in one transaction.
func (s *Store) Put(snap snapshot.Snapshot) error {
	m, err := json.Marshal(meta{Format: snap.Format, SavedAt: snap.SavedAt})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(dataBucket).Put([]byte(snap.Name), snap.Data); err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Put([]byte(snap.Name), m)
	})
}

func (s *Store) Get(name string) (snapshot.Snapshot, bool, error) {
	snap := snapshot.Snapshot{Name: name}
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		// An empty store encodes to zero bytes in the binary format, so
		// presence is decided by the meta record.
		raw := tx.Bucket(metaBucket).Get([]byte(name))
		if raw == nil {
			return nil
		}
		found = true
		var m meta
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("decoding meta for %q: %w", name, err)
		}
		v := tx.Bucket(dataBucket).Get([]byte(name))
		snap.Data = make([]byte, len(v))
		copy(snap.Data, v)
		snap.Format = m.Format
		snap.SavedAt = m.SavedAt
		return nil
	})
	return snap, found, err
}

func (s *Store) List() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

func (s *Store) Delete(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(dataBucket).Delete([]byte(name)); err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Delete([]byte(name))
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
