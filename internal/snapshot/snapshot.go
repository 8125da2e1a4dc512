// Package snapshot persists serialized copies of a metadata.Store.
//
// The store itself never touches disk. A Persister reads the store through
// its public API, encodes it, and hands the blob to a Backend; on startup
// it does the reverse.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"metastore/internal/logging"
	"metastore/internal/metadata"
)

// DefaultName is the snapshot name used by the daemon.
const DefaultName = "latest"

var logger = logging.For("snapshot")

// Snapshot is one persisted, encoded copy of a store.
type Snapshot struct {
	Name    string
	Format  string
	Data    []byte
	SavedAt time.Time
}

// Backend stores snapshots by name. Implementations must be safe for
// concurrent use.
type Backend interface {
	Put(snap Snapshot) error
	// Get returns false if no snapshot with that name exists.
	Get(name string) (Snapshot, bool, error)
	List() ([]string, error)
	Delete(name string) error
	Close() error
}

// Persister saves a store to a Backend and restores it back.
type Persister struct {
	backend Backend
	store   *metadata.Store
	codec   Codec
	name    string
	now     func() time.Time

	mu   sync.Mutex
	last []byte
}

// NewPersister creates a Persister writing snapshots of st under name
// using the codec registered for format.
func NewPersister(backend Backend, st *metadata.Store, name, format string) (*Persister, error) {
	codec, err := CodecFor(format)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = DefaultName
	}
	return &Persister{
		backend: backend,
		store:   st,
		codec:   codec,
		name:    name,
		now:     time.Now,
	}, nil
}

// Restore replaces the store contents with the saved snapshot. It returns
// false when there is nothing to restore. The snapshot is decoded with the
// codec it was written with, which may differ from the Persister's.
func (p *Persister) Restore() (bool, error) {
	snap, ok, err := p.backend.Get(p.name)
	if err != nil {
		return false, fmt.Errorf("reading snapshot %q: %w", p.name, err)
	}
	if !ok {
		return false, nil
	}
	codec, err := CodecFor(snap.Format)
	if err != nil {
		return false, fmt.Errorf("snapshot %q: %w", p.name, err)
	}
	data, err := codec.Decode(snap.Data)
	if err != nil {
		return false, fmt.Errorf("decoding snapshot %q: %w", p.name, err)
	}
	p.store.Restore(data)

	p.mu.Lock()
	if snap.Format == p.codec.Name() {
		p.last = snap.Data
	}
	p.mu.Unlock()

	logger.Info("restored snapshot", "name", p.name, "format", snap.Format, "ids", len(data), "saved_at", snap.SavedAt)
	return true, nil
}

// Save writes the current store contents. It is a no-op when nothing
// changed since the last Save or Restore.
func (p *Persister) Save() error {
	data, err := p.codec.Encode(p.store.Snapshot())
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last != nil && bytes.Equal(p.last, data) {
		return nil
	}
	snap := Snapshot{
		Name:    p.name,
		Format:  p.codec.Name(),
		Data:    data,
		SavedAt: p.now().UTC(),
	}
	if err := p.backend.Put(snap); err != nil {
		return fmt.Errorf("writing snapshot %q: %w", p.name, err)
	}
	p.last = data
	logger.Debug("saved snapshot", "name", p.name, "bytes", len(data))
	return nil
}

// Run saves every interval until ctx is done, then saves one last time.
// A zero interval disables the periodic saves.
func (p *Persister) Run(ctx context.Context, interval time.Duration) error {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-tick:
			if err := p.Save(); err != nil {
				logger.Error("periodic snapshot failed", "err", err)
			}
		case <-ctx.Done():
			if err := p.Save(); err != nil {
				return fmt.Errorf("final snapshot: %w", err)
			}
			return nil
		}
	}
}
