package source

import (
	"encoding/json"
	"fmt"
	"os"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/dshills/retrace/internal/protocol"
)

// StoreConfig controls the on-disk contents cache.
type StoreConfig struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps the cache in memory only, for tests.
	InMemory bool
	// SyncWrites forces fsync on every write.
	SyncWrites bool
	// Recording namespaces keys so caches for different recordings can
	// share one directory.
	Recording string
}

// Store caches source contents on disk across sessions. Contents are
// immutable for the life of a recording, so entries never expire.
type Store struct {
	db        *badger.DB
	recording string
}

// OpenStore opens the contents cache described by cfg.
func OpenStore(cfg StoreConfig) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("source: store path required")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("source: create store dir: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("source: open store: %w", err)
	}
	return &Store{db: db, recording: cfg.Recording}, nil
}

// OpenStoreInMemory opens a throwaway in-memory cache.
func OpenStoreInMemory() (*Store, error) {
	return OpenStore(StoreConfig{InMemory: true})
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) key(id protocol.SourceID) []byte {
	return []byte("contents/" + s.recording + "/" + string(id))
}

// Get returns the cached contents of a source, if present.
func (s *Store) Get(id protocol.SourceID) (*protocol.SourceContents, bool) {
	var sc protocol.SourceContents
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(id))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(val, &sc)
	})
	if err != nil {
		return nil, false
	}
	return &sc, true
}

// Put stores the contents of a source.
func (s *Store) Put(id protocol.SourceID, sc *protocol.SourceContents) error {
	val, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("source: encode contents: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(id), val)
	})
	if err != nil {
		return fmt.Errorf("source: store contents: %w", err)
	}
	return nil
}
