// Package badger provides a session provider on an embedded Badger
// database. Entries use Badger's native TTL support, so expiry needs no
// reaper goroutine, and the store survives process restarts without an
// external service.
package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/artifactgrid/pkg/provider/session"
)

// ProviderName is the registered name of this adapter.
const ProviderName = "badger"

// Config holds configuration for the Badger provider.
type Config struct {
	// Dir is the database directory. Required unless InMemory is set.
	Dir string

	// InMemory runs the database without files. Intended for tests.
	InMemory bool
}

// Store is the Badger implementation of session.Provider.
type Store struct {
	db *badgerdb.DB
}

// New opens (or creates) the database.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, errors.New("database directory is required")
	}

	opts := badgerdb.DefaultOptions(cfg.Dir).
		WithInMemory(cfg.InMemory).
		WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

// Get implements session.Provider.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var value string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return "", fmt.Errorf("%w: %s", session.ErrKeyNotFound, key)
		}
		if errors.Is(err, badgerdb.ErrDBClosed) {
			return "", session.ErrProviderClosed
		}
		return "", err
	}
	return value, nil
}

// SetEx implements session.Provider using Badger's native entry TTL.
func (s *Store) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		e := badgerdb.NewEntry([]byte(key), []byte(value))
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if errors.Is(err, badgerdb.ErrDBClosed) {
		return session.ErrProviderClosed
	}
	return err
}

// Delete implements session.Provider. Absent keys succeed.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badgerdb.ErrDBClosed) {
		return session.ErrProviderClosed
	}
	return err
}

// Expire implements session.Provider by rewriting the entry with a fresh
// TTL. Badger has no in-place TTL update.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	value, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return s.SetEx(ctx, key, value, ttl)
}

// Keys implements session.Provider with a prefix iteration over keys only.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, badgerdb.ErrDBClosed) {
			return nil, session.ErrProviderClosed
		}
		return nil, err
	}
	return keys, nil
}

// Close implements session.Provider.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ensure Store implements session.Provider. Set operations come from the
// JSON-list fallback in session.SetOps.
var _ session.Provider = (*Store)(nil)
