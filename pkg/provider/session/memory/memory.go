// Package memory provides an in-process session provider with lazy TTL
// expiry. Like the memory storage provider, instances can share one backing
// map through a process-wide registry so that several coordinators in one
// process observe the same sessions.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/artifactgrid/pkg/provider/session"
)

// ProviderName is the registered name of this adapter.
const ProviderName = "memory"

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is the in-memory implementation of session.Provider.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	closed    bool
	sharedKey string
}

// New creates an empty in-memory session store.
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

var (
	sharedMu     sync.Mutex
	sharedStores = make(map[string]*sharedEntry)
)

type sharedEntry struct {
	entries map[string]*entry
	refs    int
}

// NewShared returns a store backed by the process-wide entry map for
// sharedKey, creating it on first use.
func NewShared(sharedKey string) *Store {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	se, ok := sharedStores[sharedKey]
	if !ok {
		se = &sharedEntry{entries: make(map[string]*entry)}
		sharedStores[sharedKey] = se
	}
	se.refs++

	return &Store{entries: se.entries, sharedKey: sharedKey}
}

// ClearSharedStores drops every shared store. Intended for tests.
func ClearSharedStores() {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	sharedStores = make(map[string]*sharedEntry)
}

// Get implements session.Provider.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", session.ErrProviderClosed
	}

	e, ok := s.entries[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", session.ErrKeyNotFound, key)
	}
	if e.expired(time.Now()) {
		delete(s.entries, key)
		return "", fmt.Errorf("%w: %s", session.ErrKeyNotFound, key)
	}
	return e.value, nil
}

// SetEx implements session.Provider.
func (s *Store) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return session.ErrProviderClosed
	}

	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// Delete implements session.Provider. Absent keys succeed.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return session.ErrProviderClosed
	}
	delete(s.entries, key)
	return nil
}

// Expire implements session.Provider.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return session.ErrProviderClosed
	}

	e, ok := s.entries[key]
	if !ok || e.expired(time.Now()) {
		delete(s.entries, key)
		return fmt.Errorf("%w: %s", session.ErrKeyNotFound, key)
	}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	return nil
}

// Keys implements session.Provider.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, session.ErrProviderClosed
	}

	now := time.Now()
	var keys []string
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Close implements session.Provider. For shared stores the backing map
// survives until the last reference is released.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.sharedKey != "" {
		sharedMu.Lock()
		if se, ok := sharedStores[s.sharedKey]; ok {
			se.refs--
			if se.refs <= 0 {
				delete(sharedStores, s.sharedKey)
			}
		}
		sharedMu.Unlock()
	}
	return nil
}

// Ensure Store implements session.Provider.
var _ session.Provider = (*Store)(nil)
