// Package session implements session allocation and validation on top of a
// TTL key-value provider.
//
// Sessions are opaque ids with a JSON record stored under
// "session:{id}". A session is valid while its record exists and its status
// is active; expiry is passive via the provider's TTL. The manager keeps a
// short-lived local cache of records, invalidated whenever the same manager
// instance mutates the session.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/artifactgrid/internal/logger"
	"github.com/marmos91/artifactgrid/pkg/grid"
	"github.com/marmos91/artifactgrid/pkg/provider/session"
)

const (
	// recordPrefix is prepended to session ids to form provider keys.
	recordPrefix = "session:"

	// DefaultTTL is the session lifetime applied when none is given.
	DefaultTTL = 900 * time.Second

	// cacheTTL bounds how stale a locally cached record may be.
	cacheTTL = 5 * time.Second
)

// Status values for session records.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
)

// Info is the session record persisted in the session provider.
type Info struct {
	SessionID      string            `json:"session_id"`
	UserID         string            `json:"user_id,omitempty"`
	SandboxID      string            `json:"sandbox_id"`
	CreatedAt      time.Time         `json:"created_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
	Status         string            `json:"status"`
	CustomMetadata map[string]string `json:"custom_metadata,omitempty"`
}

// Expired reports whether the record's expiry has passed. The provider TTL
// normally removes the record first; this guards against clock drift
// between writers.
func (i *Info) Expired() bool {
	return time.Now().After(i.ExpiresAt)
}

// clone returns a deep copy so callers can mutate their record without
// touching the cached one.
func (i *Info) clone() *Info {
	out := *i
	if i.CustomMetadata != nil {
		out.CustomMetadata = make(map[string]string, len(i.CustomMetadata))
		for k, v := range i.CustomMetadata {
			out.CustomMetadata[k] = v
		}
	}
	return &out
}

// Manager allocates, validates and extends sessions for one sandbox.
//
// All methods are safe for concurrent use. Metadata updates are
// last-writer-wins: two concurrent UpdateMetadata calls do not merge with
// each other, only with the record each one read.
type Manager struct {
	sandboxID string
	provider  session.Provider

	cacheMu sync.Mutex
	cache   map[string]cachedInfo
}

type cachedInfo struct {
	info    *Info
	fetched time.Time
}

// NewManager creates a session manager bound to one sandbox identity.
func NewManager(sandboxID string, provider session.Provider) *Manager {
	return &Manager{
		sandboxID: sandboxID,
		provider:  provider,
		cache:     make(map[string]cachedInfo),
	}
}

func recordKey(sessionID string) string {
	return recordPrefix + sessionID
}

// Allocate creates a fresh session and returns its id. A ttl of zero means
// DefaultTTL.
func (m *Manager) Allocate(ctx context.Context, userID string, ttl time.Duration, customMetadata map[string]string) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now().UTC()
	info := &Info{
		SessionID:      grid.NewID(),
		UserID:         userID,
		SandboxID:      m.sandboxID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		Status:         StatusActive,
		CustomMetadata: customMetadata,
	}
	if err := m.write(ctx, info, ttl); err != nil {
		return "", fmt.Errorf("failed to allocate session: %w", err)
	}

	logger.Debug("session allocated",
		logger.SessionID(info.SessionID),
		logger.UserID(userID),
		logger.TTL(int64(ttl.Seconds())))
	return info.SessionID, nil
}

func (m *Manager) write(ctx context.Context, info *Info, ttl time.Duration) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := m.provider.SetEx(ctx, recordKey(info.SessionID), string(raw), ttl); err != nil {
		return err
	}
	m.invalidate(info.SessionID)
	return nil
}

func (m *Manager) invalidate(sessionID string) {
	m.cacheMu.Lock()
	delete(m.cache, sessionID)
	m.cacheMu.Unlock()
}

// Get returns the session record, or nil when the session does not exist
// or has expired. The returned record is the caller's own copy; mutating
// it never affects other callers or the cache.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Info, error) {
	m.cacheMu.Lock()
	if c, ok := m.cache[sessionID]; ok && time.Since(c.fetched) < cacheTTL {
		info := c.info.clone()
		m.cacheMu.Unlock()
		return info, nil
	}
	m.cacheMu.Unlock()

	raw, err := m.provider.Get(ctx, recordKey(sessionID))
	if err != nil {
		if session.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}

	var info Info
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("corrupt session record %s: %w", sessionID, err)
	}

	m.cacheMu.Lock()
	m.cache[sessionID] = cachedInfo{info: &info, fetched: time.Now()}
	m.cacheMu.Unlock()
	return info.clone(), nil
}

// Validate reports whether the session exists, is active and not expired.
func (m *Manager) Validate(ctx context.Context, sessionID string) (bool, error) {
	info, err := m.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return info != nil && info.Status == StatusActive && !info.Expired(), nil
}

// Extend pushes the session's expiry out by additional. Absent sessions are
// a no-op.
func (m *Manager) Extend(ctx context.Context, sessionID string, additional time.Duration) error {
	info, err := m.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if info == nil {
		return nil
	}

	info.ExpiresAt = info.ExpiresAt.Add(additional)
	ttl := time.Until(info.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return m.write(ctx, info, ttl)
}

// UpdateMetadata merges patch into the session's custom metadata.
// Last-writer-wins under concurrent callers.
func (m *Manager) UpdateMetadata(ctx context.Context, sessionID string, patch map[string]string) error {
	info, err := m.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("session %s not found", sessionID)
	}

	if info.CustomMetadata == nil {
		info.CustomMetadata = make(map[string]string, len(patch))
	}
	for k, v := range patch {
		info.CustomMetadata[k] = v
	}

	ttl := time.Until(info.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s expired", sessionID)
	}
	return m.write(ctx, info, ttl)
}

// CanonicalPrefix returns "grid/{sandbox}/sess-{sessionID}/".
func (m *Manager) CanonicalPrefix(sessionID string) string {
	return grid.CanonicalSessionPrefix(m.sandboxID, sessionID)
}

// SandboxID returns the sandbox identity this manager is bound to.
func (m *Manager) SandboxID() string { return m.sandboxID }
