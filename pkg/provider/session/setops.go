package session

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// setFallbackTTL bounds the lifetime of fallback set keys so abandoned
// index entries eventually disappear.
const setFallbackTTL = 24 * time.Hour

// SetOps provides set operations over any Provider. Native sets are used
// when the provider implements SetProvider; otherwise members are kept as a
// JSON string list under the same key.
type SetOps struct {
	p   Provider
	ttl time.Duration
}

// NewSetOps wraps a provider with set operations. Fallback set keys live
// for 24 hours after their last write.
func NewSetOps(p Provider) *SetOps {
	return &SetOps{p: p, ttl: setFallbackTTL}
}

// NewSetOpsTTL wraps a provider with set operations whose fallback keys
// live for ttl after their last write. Callers whose member records
// outlive a day (the federation index) must pass their record TTL here so
// the sets do not expire out from under live records.
func NewSetOpsTTL(p Provider, ttl time.Duration) *SetOps {
	if ttl <= 0 {
		ttl = setFallbackTTL
	}
	return &SetOps{p: p, ttl: ttl}
}

func (s *SetOps) load(ctx context.Context, key string) ([]string, error) {
	raw, err := s.p.Get(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var members []string
	if err := json.Unmarshal([]byte(raw), &members); err != nil {
		return nil, fmt.Errorf("corrupt set at %s: %w", key, err)
	}
	return members, nil
}

func (s *SetOps) store(ctx context.Context, key string, members []string) error {
	if len(members) == 0 {
		return s.p.Delete(ctx, key)
	}
	raw, err := json.Marshal(members)
	if err != nil {
		return err
	}
	return s.p.SetEx(ctx, key, string(raw), s.ttl)
}

// SAdd adds members to the set at key.
func (s *SetOps) SAdd(ctx context.Context, key string, members ...string) error {
	if sp, ok := s.p.(SetProvider); ok {
		return sp.SAdd(ctx, key, members...)
	}

	current, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	for _, m := range members {
		if !slices.Contains(current, m) {
			current = append(current, m)
		}
	}
	return s.store(ctx, key, current)
}

// SRem removes members from the set at key.
func (s *SetOps) SRem(ctx context.Context, key string, members ...string) error {
	if sp, ok := s.p.(SetProvider); ok {
		return sp.SRem(ctx, key, members...)
	}

	current, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	kept := current[:0]
	for _, m := range current {
		if !slices.Contains(members, m) {
			kept = append(kept, m)
		}
	}
	return s.store(ctx, key, kept)
}

// SMembers returns all members of the set at key.
func (s *SetOps) SMembers(ctx context.Context, key string) ([]string, error) {
	if sp, ok := s.p.(SetProvider); ok {
		return sp.SMembers(ctx, key)
	}
	return s.load(ctx, key)
}
