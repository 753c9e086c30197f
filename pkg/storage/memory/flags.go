package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/scoutline/entitlements/pkg/features"
)

// FlagStore is an in-memory feature flag store
type FlagStore struct {
	mu    sync.Mutex
	flags map[string]*features.Flag
	now   func() time.Time
}

// NewFlagStore creates an empty in-memory flag store
func NewFlagStore() *FlagStore {
	return &FlagStore{
		flags: make(map[string]*features.Flag),
		now:   time.Now,
	}
}

// Get returns the flag for a key, or features.ErrFlagNotFound
func (s *FlagStore) Get(ctx context.Context, key string) (*features.Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flag, ok := s.flags[key]
	if !ok {
		return nil, features.ErrFlagNotFound
	}
	return cloneFlag(flag), nil
}

// List returns every flag sorted by key
func (s *FlagStore) List(ctx context.Context) ([]*features.Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*features.Flag, 0, len(s.flags))
	for _, flag := range s.flags {
		out = append(out, cloneFlag(flag))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// CreateIfAbsent inserts the flag only when the key has no entry yet
func (s *FlagStore) CreateIfAbsent(ctx context.Context, flag *features.Flag) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flags[flag.Key]; ok {
		return false, nil
	}
	stored := cloneFlag(flag)
	if stored.Version == 0 {
		stored.Version = 1
	}
	s.flags[flag.Key] = stored
	return true, nil
}

// Update writes the flag's global fields guarded by the optimistic version
// counter. Overrides and stats are owned by their own operations and are left
// untouched.
func (s *FlagStore) Update(ctx context.Context, flag *features.Flag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.flags[flag.Key]
	if !ok {
		return features.ErrFlagNotFound
	}
	if stored.Version != flag.Version {
		return &features.VersionConflictError{Key: flag.Key, Version: flag.Version}
	}

	stored.Category = flag.Category
	stored.Description = flag.Description
	stored.Enabled = flag.Enabled
	stored.RequiredTier = flag.RequiredTier
	stored.Global = flag.Global
	stored.Rollout = flag.Rollout
	stored.Dependencies = append([]features.Dependency(nil), flag.Dependencies...)
	stored.Version++
	stored.UpdatedAt = s.now()
	return nil
}

// UpsertOverride inserts or replaces the tenant's override atomically
func (s *FlagStore) UpsertOverride(ctx context.Context, key string, o features.Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flag, ok := s.flags[key]
	if !ok {
		return features.ErrFlagNotFound
	}
	for i := range flag.Overrides {
		if flag.Overrides[i].TenantID == o.TenantID {
			flag.Overrides[i] = o
			return nil
		}
	}
	flag.Overrides = append(flag.Overrides, o)
	return nil
}

// RemoveOverride deletes the tenant's override if present
func (s *FlagStore) RemoveOverride(ctx context.Context, key, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flag, ok := s.flags[key]
	if !ok {
		return features.ErrFlagNotFound
	}
	for i := range flag.Overrides {
		if flag.Overrides[i].TenantID == tenantID {
			flag.Overrides = append(flag.Overrides[:i], flag.Overrides[i+1:]...)
			return nil
		}
	}
	return nil
}

// RecordEvaluation bumps the flag's advisory stats
func (s *FlagStore) RecordEvaluation(ctx context.Context, key string, granted bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flag, ok := s.flags[key]
	if !ok {
		return features.ErrFlagNotFound
	}
	flag.Stats.Evaluations++
	if granted {
		flag.Stats.Grants++
	}
	flag.Stats.LastEvaluatedAt = &at
	return nil
}

func cloneFlag(flag *features.Flag) *features.Flag {
	c := *flag
	c.Overrides = append([]features.Override(nil), flag.Overrides...)
	c.Dependencies = append([]features.Dependency(nil), flag.Dependencies...)
	c.Rollout.Whitelist = append([]string(nil), flag.Rollout.Whitelist...)
	if flag.Stats.LastEvaluatedAt != nil {
		t := *flag.Stats.LastEvaluatedAt
		c.Stats.LastEvaluatedAt = &t
	}
	return &c
}
