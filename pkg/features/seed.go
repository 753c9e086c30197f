package features

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/scoutline/entitlements/pkg/observability"
	"github.com/scoutline/entitlements/pkg/tiers"
)

// seedFile is the on-disk catalog format
type seedFile struct {
	Features []seedFlag `yaml:"features"`
}

type seedFlag struct {
	Key          string       `yaml:"key"`
	Category     string       `yaml:"category"`
	Description  string       `yaml:"description"`
	Enabled      bool         `yaml:"enabled"`
	RequiredTier tiers.Tier   `yaml:"required_tier"`
	Global       bool         `yaml:"global"`
	Rollout      Rollout      `yaml:"rollout"`
	Dependencies []Dependency `yaml:"dependencies"`
}

// Seeder loads the feature catalog from a YAML file into the store. Seeding
// only inserts flags that do not exist yet; it never overwrites a flag an
// operator has since edited.
type Seeder struct {
	store  Store
	cache  *Cache
	logger *observability.Logger
	now    func() time.Time
}

// NewSeeder creates a catalog seeder. The cache may be nil.
func NewSeeder(store Store, cache *Cache, logger *observability.Logger) *Seeder {
	return &Seeder{
		store:  store,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// Load parses and validates the seed file, then inserts every flag not already
// present. The whole file is validated before any insert, so a bad entry or a
// dependency cycle rejects the file without partially applying it. Returns the
// number of flags created.
func (s *Seeder) Load(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file: %w", err)
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := validateSeed(&file); err != nil {
		return 0, fmt.Errorf("invalid seed file %s: %w", filepath.Base(path), err)
	}

	created := 0
	now := s.now()
	for _, sf := range file.Features {
		flag := &Flag{
			Key:          sf.Key,
			Category:     sf.Category,
			Description:  sf.Description,
			Enabled:      sf.Enabled,
			RequiredTier: sf.RequiredTier,
			Global:       sf.Global,
			Rollout:      sf.Rollout,
			Dependencies: sf.Dependencies,
			Version:      1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if flag.RequiredTier == "" {
			flag.RequiredTier = tiers.TierFree
		}

		inserted, err := s.store.CreateIfAbsent(ctx, flag)
		if err != nil {
			return created, fmt.Errorf("failed to seed flag %s: %w", sf.Key, err)
		}
		if inserted {
			created++
		}
	}

	if s.cache != nil {
		s.cache.Purge()
	}

	s.logger.WithFields(map[string]interface{}{
		"path":    path,
		"flags":   len(file.Features),
		"created": created,
	}).Info("feature catalog seeded")

	return created, nil
}

// Watch reloads the seed file whenever it changes on disk, until the context
// is cancelled. The parent directory is watched rather than the file itself
// because most editors and config mounts replace the file instead of writing
// it in place.
func (s *Seeder) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create seed watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	base := filepath.Base(path)
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Coalesce the event bursts editors and atomic renames produce.
			debounce = time.After(250 * time.Millisecond)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.WithError(err).Warn("seed watcher error")

		case <-debounce:
			debounce = nil
			if _, err := s.Load(ctx, path); err != nil {
				// A bad reload keeps the previously loaded catalog.
				s.logger.WithError(err).WithField("path", path).Error("failed to reload feature catalog")
			}
		}
	}
}

// validateSeed checks the whole file before any flag is written
func validateSeed(file *seedFile) error {
	seen := make(map[string]bool, len(file.Features))
	for i, sf := range file.Features {
		if strings.TrimSpace(sf.Key) == "" {
			return fmt.Errorf("entry %d: feature key is required", i)
		}
		if seen[sf.Key] {
			return fmt.Errorf("duplicate feature key %q", sf.Key)
		}
		seen[sf.Key] = true

		if sf.RequiredTier != "" && !tiers.IsValid(sf.RequiredTier) {
			return fmt.Errorf("feature %s: unknown tier %q", sf.Key, sf.RequiredTier)
		}
		if !IsValidStrategy(sf.Rollout.Strategy) {
			return fmt.Errorf("feature %s: unknown rollout strategy %q", sf.Key, sf.Rollout.Strategy)
		}
		if sf.Rollout.Strategy == RolloutPercentage && (sf.Rollout.Percentage < 0 || sf.Rollout.Percentage > 100) {
			return fmt.Errorf("feature %s: rollout percentage must be within [0, 100]", sf.Key)
		}
		if sf.Rollout.Strategy == RolloutGradual && (sf.Rollout.StartDate == nil || sf.Rollout.EndDate == nil) {
			return fmt.Errorf("feature %s: gradual rollout requires start and end dates", sf.Key)
		}
	}

	edges := make(map[string][]string, len(file.Features))
	for _, sf := range file.Features {
		for _, dep := range sf.Dependencies {
			if !seen[dep.Feature] {
				return fmt.Errorf("feature %s: unknown dependency %q", sf.Key, dep.Feature)
			}
			edges[sf.Key] = append(edges[sf.Key], dep.Feature)
		}
	}
	if cycle := findCycle(edges); cycle != nil {
		return fmt.Errorf("dependency cycle: %s", strings.Join(cycle, " -> "))
	}
	return nil
}
