// Package session manages the per-year serial prefix and issuance capacity.
package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"parking-sticker/internal/allocator"
	"parking-sticker/internal/common/config"
	apperrors "parking-sticker/internal/common/errors"
	"parking-sticker/internal/common/logger"
	"parking-sticker/internal/models"
	"parking-sticker/internal/store"

	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix  = "sticker:session:"
	defaultCacheTTL = 5 * time.Minute
	maxPrefixLength = 10
)

var prefixPattern = regexp.MustCompile(`^[A-Z]+$`)

// Service reads and writes SessionConfig records. Reads are served through a
// Redis cache; serial issuance never uses the cache and locks the row itself.
type Service struct {
	store     store.Store
	allocator *allocator.Allocator
	cache     *redis.Client
	cacheTTL  time.Duration
	defaults  config.SessionDefaults
	logger    logger.Logger
	now       func() time.Time
}

// NewService builds the service. cache may be nil.
func NewService(s store.Store, alloc *allocator.Allocator, cache *redis.Client, defaults config.SessionDefaults, log logger.Logger) *Service {
	ttl := time.Duration(defaults.CacheTTL) * time.Millisecond
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Service{
		store:     s,
		allocator: alloc,
		cache:     cache,
		cacheTTL:  ttl,
		defaults:  defaults,
		logger:    log.WithFields(map[string]interface{}{"component": "session"}),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// NormalizePrefix upper-cases and validates a serial prefix.
func NormalizePrefix(prefix string) (string, error) {
	p := strings.ToUpper(strings.TrimSpace(prefix))
	if !prefixPattern.MatchString(p) || len(p) > maxPrefixLength {
		return "", apperrors.NewValidationError(fmt.Sprintf("prefix: %q must be 1-%d letters", prefix, maxPrefixLength))
	}
	return p, nil
}

func validateYear(year int) error {
	if year < 2000 || year > 9999 {
		return apperrors.NewValidationError(fmt.Sprintf("year: %d out of range", year))
	}
	return nil
}

func cacheKey(year int) string {
	return fmt.Sprintf("%s%d", cacheKeyPrefix, year)
}

// Get returns the configuration for year.
func (s *Service) Get(ctx context.Context, year int) (*models.SessionConfig, error) {
	if cfg, ok := s.fromCache(ctx, year); ok {
		return cfg, nil
	}

	cfg, err := s.store.FindSession(ctx, year)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NewSessionNotConfiguredError(year)
		}
		return nil, apperrors.NewStoreUnavailableError(err)
	}

	s.fillCache(ctx, cfg)
	return cfg, nil
}

// Usage reports issued and remaining serials for year.
func (s *Service) Usage(ctx context.Context, year int) (*models.SessionUsage, error) {
	cfg, err := s.Get(ctx, year)
	if err != nil {
		return nil, err
	}
	issued, err := s.store.CountIssuedSerials(ctx, year)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError(err)
	}
	usage := models.NewSessionUsage(*cfg, issued)
	return &usage, nil
}

// Configure creates or replaces the configuration for year. Capacity may not
// drop below the number of serials already issued that year.
func (s *Service) Configure(ctx context.Context, year int, prefix string, capacity int) (*models.SessionConfig, error) {
	if err := validateYear(year); err != nil {
		return nil, err
	}
	p, err := NormalizePrefix(prefix)
	if err != nil {
		return nil, err
	}
	if capacity < 0 {
		return nil, apperrors.NewValidationError("capacity: must not be negative")
	}

	return s.write(ctx, year, func(current *models.SessionConfig, issued int) (*models.SessionConfig, error) {
		if capacity < issued {
			return nil, apperrors.NewCapacityBelowIssuedError(year, capacity, issued)
		}
		return &models.SessionConfig{Year: year, Prefix: p, Capacity: capacity}, nil
	})
}

// UpdatePrefix changes the prefix used for serials issued from now on.
// Serials already issued keep the prefix they were issued with.
func (s *Service) UpdatePrefix(ctx context.Context, year int, prefix string) (*models.SessionConfig, error) {
	p, err := NormalizePrefix(prefix)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, year, func(current *models.SessionConfig, _ int) (*models.SessionConfig, error) {
		if current == nil {
			return nil, apperrors.NewSessionNotConfiguredError(year)
		}
		next := *current
		next.Prefix = p
		return &next, nil
	})
}

func (s *Service) UpdateCapacity(ctx context.Context, year, capacity int) (*models.SessionConfig, error) {
	if capacity < 0 {
		return nil, apperrors.NewValidationError("capacity: must not be negative")
	}
	return s.write(ctx, year, func(current *models.SessionConfig, issued int) (*models.SessionConfig, error) {
		if current == nil {
			return nil, apperrors.NewSessionNotConfiguredError(year)
		}
		if capacity < issued {
			return nil, apperrors.NewCapacityBelowIssuedError(year, capacity, issued)
		}
		next := *current
		next.Capacity = capacity
		return &next, nil
	})
}

// Bootstrap creates the default session for year when none exists and a
// default capacity is configured. It reports whether a row was created.
func (s *Service) Bootstrap(ctx context.Context, year int) (bool, error) {
	if s.defaults.DefaultCapacity <= 0 {
		return false, nil
	}
	p, err := NormalizePrefix(s.defaults.DefaultPrefix)
	if err != nil {
		return false, err
	}

	created := false
	_, err = s.write(ctx, year, func(current *models.SessionConfig, _ int) (*models.SessionConfig, error) {
		if current != nil {
			return nil, nil
		}
		created = true
		return &models.SessionConfig{Year: year, Prefix: p, Capacity: s.defaults.DefaultCapacity}, nil
	})
	if err != nil {
		return false, err
	}
	if created {
		s.logger.Info("Bootstrapped session", map[string]interface{}{
			"year":     year,
			"prefix":   p,
			"capacity": s.defaults.DefaultCapacity,
		})
	}
	return created, nil
}

// write locks the session row, hands the current row and issued count to
// mutate, and saves what it returns. A nil result leaves the row unchanged.
func (s *Service) write(ctx context.Context, year int, mutate func(current *models.SessionConfig, issued int) (*models.SessionConfig, error)) (*models.SessionConfig, error) {
	var saved *models.SessionConfig
	err := s.allocator.Run(ctx, "configure-session", func(ctx context.Context, repo store.Repository) error {
		saved = nil
		current, err := repo.LockSession(ctx, year)
		if err != nil && !stderrors.Is(err, store.ErrNotFound) {
			return err
		}
		issued, err := repo.CountIssuedSerials(ctx, year)
		if err != nil {
			return err
		}
		next, err := mutate(current, issued)
		if err != nil || next == nil {
			saved = current
			return err
		}
		next.UpdatedAt = s.now()
		if err := repo.SaveSession(ctx, next); err != nil {
			return err
		}
		saved = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	if saved != nil {
		s.toCache(ctx, saved)
	} else {
		s.invalidate(ctx, year)
	}
	s.logger.Info("Session configuration written", map[string]interface{}{"year": year})
	return saved, nil
}

func (s *Service) fromCache(ctx context.Context, year int) (*models.SessionConfig, bool) {
	if s.cache == nil {
		return nil, false
	}
	val, err := s.cache.Get(ctx, cacheKey(year)).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("Session cache read failed", map[string]interface{}{"year": year, "error": err.Error()})
		}
		return nil, false
	}
	var cfg models.SessionConfig
	if err := json.Unmarshal([]byte(val), &cfg); err != nil {
		return nil, false
	}
	return &cfg, true
}

// toCache writes cfg through after a committed change.
func (s *Service) toCache(ctx context.Context, cfg *models.SessionConfig) {
	s.cacheSet(ctx, cfg, false)
}

// fillCache populates a miss without overwriting a newer write-through, so a
// read that raced a write cannot put the old row back.
func (s *Service) fillCache(ctx context.Context, cfg *models.SessionConfig) {
	s.cacheSet(ctx, cfg, true)
}

func (s *Service) cacheSet(ctx context.Context, cfg *models.SessionConfig, onlyIfAbsent bool) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	key := cacheKey(cfg.Year)
	if onlyIfAbsent {
		err = s.cache.SetNX(ctx, key, data, s.cacheTTL).Err()
	} else {
		err = s.cache.Set(ctx, key, data, s.cacheTTL).Err()
	}
	if err != nil {
		s.logger.Warn("Session cache write failed", map[string]interface{}{"year": cfg.Year, "error": err.Error()})
	}
}

func (s *Service) invalidate(ctx context.Context, year int) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKey(year)).Err(); err != nil {
		s.logger.Warn("Session cache invalidation failed", map[string]interface{}{"year": year, "error": err.Error()})
	}
}
