package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiranshivaraju/rehabtrack/pkg/models"
)

// ResultCache stores analysis results keyed by job id. It is a read-through
// copy of the store; the store stays authoritative.
type ResultCache struct {
	cache Cache
	ttl   time.Duration
}

// NewResultCache wraps a Cache. A non-positive ttl means entries never expire.
func NewResultCache(c Cache, ttl time.Duration) *ResultCache {
	if ttl < 0 {
		ttl = 0
	}
	return &ResultCache{cache: c, ttl: ttl}
}

// Get returns the cached result for jobID. A corrupt entry is reported as a miss
// and removed.
func (r *ResultCache) Get(ctx context.Context, jobID string) (*models.AnalysisResult, bool, error) {
	raw, found, err := r.cache.Get(ctx, ResultKey(jobID))
	if err != nil {
		return nil, false, fmt.Errorf("get cached result: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	var result models.AnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		_ = r.cache.Delete(ctx, ResultKey(jobID))
		return nil, false, nil
	}
	return &result, true, nil
}

// Set overwrites the cached result for jobID. Last write wins.
func (r *ResultCache) Set(ctx context.Context, jobID string, result *models.AnalysisResult) error {
	if result == nil {
		return r.Invalidate(ctx, jobID)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := r.cache.Set(ctx, ResultKey(jobID), raw, r.ttl); err != nil {
		return fmt.Errorf("set cached result: %w", err)
	}
	return nil
}

// Invalidate drops any cached result for jobID.
func (r *ResultCache) Invalidate(ctx context.Context, jobID string) error {
	if err := r.cache.Delete(ctx, ResultKey(jobID)); err != nil {
		return fmt.Errorf("invalidate cached result: %w", err)
	}
	return nil
}
