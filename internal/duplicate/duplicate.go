package duplicate

import (
	"context"
	"fmt"
	"sort"
)

// Detector finds near-duplicate issues by comparing cached embeddings.
type Detector struct {
	provider Embedder
	cache    *Cache
}

// NewDetector returns a Detector backed by provider, caching embeddings
// under cacheDir.
func NewDetector(provider Embedder, cacheDir string) *Detector {
	return &Detector{provider: provider, cache: NewCache(cacheDir, DefaultCacheTTL)}
}

// FindDuplicates compares target against each of openIssues, keeps those
// classified IsSimilar, sorts by overall score descending, and caps the
// result at limit.
func (d *Detector) FindDuplicates(ctx context.Context, target Issue, openIssues []Issue, limit int) ([]Result, error) {
	targetFull, err := EmbedCached(ctx, d.provider, d.cache, target.Title+"\n"+target.Body)
	if err != nil {
		return nil, fmt.Errorf("duplicate: embed target: %w", err)
	}
	targetTitle, err := EmbedCached(ctx, d.provider, d.cache, target.Title)
	if err != nil {
		return nil, fmt.Errorf("duplicate: embed target title: %w", err)
	}
	var targetBody []float32
	if target.Body != "" {
		targetBody, err = EmbedCached(ctx, d.provider, d.cache, target.Body)
		if err != nil {
			return nil, fmt.Errorf("duplicate: embed target body: %w", err)
		}
	}

	var results []Result
	for _, candidate := range openIssues {
		if candidate.Number == target.Number {
			continue
		}

		candFull, err := EmbedCached(ctx, d.provider, d.cache, candidate.Title+"\n"+candidate.Body)
		if err != nil {
			return nil, fmt.Errorf("duplicate: embed candidate %d: %w", candidate.Number, err)
		}
		candTitle, err := EmbedCached(ctx, d.provider, d.cache, candidate.Title)
		if err != nil {
			return nil, fmt.Errorf("duplicate: embed candidate %d title: %w", candidate.Number, err)
		}
		var candBody []float32
		if candidate.Body != "" {
			candBody, err = EmbedCached(ctx, d.provider, d.cache, candidate.Body)
			if err != nil {
				return nil, fmt.Errorf("duplicate: embed candidate %d body: %w", candidate.Number, err)
			}
		}

		result := Compare(target, candidate, targetFull, candFull, targetTitle, candTitle, targetBody, candBody)
		if result.IsSimilar {
			results = append(results, result)
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Overall > results[j].Overall })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
