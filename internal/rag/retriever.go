package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/meridianhq/orchestrator/internal/retry"
	"github.com/meridianhq/orchestrator/pkg/models"
)

// keywordOverlapWeight is the blend weight for the Jaccard keyword-overlap
// bonus applied on top of the backend's raw similarity score.
const keywordOverlapWeight = 0.2

// synonyms is a static table used to expand salient terms in the query
// before issuing the backend search.
var synonyms = map[string][]string{
	"image":   {"picture", "photo"},
	"picture": {"image", "photo"},
	"video":   {"clip", "footage"},
	"doc":     {"document"},
	"error":   {"failure", "exception"},
}

// backendRetryConfig bounds the retries issued against a flaky vector
// backend before the retriever gives up and surfaces
// ErrVectorBackendUnavailable.
var backendRetryConfig = retry.Config{
	MaxAttempts:  2,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     500 * time.Millisecond,
	Factor:       2,
	Jitter:       true,
}

// Retriever implements the RAG Retriever's single operation.
type Retriever struct {
	backend VectorBackend
	cache   *Cache
}

// NewRetriever builds a retriever over backend. cache may be nil to
// disable caching.
func NewRetriever(backend VectorBackend, cache *Cache) *Retriever {
	return &Retriever{backend: backend, cache: cache}
}

// Retrieve normalizes and expands the query, searches the backend with
// k'=max(k,20), filters by min_score and caller filters, re-ranks by
// blended score, and truncates to k.
func (r *Retriever) Retrieve(ctx context.Context, query string, filters Filters, k int, minScore float64) ([]models.RetrievedChunk, error) {
	if k <= 0 {
		k = 1
	}

	normalized := normalizeQuery(query)
	fingerprint := fmt.Sprintf("%s|min=%g", fingerprintFilters(filters), minScore)

	if r.cache != nil {
		if cached, ok := r.cache.Get(normalized, fingerprint); ok {
			return truncate(cached, k), nil
		}
	}

	expanded := expandQuery(normalized)
	kPrime := k
	if kPrime < 20 {
		kPrime = 20
	}

	var candidates []BackendChunk
	result := retry.Do(ctx, backendRetryConfig, func() error {
		var searchErr error
		candidates, searchErr = r.backend.Search(ctx, expanded, kPrime)
		return searchErr
	})
	if result.Err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVectorBackendUnavailable, result.Err)
	}

	queryTokens := tokenSet(normalized)

	filtered := make([]models.RetrievedChunk, 0, len(candidates))
	for _, c := range candidates {
		if c.Score < minScore {
			continue
		}
		if !matchesFilters(c, filters) {
			continue
		}
		overlap := jaccard(queryTokens, tokenSet(c.Text))
		blended := c.Score + keywordOverlapWeight*overlap
		filtered = append(filtered, toRetrievedChunk(c, blended))
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		if !filtered[i].InsertedAt.Equal(filtered[j].InsertedAt) {
			return filtered[i].InsertedAt.Before(filtered[j].InsertedAt)
		}
		return filtered[i].DocumentID < filtered[j].DocumentID
	})

	if r.cache != nil {
		r.cache.Put(normalized, fingerprint, filtered)
	}

	return truncate(filtered, k), nil
}

func truncate(chunks []models.RetrievedChunk, k int) []models.RetrievedChunk {
	if len(chunks) <= k {
		return chunks
	}
	return chunks[:k]
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(q))), " ")
}

func expandQuery(normalized string) string {
	terms := strings.Fields(normalized)
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if !seen[t] {
			out = append(out, t)
			seen[t] = true
		}
		for _, syn := range synonyms[t] {
			if !seen[syn] {
				out = append(out, syn)
				seen[syn] = true
			}
		}
	}
	return strings.Join(out, " ")
}

func tokenSet(s string) map[string]struct{} {
	tokens := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func fingerprintFilters(f Filters) string {
	return fmt.Sprintf("%s|%s|%d|%d", f.MediaType, f.ConversationID, f.After.Unix(), f.Before.Unix())
}
