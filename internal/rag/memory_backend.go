package rag

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryBackend is an in-process VectorBackend over a fixed document
// set, scoring candidates by keyword overlap rather than a real
// embedding similarity. It exists for integration tests and small
// deployments that have no external vector store; the RAG Retriever
// never depends on its scoring being more than good enough to rank.
type MemoryBackend struct {
	mu     sync.RWMutex
	chunks []BackendChunk
}

// NewMemoryBackend builds an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// AddChunk registers one chunk for search. InsertedAt defaults to the
// call time if zero, preserving the insertion-order tie-break Search
// relies on for equal-score candidates.
func (b *MemoryBackend) AddChunk(c BackendChunk) {
	if c.InsertedAt.IsZero() {
		c.InsertedAt = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append(b.chunks, c)
}

// Search implements VectorBackend with a bag-of-words overlap score in
// [0,1], standing in for cosine similarity over real embeddings.
func (b *MemoryBackend) Search(_ context.Context, query string, k int) ([]BackendChunk, error) {
	b.mu.RLock()
	candidates := append([]BackendChunk(nil), b.chunks...)
	b.mu.RUnlock()

	queryTerms := tokenSet(strings.ToLower(query))

	scored := make([]BackendChunk, 0, len(candidates))
	for _, c := range candidates {
		score := jaccard(queryTerms, tokenSet(strings.ToLower(c.Text)))
		c.Score = score
		scored = append(scored, c)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].InsertedAt.Before(scored[j].InsertedAt)
	})

	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}
