// Package rag implements the RAG Retriever (C3): a search-over-embeddings
// retrieve(query, filters, k, min_score) operation backed by a pluggable
// VectorBackend.
package rag

import (
	"context"
	"errors"
	"time"

	"github.com/meridianhq/orchestrator/pkg/models"
)

// ErrVectorBackendUnavailable is returned when the backend search call
// itself fails; "no results" is never an error.
var ErrVectorBackendUnavailable = errors.New("rag: vector backend unavailable")

// Filters narrows a retrieval by media type, conversation scope, and
// date range, applied after the backend's raw similarity search.
type Filters struct {
	MediaType      string
	ConversationID string
	After          time.Time
	Before         time.Time
}

// BackendChunk is one candidate returned by the vector backend, prior to
// filtering, re-ranking, and truncation.
type BackendChunk struct {
	DocumentID string
	ChunkID    string
	Text       string
	Score      float64
	Metadata   map[string]any
	InsertedAt time.Time
}

// VectorBackend performs the raw similarity search the retriever builds
// on. It never applies the retriever's own filtering/re-ranking/ordering
// rules — those live in Retriever.Retrieve.
type VectorBackend interface {
	Search(ctx context.Context, query string, k int) ([]BackendChunk, error)
}

func matchesFilters(c BackendChunk, f Filters) bool {
	if f.MediaType != "" {
		if mt, _ := c.Metadata["media_type"].(string); mt != f.MediaType {
			return false
		}
	}
	if f.ConversationID != "" {
		if cid, _ := c.Metadata["conversation_id"].(string); cid != f.ConversationID {
			return false
		}
	}
	if !f.After.IsZero() && c.InsertedAt.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && c.InsertedAt.After(f.Before) {
		return false
	}
	return true
}

func toRetrievedChunk(c BackendChunk, blendedScore float64) models.RetrievedChunk {
	return models.RetrievedChunk{
		DocumentID: c.DocumentID,
		ChunkID:    c.ChunkID,
		Text:       c.Text,
		Score:      blendedScore,
		Metadata:   c.Metadata,
		InsertedAt: c.InsertedAt,
	}
}
