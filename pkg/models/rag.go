package models

import "time"

// RetrievedChunk is produced by the RAG Retriever and lives for the
// duration of one agent invocation; the core never persists it.
type RetrievedChunk struct {
	DocumentID string         `json:"document_id"`
	ChunkID    string         `json:"chunk_id"`
	Text       string         `json:"text"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	InsertedAt time.Time      `json:"inserted_at"`
}
