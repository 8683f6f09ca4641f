// Package tasks implements the Task Orchestrator (C7): a durable task
// log, a bounded worker pool with a bounded dispatch queue, lease-based
// claims, exponential-backoff retries, and cooperative cancellation.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/meridianhq/orchestrator/pkg/models"
)

// Log is the durable, append-only record of task state. Submissions
// enqueue to the log first, then notify the dispatcher. On startup the
// dispatcher replays ListNonTerminal to reconstruct the in-memory queue.
type Log interface {
	Create(ctx context.Context, task *models.Task) error
	Update(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, id string) (*models.Task, error)
	ListNonTerminal(ctx context.Context) ([]*models.Task, error)
	// Prune removes terminal tasks whose FinishedAt is older than
	// olderThan, returning the count removed — backs the
	// periodic_cleanup task kind.
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

// MemoryLog is an in-memory Log, grounded on the teacher's
// internal/jobs.MemoryStore.
type MemoryLog struct {
	mu   sync.RWMutex
	keys []string
	byID map[string]*models.Task
}

// NewMemoryLog returns an empty in-memory task log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{byID: make(map[string]*models.Task)}
}

func (l *MemoryLog) Create(_ context.Context, task *models.Task) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.byID[task.ID]; !exists {
		l.keys = append(l.keys, task.ID)
	}
	l.byID[task.ID] = task.Clone()
	return nil
}

func (l *MemoryLog) Update(_ context.Context, task *models.Task) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.byID[task.ID]; !exists {
		return ErrNotFound
	}
	l.byID[task.ID] = task.Clone()
	return nil
}

func (l *MemoryLog) Get(_ context.Context, id string) (*models.Task, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (l *MemoryLog) ListNonTerminal(_ context.Context) ([]*models.Task, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*models.Task
	for _, id := range l.keys {
		t := l.byID[id]
		if t != nil && !t.State.IsTerminal() {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (l *MemoryLog) Prune(_ context.Context, olderThan time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	pruned := 0
	newKeys := l.keys[:0:0]
	for _, id := range l.keys {
		t := l.byID[id]
		if t != nil && t.State.IsTerminal() && t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
			delete(l.byID, id)
			pruned++
			continue
		}
		newKeys = append(newKeys, id)
	}
	l.keys = newKeys
	return pruned, nil
}
