package tasks

import "errors"

// Sentinel errors for the Task Orchestrator (C7).
var (
	ErrNotFound    = errors.New("tasks: not found")
	ErrQueueFull   = errors.New("tasks: dispatch queue full")
	ErrUnknownKind = errors.New("tasks: unknown task kind")
	ErrTimeout     = errors.New("tasks: wait timed out")
)
