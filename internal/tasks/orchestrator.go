package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meridianhq/orchestrator/internal/backoff"
	"github.com/meridianhq/orchestrator/pkg/models"
)

// Handler executes one task kind's payload and returns its result bytes.
// Handlers must honor ctx cancellation at natural checkpoints; that is
// the cooperative cancellation contract task bodies are expected to
// implement.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Config holds the orchestrator's scheduling parameters as a single
// startup configuration object: worker-pool size, queue size, retry
// parameters, lease duration, retention window.
type Config struct {
	Workers         int
	QueueSize       int
	DefaultMaxAttempts int
	RetryBase       time.Duration
	RetryCap        time.Duration
	LeaseDuration   time.Duration
	LeaseSweepEvery time.Duration
	RetentionWindow time.Duration
}

// DefaultConfig returns sane defaults for every configurable field.
func DefaultConfig() Config {
	return Config{
		Workers:            4,
		QueueSize:          256,
		DefaultMaxAttempts: 3,
		RetryBase:          500 * time.Millisecond,
		RetryCap:           30 * time.Second,
		LeaseDuration:      60 * time.Second,
		LeaseSweepEvery:    10 * time.Second,
		RetentionWindow:    24 * time.Hour,
	}
}

// Orchestrator implements the Task Orchestrator (C7).
type Orchestrator struct {
	log      Log
	handlers map[models.TaskKind]Handler
	cfg      Config
	logger   *slog.Logger

	queue chan string

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	leases   map[string]time.Time
	waiters  map[string][]chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// SubmitOptions narrows options relevant to a single submission.
type SubmitOptions struct {
	MaxAttempts int
}

// New builds an Orchestrator. Call Start to launch its worker pool and
// lease sweeper, and Stop to wind them down.
func New(log Log, handlers map[models.TaskKind]Handler, cfg Config) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = DefaultConfig().DefaultMaxAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultConfig().RetryBase
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = DefaultConfig().RetryCap
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = DefaultConfig().LeaseDuration
	}
	if cfg.LeaseSweepEvery <= 0 {
		cfg.LeaseSweepEvery = DefaultConfig().LeaseSweepEvery
	}

	return &Orchestrator{
		log:      log,
		handlers: handlers,
		cfg:      cfg,
		logger:   slog.Default(),
		queue:    make(chan string, cfg.QueueSize),
		cancels:  make(map[string]context.CancelFunc),
		leases:   make(map[string]time.Time),
		waiters:  make(map[string][]chan struct{}),
		stopCh:   make(chan struct{}),
	}
}

// WithLogger overrides the orchestrator's logger, used for non-fatal
// failures (e.g. individual lease reclaims) that have nowhere else to
// surface since sweepExpiredLeases never returns an error to a caller.
func (o *Orchestrator) WithLogger(logger *slog.Logger) *Orchestrator {
	if logger != nil {
		o.logger = logger
	}
	return o
}

// Start replays non-terminal tasks from the durable log (reconstructing
// the queue after a restart) and launches the worker pool plus the
// lease sweeper.
func (o *Orchestrator) Start(ctx context.Context) error {
	pending, err := o.log.ListNonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("tasks: replay: %w", err)
	}
	for _, t := range pending {
		if t.State == models.TaskRunning && t.LeaseUntil != nil {
			// Claimed before a restart: the lease sweeper reverts it once
			// the recorded lease lapses.
			o.mu.Lock()
			o.leases[t.ID] = *t.LeaseUntil
			o.mu.Unlock()
			continue
		}
		select {
		case o.queue <- t.ID:
		default:
			// Queue capacity exhausted during replay; enqueue in the
			// background once the workers free up room.
			o.wg.Add(1)
			go func(id string) {
				defer o.wg.Done()
				select {
				case o.queue <- id:
				case <-o.stopCh:
				}
			}(t.ID)
		}
	}

	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.workerLoop()
	}

	o.wg.Add(1)
	go o.leaseSweepLoop()

	return nil
}

// Stop signals workers and the sweeper to exit and waits for them.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	o.wg.Wait()
}

// Submit implements submit(task_kind, payload, options) -> task_id.
func (o *Orchestrator) Submit(ctx context.Context, kind models.TaskKind, payload []byte, opts SubmitOptions) (string, error) {
	if _, ok := o.handlers[kind]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = o.cfg.DefaultMaxAttempts
	}

	now := time.Now()
	task := &models.Task{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     payload,
		State:       models.TaskPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := o.log.Create(ctx, task); err != nil {
		return "", fmt.Errorf("tasks: submit: %w", err)
	}

	select {
	case o.queue <- task.ID:
	default:
		// The durable record is already committed; roll the task's state
		// back to a state that makes clear it never entered the pool.
		task.State = models.TaskCancelled
		_ = o.log.Update(ctx, task)
		return "", ErrQueueFull
	}

	return task.ID, nil
}

// Status implements status(task_id) -> Task.
func (o *Orchestrator) Status(ctx context.Context, id string) (*models.Task, error) {
	return o.log.Get(ctx, id)
}

// Cancel implements cancel(task_id) -> bool.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (bool, error) {
	task, err := o.log.Get(ctx, id)
	if err != nil {
		return false, err
	}

	switch task.State {
	case models.TaskPending, models.TaskRetrying:
		task.State = models.TaskCancelled
		now := time.Now()
		task.FinishedAt = &now
		task.UpdatedAt = now
		if err := o.log.Update(ctx, task); err != nil {
			return false, err
		}
		o.notifyTerminal(id)
		return true, nil

	case models.TaskRunning:
		o.mu.Lock()
		cancel, ok := o.cancels[id]
		o.mu.Unlock()
		if ok {
			cancel()
		}
		// The state transition to CANCELLED happens at the worker's next
		// checkpoint, not here — cancellation is cooperative.
		return ok, nil

	default:
		return false, nil
	}
}

// Wait implements wait(task_id, timeout) -> Task | Timeout.
func (o *Orchestrator) Wait(ctx context.Context, id string, timeout time.Duration) (*models.Task, error) {
	task, err := o.log.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.State.IsTerminal() {
		return task, nil
	}

	ch := make(chan struct{})
	o.mu.Lock()
	o.waiters[id] = append(o.waiters[id], ch)
	o.mu.Unlock()

	waitCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-ch:
		return o.log.Get(ctx, id)
	case <-waitCtx.Done():
		return nil, ErrTimeout
	}
}

func (o *Orchestrator) notifyTerminal(id string) {
	o.mu.Lock()
	chans := o.waiters[id]
	delete(o.waiters, id)
	o.mu.Unlock()
	for _, ch := range chans {
		close(ch)
	}
}

func (o *Orchestrator) workerLoop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.stopCh:
			return
		case id := <-o.queue:
			o.runOne(id)
		}
	}
}

// runOne claims, executes, and finalizes a single task.
func (o *Orchestrator) runOne(id string) {
	ctx := context.Background()
	task, err := o.log.Get(ctx, id)
	if err != nil || task.State.IsTerminal() {
		return
	}
	if task.State != models.TaskPending && task.State != models.TaskRetrying {
		return
	}

	handler, ok := o.handlers[task.Kind]
	if !ok {
		task.State = models.TaskFailed
		task.LastError = fmt.Sprintf("unknown task kind %q", task.Kind)
		now := time.Now()
		task.FinishedAt = &now
		task.UpdatedAt = now
		_ = o.log.Update(ctx, task)
		o.notifyTerminal(id)
		return
	}

	claimToken := uuid.NewString()
	leaseUntil := time.Now().Add(o.cfg.LeaseDuration)
	task.State = models.TaskRunning
	task.ClaimToken = claimToken
	task.LeaseUntil = &leaseUntil
	task.UpdatedAt = time.Now()
	if err := o.log.Update(ctx, task); err != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancels[id] = cancel
	o.leases[id] = leaseUntil
	o.mu.Unlock()

	result, runErr := handler(runCtx, task.Payload)
	cancelled := runCtx.Err() != nil

	o.mu.Lock()
	delete(o.cancels, id)
	delete(o.leases, id)
	o.mu.Unlock()
	cancel()

	// Re-read: a concurrent lease-expiry sweep may have already reclaimed
	// this task while the handler was still running.
	current, err := o.log.Get(ctx, id)
	if err != nil || current.ClaimToken != claimToken {
		return
	}

	now := time.Now()
	current.Attempts++
	switch {
	case runErr == nil:
		current.State = models.TaskCompleted
		current.Result = result
		current.FinishedAt = &now

	case cancelled:
		current.State = models.TaskCancelled
		current.FinishedAt = &now
		current.LastError = "cancelled"

	default:
		current.LastError = runErr.Error()
		if current.Attempts >= current.MaxAttempts {
			current.State = models.TaskFailed
			current.FinishedAt = &now
		} else {
			current.State = models.TaskRetrying
			o.scheduleRetry(id, current.Attempts)
		}
	}
	current.UpdatedAt = now
	current.ClaimToken = ""
	current.LeaseUntil = nil

	if err := o.log.Update(ctx, current); err != nil {
		return
	}
	if current.State.IsTerminal() {
		o.notifyTerminal(id)
	}
}

func (o *Orchestrator) scheduleRetry(id string, attempts int) {
	policy := backoff.TaskRetryPolicy(o.cfg.RetryBase, o.cfg.RetryCap)
	delay := backoff.ComputeBackoff(policy, attempts)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			select {
			case o.queue <- id:
			case <-o.stopCh:
			}
		case <-o.stopCh:
		}
	}()
}

// leaseSweepLoop reclaims tasks whose worker crashed without updating
// the lease before it expired.
func (o *Orchestrator) leaseSweepLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.LeaseSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.sweepExpiredLeases()
		}
	}
}

func (o *Orchestrator) sweepExpiredLeases() {
	o.mu.Lock()
	expired := make([]string, 0)
	now := time.Now()
	for id, until := range o.leases {
		if now.After(until) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(o.leases, id)
		delete(o.cancels, id)
	}
	o.mu.Unlock()

	// Reclaiming N expired leases is N independent Get+Update round trips
	// against the durable log; errgroup runs them concurrently, waits for
	// the batch, and surfaces the first failure without aborting the
	// others' reclaim.
	ctx := context.Background()
	var group errgroup.Group
	for _, id := range expired {
		group.Go(func() error {
			return o.reclaimExpiredLease(ctx, id)
		})
	}
	if err := group.Wait(); err != nil {
		o.logger.Warn("lease reclaim failed", "error", err)
	}
}

func (o *Orchestrator) reclaimExpiredLease(ctx context.Context, id string) error {
	task, err := o.log.Get(ctx, id)
	if err != nil {
		return nil
	}
	if task.State != models.TaskRunning {
		return nil
	}
	if task.Attempts == 0 {
		task.State = models.TaskPending
	} else {
		task.State = models.TaskRetrying
	}
	task.ClaimToken = ""
	task.LeaseUntil = nil
	task.UpdatedAt = time.Now()
	if err := o.log.Update(ctx, task); err != nil {
		return fmt.Errorf("reclaim %s: %w", id, err)
	}
	select {
	case o.queue <- id:
	default:
	}
	return nil
}
