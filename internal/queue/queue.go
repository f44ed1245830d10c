// Package queue holds write operations made while offline until
// connectivity returns. The queue is a bounded FIFO persisted as a single
// JSON array under one storage key; every operation is an atomic
// read-modify-write of the whole list, so a crash between operations never
// loses or duplicates an entry.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/config"
	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/store"
)

// Op is the kind of row mutation a queued entry replays.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Valid reports whether o is one of the three known operations.
func (o Op) Valid() bool {
	switch o {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Mutation is one pending write. Data carries the row columns; for UPDATE
// and DELETE it must include the row identifier under the table's primary
// key column.
type Mutation struct {
	ID         string                 `json:"id"`
	Table      string                 `json:"table"`
	Op         Op                     `json:"operation"`
	Data       map[string]interface{} `json:"data"`
	EnqueuedAt time.Time              `json:"enqueuedAt"`
	RetryCount int                    `json:"retryCount"`
}

// ErrQueueFull is returned by Enqueue when the queue is at capacity. The
// caller decides how to surface the rejected write.
var ErrQueueFull = errors.New("offline mutation queue is full")

// Queue is the persisted FIFO of pending mutations. The only writers are
// the offline write path (Enqueue) and the drain processor; nothing else
// may touch the persisted list.
type Queue struct {
	kv         store.KV
	key        string
	maxSize    int
	maxRetries int

	mu sync.Mutex
}

// New creates a queue persisted under key in kv. Non-positive bounds fall
// back to the configured defaults (100 entries, 3 retries).
func New(kv store.KV, key string, maxSize, maxRetries int) *Queue {
	if key == "" {
		key = config.DefaultQueueKey
	}
	if maxSize <= 0 {
		maxSize = config.DefaultMaxQueueSize
	}
	if maxRetries <= 0 {
		maxRetries = config.DefaultMaxRetries
	}
	return &Queue{
		kv:         kv,
		key:        key,
		maxSize:    maxSize,
		maxRetries: maxRetries,
	}
}

// HasCapacity reports whether a queue of n entries can accept one more.
func (q *Queue) HasCapacity(n int) bool {
	return n < q.maxSize
}

// ShouldRetry reports whether an entry with the given retry count may be
// attempted again.
func (q *Queue) ShouldRetry(retryCount int) bool {
	return retryCount < q.maxRetries
}

// Enqueue appends m with a fresh retry counter. The mutation's ID and
// enqueue time are assigned here if unset. Returns ErrQueueFull at
// capacity, leaving the persisted list untouched.
func (q *Queue) Enqueue(ctx context.Context, m Mutation) error {
	if !m.Op.Valid() {
		return fmt.Errorf("unknown operation %q", m.Op)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	list, err := q.load(ctx)
	if err != nil {
		return err
	}
	if !q.HasCapacity(len(list)) {
		return ErrQueueFull
	}

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now().UTC()
	}
	m.RetryCount = 0

	return q.save(ctx, append(list, m))
}

// DequeueFront removes and returns the oldest entry, or nil on an empty
// queue.
func (q *Queue) DequeueFront(ctx context.Context) (*Mutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	list, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}

	front := list[0]
	if err := q.save(ctx, list[1:]); err != nil {
		return nil, err
	}
	return &front, nil
}

// PeekFront returns the oldest entry without removing it, or nil on an
// empty queue.
func (q *Queue) PeekFront(ctx context.Context) (*Mutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	list, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	front := list[0]
	return &front, nil
}

// Size returns the number of pending entries.
func (q *Queue) Size(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	list, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// Clear discards every pending entry.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.kv.RemoveItem(ctx, q.key); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

// IncrementFrontRetry bumps the front entry's retry counter. If the counter
// would reach the retry limit the entry is discarded instead; the return
// value reports whether the entry was retained.
func (q *Queue) IncrementFrontRetry(ctx context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	list, err := q.load(ctx)
	if err != nil {
		return false, err
	}
	if len(list) == 0 {
		return false, nil
	}

	if !q.ShouldRetry(list[0].RetryCount + 1) {
		return false, q.save(ctx, list[1:])
	}
	list[0].RetryCount++
	return true, q.save(ctx, list)
}

// RequeueFront moves the front entry to the back, preserving its retry
// counter, so one failing entry does not block the entries behind it.
func (q *Queue) RequeueFront(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	list, err := q.load(ctx)
	if err != nil {
		return err
	}
	if len(list) < 2 {
		return nil
	}
	front := list[0]
	return q.save(ctx, append(list[1:], front))
}

func (q *Queue) load(ctx context.Context) ([]Mutation, error) {
	raw, ok, err := q.kv.GetItem(ctx, q.key)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var list []Mutation
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("failed to decode queue: %w", err)
	}
	return list, nil
}

func (q *Queue) save(ctx context.Context, list []Mutation) error {
	if len(list) == 0 {
		if err := q.kv.RemoveItem(ctx, q.key); err != nil {
			return fmt.Errorf("failed to persist queue: %w", err)
		}
		return nil
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to encode queue: %w", err)
	}
	if err := q.kv.SetItem(ctx, q.key, string(raw)); err != nil {
		return fmt.Errorf("failed to persist queue: %w", err)
	}
	return nil
}
