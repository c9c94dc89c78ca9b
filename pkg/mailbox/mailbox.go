// Package mailbox provides a single-slot, last-write-wins handoff between one
// producer and one consumer.
//
// A Put never blocks: it overwrites any item the consumer has not taken yet
// and hands the overwritten item back to the producer so it can be released.
// Take blocks until an item is staged or the mailbox is closed.
package mailbox

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Take once the mailbox has been closed.
var ErrClosed = errors.New("mailbox closed")

// Stats is a snapshot of mailbox counters.
type Stats struct {
	Puts             uint64 `json:"puts"`
	Takes            uint64 `json:"takes"`
	Drops            uint64 `json:"drops"`             // Items overwritten before being taken
	ConsecutiveDrops uint64 `json:"consecutive_drops"` // Current streak, reset on Take
}

// Mailbox is a capacity-1 overwrite-oldest slot.
type Mailbox[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	item   T
	full   bool
	closed bool
	stats  Stats
}

// New creates an empty mailbox.
func New[T any]() *Mailbox[T] {
	m := &Mailbox[T]{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Put stages v, replacing any untaken item. The replaced item is returned
// with dropped=true. After Close, v itself is returned with dropped=true.
func (m *Mailbox[T]) Put(v T) (old T, dropped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return v, true
	}

	m.stats.Puts++
	if m.full {
		old, dropped = m.item, true
		m.stats.Drops++
		m.stats.ConsecutiveDrops++
	}
	m.item = v
	m.full = true
	m.cond.Signal()
	return old, dropped
}

// Take blocks until an item is staged, the mailbox is closed, or ctx is done.
func (m *Mailbox[T]) Take(ctx context.Context) (T, error) {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	for !m.full && !m.closed {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		m.cond.Wait()
	}
	if m.closed {
		return zero, ErrClosed
	}

	v := m.item
	m.item = zero
	m.full = false
	m.stats.Takes++
	m.stats.ConsecutiveDrops = 0
	return v, nil
}

// Close wakes any blocked Take and returns the undrained item, if any, so
// the caller can release it. Close is idempotent.
func (m *Mailbox[T]) Close() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	m.closed = true
	m.cond.Broadcast()
	if !m.full {
		return zero, false
	}
	v := m.item
	m.item = zero
	m.full = false
	return v, true
}

// Stats returns a snapshot of the counters.
func (m *Mailbox[T]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
