package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// State is the lifecycle position of one job inside a Gate
type State int

const (
	StateQueued State = iota
	StateActive
	StateDone
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateActive:
		return "active"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PanicError is returned by Gate.Do when the job panicked
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.Value)
}

// ticket tracks one job through queued -> active -> done
type ticket struct {
	state    State
	enqueued time.Time
}

// Gate admits at most capacity jobs at a time. Waiting jobs are admitted in
// arrival order.
type Gate struct {
	capacity int
	sem      *semaphore.Weighted

	mu     sync.Mutex
	active int
	queued int
	peak   int

	onAdmit func(wait time.Duration)
}

// NewGate creates a gate with the given capacity (minimum 1)
func NewGate(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{
		capacity: capacity,
		sem:      semaphore.NewWeighted(int64(capacity)),
	}
}

// Capacity returns the maximum number of concurrently active jobs
func (g *Gate) Capacity() int { return g.capacity }

// Active returns the number of jobs currently running
func (g *Gate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Queued returns the number of jobs waiting for admission
func (g *Gate) Queued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queued
}

// Peak returns the highest Active value observed
func (g *Gate) Peak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

// Do waits for admission and runs fn. The slot is released when fn returns or
// panics; a panic is reported as *PanicError. If ctx ends while queued, fn is
// not run and the context error is returned.
func (g *Gate) Do(ctx context.Context, fn func(context.Context) error) (err error) {
	t := g.enqueue()

	if acquireErr := g.sem.Acquire(ctx, 1); acquireErr != nil {
		g.transition(t, StateDone)
		return acquireErr
	}
	g.transition(t, StateActive)

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
		g.sem.Release(1)
		g.transition(t, StateDone)
	}()

	return fn(ctx)
}

func (g *Gate) enqueue() *ticket {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queued++
	return &ticket{state: StateQueued, enqueued: time.Now()}
}

func (g *Gate) transition(t *ticket, to State) {
	g.mu.Lock()
	from := t.state
	switch {
	case from == StateQueued && to == StateActive:
		g.queued--
		g.active++
		if g.active > g.peak {
			g.peak = g.active
		}
	case from == StateQueued && to == StateDone:
		g.queued--
	case from == StateActive && to == StateDone:
		g.active--
	default:
		g.mu.Unlock()
		panic(fmt.Sprintf("limiter: invalid transition %s -> %s", from, to))
	}
	t.state = to
	onAdmit := g.onAdmit
	g.mu.Unlock()

	if to == StateActive && onAdmit != nil {
		onAdmit(time.Since(t.enqueued))
	}
}
