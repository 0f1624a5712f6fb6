package goroutine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/shandysiswandi/pulsarbite/internal/pkg/stacktrace"
)

// ErrPanic wraps a value recovered from a panicking task.
var ErrPanic = errors.New("goroutine: panic recovered")

// Manager runs tasks in goroutines and waits for all of them (fire-and-collect).
//
// Unlike a worker pool it never drops a task: when a limit is set, Go blocks until a slot
// is free. Errors returned by tasks, including recovered panics, are collected and returned
// by Wait.
type Manager struct {
	wg   sync.WaitGroup
	sema chan struct{}

	mu   sync.Mutex
	errs []error
}

// NewManager creates a Manager. A limit below 1 means unlimited concurrency.
func NewManager(limit int) *Manager {
	m := &Manager{}
	if limit > 0 {
		m.sema = make(chan struct{}, limit)
	}
	return m
}

// Go runs f in its own goroutine.
//
// The task always runs, even if ctx is already done; f is expected to observe ctx itself.
func (m *Manager) Go(ctx context.Context, f func(ctx context.Context) error) {
	if m.sema != nil {
		m.sema <- struct{}{}
	}

	m.wg.Go(func() {
		defer func() {
			if m.sema != nil {
				<-m.sema
			}
			if rvr := recover(); rvr != nil {
				stack := debug.Stack()
				if paths := stacktrace.InternalPaths(stack); len(paths) > 0 {
					slog.ErrorContext(ctx, "panic occurred in goroutine", "panic", rvr, "stack", paths)
				} else {
					slog.ErrorContext(ctx, "panic occurred in goroutine", "panic", rvr, "stack", string(stack))
				}
				m.collect(fmt.Errorf("%w: %v", ErrPanic, rvr))
			}
		}()

		m.collect(f(ctx))
	})
}

// Wait blocks until every scheduled task has returned and joins their errors.
func (m *Manager) Wait() error {
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	return errors.Join(m.errs...)
}

func (m *Manager) collect(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	m.errs = append(m.errs, err)
	m.mu.Unlock()
}
