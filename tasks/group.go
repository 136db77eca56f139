// Package tasks supervises background goroutines: every task gets the
// group's context, panics are recovered and logged, and Wait joins them all.
package tasks

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Group runs named tasks bound to one context.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Int64

	mu     sync.Mutex
	closed bool
	// OnPanic, when set, is called after a task panic has been logged.
	OnPanic func(name string, v any)
}

// NewGroup returns a Group whose tasks stop when ctx is done or Shutdown is called.
func NewGroup(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	return &Group{ctx: ctx, cancel: cancel}
}

// Context returns the context handed to tasks.
func (g *Group) Context() context.Context { return g.ctx }

// Go starts fn in a new goroutine. It reports false, without running fn,
// once the group has been shut down or its context is done.
func (g *Group) Go(name string, fn func(ctx context.Context)) bool {
	g.mu.Lock()
	if g.closed || g.ctx.Err() != nil {
		g.mu.Unlock()
		slog.Debug("task not started, group is stopping", slog.String("component", "tasks"), slog.String("task", name))
		return false
	}
	g.wg.Add(1)
	g.active.Add(1)
	g.mu.Unlock()
	go func() {
		defer g.wg.Done()
		defer g.active.Add(-1)
		defer func() {
			if v := recover(); v != nil {
				slog.Error("task panicked",
					slog.String("component", "tasks"),
					slog.String("task", name),
					slog.Any("panic", v),
					slog.String("stack", string(debug.Stack())))
				if g.OnPanic != nil {
					g.OnPanic(name, v)
				}
			}
		}()
		fn(g.ctx)
	}()
	return true
}

// Active returns the number of running tasks.
func (g *Group) Active() int { return int(g.active.Load()) }

// Wait blocks until every task has returned.
func (g *Group) Wait() { g.wg.Wait() }

// Shutdown cancels the group's context, refuses new tasks and waits for the
// running ones.
func (g *Group) Shutdown() {
	g.mu.Lock()
	g.closed = true
	g.cancel()
	g.mu.Unlock()
	g.wg.Wait()
}
