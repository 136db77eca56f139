// Package server exposes the admin and operations HTTP API handlers.
package server

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MeltedButter77/robotnic/store"
)

// Lifecycle is the part of the lifecycle controller the admin API triggers.
type Lifecycle interface {
	RefreshAll(ctx context.Context) error
	Reconcile(ctx context.Context) (int, error)
}

// Options are the dependencies of the HTTP API.
type Options struct {
	Store     store.Store
	Lifecycle Lifecycle
	// RenameWorkers reports the renamer's active worker count.
	RenameWorkers func() int
	// GatewayReady reports whether the platform session is connected. Nil skips the check.
	GatewayReady func() error
	// Redis backs the shared admin rate limiter when RATE_LIMIT_BACKEND=redis.
	Redis       redis.UniversalClient
	RedisPrefix string
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	opts    Options
	started time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(opts Options) *Handlers {
	if opts.RenameWorkers == nil {
		opts.RenameWorkers = func() int { return 0 }
	}
	return &Handlers{opts: opts, started: time.Now()}
}
