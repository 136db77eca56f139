// Package renamer applies channel renames without tripping the platform's
// per-channel rename limit.
//
// Schedule records the latest desired name for a channel and makes sure one
// worker, and only one, is running for it. The worker waits out a short
// coalescing delay and the channel's cooldown, then applies whatever name is
// current at that moment. Requests that arrive while it waits replace the
// target instead of queueing behind it, so a stale name is never sent after a
// fresher one.
package renamer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MeltedButter77/robotnic/platform"
	"github.com/MeltedButter77/robotnic/tasks"
	"github.com/MeltedButter77/robotnic/telemetry"
)

// Editor is the slice of the platform the coordinator needs.
type Editor interface {
	EditChannel(ctx context.Context, channelID string, edit platform.ChannelEdit) error
	Channel(ctx context.Context, channelID string) (*platform.Channel, error)
}

// Config tunes the coordinator. Zero values fall back to the defaults.
type Config struct {
	// CoalesceDelay absorbs bursts of requests before each attempt.
	CoalesceDelay time.Duration
	// MinInterval is the minimum time between two applied renames of one channel.
	MinInterval time.Duration
	// RetryMargin is added to the retry-after of a rate-limited edit.
	RetryMargin time.Duration
}

const (
	DefaultCoalesceDelay = time.Second
	DefaultMinInterval   = 600 * time.Second
	DefaultRetryMargin   = time.Second

	pruneThreshold = 256
)

func (c Config) withDefaults() Config {
	if c.CoalesceDelay <= 0 {
		c.CoalesceDelay = DefaultCoalesceDelay
	}
	if c.MinInterval < 0 {
		c.MinInterval = 0
	} else if c.MinInterval == 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.RetryMargin <= 0 {
		c.RetryMargin = DefaultRetryMargin
	}
	return c
}

// request is the per-channel state. It exists while a worker runs.
type request struct {
	target  string
	version uint64
	since   time.Time
	// forgotten is set when the channel was deleted while the worker ran.
	forgotten bool
}

// Coordinator owns all rename state. It is safe for concurrent use.
type Coordinator struct {
	api   Editor
	cfg   Config
	group *tasks.Group
	log   *slog.Logger

	mu       sync.Mutex
	pending  map[string]*request
	lastEdit map[string]time.Time
}

// New returns a Coordinator whose workers stop when ctx is done.
func New(ctx context.Context, api Editor, cfg Config) *Coordinator {
	return &Coordinator{
		api:      api,
		cfg:      cfg.withDefaults(),
		group:    tasks.NewGroup(ctx),
		log:      slog.Default().With(slog.String("component", "renamer")),
		pending:  make(map[string]*request),
		lastEdit: make(map[string]time.Time),
	}
}

// Schedule makes name the channel's rename target and returns immediately.
func (c *Coordinator) Schedule(channelID, name string) {
	telemetry.Inc(telemetry.RenamesScheduled)
	c.mu.Lock()
	defer c.mu.Unlock()

	if req, ok := c.pending[channelID]; ok {
		if req.target != name {
			telemetry.Inc(telemetry.RenamesSuperseded)
		}
		req.target = name
		req.version++
		req.forgotten = false
		return
	}
	c.pruneLocked()
	c.pending[channelID] = &request{target: name, version: 1, since: time.Now()}
	if !c.group.Go("rename:"+channelID, func(ctx context.Context) { c.run(ctx, channelID) }) {
		delete(c.pending, channelID)
	}
	telemetry.SetWorkers(len(c.pending))
}

// Forget drops everything known about channelID. A running worker for it
// stops at its next checkpoint unless the channel is scheduled again.
func (c *Coordinator) Forget(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lastEdit, channelID)
	if req, ok := c.pending[channelID]; ok {
		req.forgotten = true
	}
}

// Pending returns the unapplied target for channelID, if any.
func (c *Coordinator) Pending(channelID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.pending[channelID]
	if !ok || req.forgotten {
		return "", false
	}
	return req.target, true
}

// Active returns the number of channels with a running worker.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Shutdown stops all workers and waits for them. Unapplied targets are dropped.
func (c *Coordinator) Shutdown() { c.group.Shutdown() }

// Wait blocks until every worker has exited on its own.
func (c *Coordinator) Wait() { c.group.Wait() }

func (c *Coordinator) pruneLocked() {
	if len(c.lastEdit) < pruneThreshold {
		return
	}
	cutoff := time.Now().Add(-c.cfg.MinInterval)
	for id, at := range c.lastEdit {
		if at.Before(cutoff) {
			delete(c.lastEdit, id)
		}
	}
}

// snapshot returns the current target, its version, and whether the worker should stop.
func (c *Coordinator) snapshot(channelID string) (string, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.pending[channelID]
	if !ok || req.forgotten {
		return "", 0, true
	}
	return req.target, req.version, false
}

func (c *Coordinator) cooldown(channelID string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastEdit[channelID]
	if !ok {
		return 0
	}
	return c.cfg.MinInterval - time.Since(last)
}

// settle clears the channel's state when version is still the latest and
// reports whether the worker is done.
func (c *Coordinator) settle(channelID string, version uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.pending[channelID]
	if !ok {
		return true
	}
	if req.version != version && !req.forgotten {
		return false
	}
	delete(c.pending, channelID)
	telemetry.SetWorkers(len(c.pending))
	return true
}

func (c *Coordinator) drop(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, channelID)
	delete(c.lastEdit, channelID)
	telemetry.SetWorkers(len(c.pending))
}

// abandon clears a forgotten channel's state. It reports false when the
// channel was scheduled again in the meantime.
func (c *Coordinator) abandon(channelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if req, ok := c.pending[channelID]; ok && !req.forgotten {
		return false
	}
	delete(c.pending, channelID)
	telemetry.SetWorkers(len(c.pending))
	return true
}

type outcome int

const (
	outcomeSettle outcome = iota
	outcomeGone
	outcomeForgotten
	outcomeStopped
)

func (c *Coordinator) run(ctx context.Context, channelID string) {
	log := c.log.With(slog.String("channel_id", channelID))
	for {
		if !sleep(ctx, c.cfg.CoalesceDelay) {
			c.drop(channelID)
			return
		}
		if wait := c.cooldown(channelID); wait > 0 {
			log.Debug("waiting for rename cooldown", slog.Duration("wait", wait))
			if !sleep(ctx, wait) {
				c.drop(channelID)
				return
			}
		}
		version, out := c.apply(ctx, log, channelID)
		switch out {
		case outcomeGone, outcomeStopped:
			c.drop(channelID)
			return
		case outcomeForgotten:
			if c.abandon(channelID) {
				return
			}
		default:
			if c.settle(channelID, version) {
				return
			}
		}
	}
}

// apply reads the latest target and sends it, retrying rate limits. It
// returns the version it acted on.
func (c *Coordinator) apply(ctx context.Context, log *slog.Logger, channelID string) (uint64, outcome) {
	for {
		target, version, stop := c.snapshot(channelID)
		if stop {
			return 0, outcomeForgotten
		}
		ch, err := c.api.Channel(ctx, channelID)
		if err != nil {
			if platform.IsNotFound(err) {
				log.Info("channel gone, dropping rename", slog.String("target", target))
				return 0, outcomeGone
			}
			log.Warn("failed to read channel before rename", slog.Any("err", err))
			telemetry.IncKind(telemetry.RenamesFailed, platform.KindOf(err).String())
			return version, outcomeSettle
		}
		if ch.Name == target {
			telemetry.Inc(telemetry.RenamesNoop)
			return version, outcomeSettle
		}

		err = c.api.EditChannel(ctx, channelID, platform.ChannelEdit{Name: platform.String(target)})
		switch platform.KindOf(err) {
		case platform.KindOK:
			c.mu.Lock()
			c.lastEdit[channelID] = time.Now()
			if req, ok := c.pending[channelID]; ok {
				telemetry.Observe(telemetry.RenameLatency, time.Since(req.since))
				req.since = time.Now()
			}
			c.mu.Unlock()
			telemetry.Inc(telemetry.RenamesApplied)
			log.Debug("channel renamed", slog.String("name", target))
			return version, outcomeSettle
		case platform.KindRateLimited:
			wait := platform.RetryAfterOf(err) + c.cfg.RetryMargin
			telemetry.Inc(telemetry.RenamesRateLimited)
			log.Debug("rename rate limited", slog.Duration("retry_after", wait))
			if !sleep(ctx, wait) {
				return 0, outcomeStopped
			}
		case platform.KindNotFound:
			log.Info("channel gone, dropping rename", slog.String("target", target))
			return 0, outcomeGone
		default:
			telemetry.IncKind(telemetry.RenamesFailed, platform.KindOf(err).String())
			log.Error("rename failed", slog.String("target", target), slog.Any("err", err))
			return version, outcomeSettle
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
