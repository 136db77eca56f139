package controls

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrConfirmationTimeout is returned when nobody answered in time.
	ErrConfirmationTimeout = errors.New("confirmation timed out")
	// ErrConfirmationPending is returned when the same key is already awaited.
	ErrConfirmationPending = errors.New("confirmation already pending")
)

// DefaultConfirmTimeout bounds how long a destructive action waits for a yes.
const DefaultConfirmTimeout = 60 * time.Second

// Confirmations pairs pending yes/no questions with their answers.
type Confirmations struct {
	mu      sync.Mutex
	waiting map[string]chan bool
}

// NewConfirmations returns an empty registry.
func NewConfirmations() *Confirmations {
	return &Confirmations{waiting: make(map[string]chan bool)}
}

// ConfirmKey identifies the confirmation userID owes for channelID.
func ConfirmKey(channelID, userID string) string { return channelID + ":" + userID }

// Await blocks until key is resolved, timeout passes, or ctx is done.
func (c *Confirmations) Await(ctx context.Context, key string, timeout time.Duration) (bool, error) {
	ch := make(chan bool, 1)
	c.mu.Lock()
	if _, busy := c.waiting[key]; busy {
		c.mu.Unlock()
		return false, ErrConfirmationPending
	}
	c.waiting[key] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.waiting[key] == ch {
			delete(c.waiting, key)
		}
		c.mu.Unlock()
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case yes := <-ch:
		return yes, nil
	case <-t.C:
		return false, ErrConfirmationTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Resolve answers key and reports whether anyone was waiting for it.
func (c *Confirmations) Resolve(key string, yes bool) bool {
	c.mu.Lock()
	ch, ok := c.waiting[key]
	if ok {
		delete(c.waiting, key)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- yes
	return true
}

// Pending reports whether key is awaiting an answer.
func (c *Confirmations) Pending(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.waiting[key]
	return ok
}
