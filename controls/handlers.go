// Package controls is the interactive control surface of temp channels:
// owner-gated handlers for rename, limit, ownership, visibility and delete
// requests, and the discordgo components that invoke them.
package controls

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MeltedButter77/robotnic/lifecycle"
	"github.com/MeltedButter77/robotnic/store"
)

// ErrDeleteCancelled is returned when the requester answered no.
var ErrDeleteCancelled = errors.New("deletion cancelled")

// Lifecycle is what the handlers need from the lifecycle controller.
type Lifecycle interface {
	IsOwnerOrUnclaimed(ctx context.Context, channelID, userID string) (bool, error)
	Claim(ctx context.Context, channelID, userID string) error
	Transfer(ctx context.Context, channelID, fromID, toID string) error
	Release(ctx context.Context, channelID, userID string) error
	SetVisibility(ctx context.Context, channelID string, v store.Visibility) error
	SetUserLimit(ctx context.Context, channelID string, limit int) error
	Rename(ctx context.Context, channelID, name string) error
	Delete(ctx context.Context, channelID string) error
}

// Handlers applies control surface requests after the owner gate.
type Handlers struct {
	ctl     Lifecycle
	confirm *Confirmations
	timeout time.Duration
	log     *slog.Logger
}

// NewHandlers returns handlers backed by ctl. A zero timeout uses DefaultConfirmTimeout.
func NewHandlers(ctl Lifecycle, confirm *Confirmations, timeout time.Duration) *Handlers {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	if confirm == nil {
		confirm = NewConfirmations()
	}
	return &Handlers{
		ctl:     ctl,
		confirm: confirm,
		timeout: timeout,
		log:     slog.Default().With(slog.String("component", "controls")),
	}
}

// Confirmations returns the registry delete requests wait on.
func (h *Handlers) Confirmations() *Confirmations { return h.confirm }

// Authorize lets userID act on channelID if they own it or nobody does. An
// unclaimed channel is claimed by whoever acts on it first.
func (h *Handlers) Authorize(ctx context.Context, channelID, userID string) error {
	if err := h.gate(ctx, channelID, userID); err != nil {
		return err
	}
	return h.ctl.Claim(ctx, channelID, userID)
}

func (h *Handlers) OnRenameRequested(ctx context.Context, channelID, requestedName, requesterID string) error {
	if err := h.Authorize(ctx, channelID, requesterID); err != nil {
		return err
	}
	return h.ctl.Rename(ctx, channelID, requestedName)
}

func (h *Handlers) OnOwnershipClaim(ctx context.Context, channelID, requesterID string) error {
	ok, err := h.ctl.IsOwnerOrUnclaimed(ctx, channelID, requesterID)
	if err != nil {
		return err
	}
	if !ok {
		return lifecycle.ErrAlreadyOwned
	}
	return h.ctl.Claim(ctx, channelID, requesterID)
}

func (h *Handlers) OnOwnershipRelease(ctx context.Context, channelID, requesterID string) error {
	ok, err := h.ctl.IsOwnerOrUnclaimed(ctx, channelID, requesterID)
	if err != nil {
		return err
	}
	if !ok {
		return lifecycle.ErrNotOwner
	}
	return h.ctl.Release(ctx, channelID, requesterID)
}

func (h *Handlers) OnOwnershipTransfer(ctx context.Context, channelID, fromID, toID string) error {
	if err := h.Authorize(ctx, channelID, fromID); err != nil {
		return err
	}
	return h.ctl.Transfer(ctx, channelID, fromID, toID)
}

func (h *Handlers) OnVisibilityChange(ctx context.Context, channelID, requesterID string, v store.Visibility) error {
	if err := h.Authorize(ctx, channelID, requesterID); err != nil {
		return err
	}
	return h.ctl.SetVisibility(ctx, channelID, v)
}

func (h *Handlers) OnUserLimitChange(ctx context.Context, channelID, requesterID string, limit int) error {
	if err := h.Authorize(ctx, channelID, requesterID); err != nil {
		return err
	}
	return h.ctl.SetUserLimit(ctx, channelID, limit)
}

// gate is Authorize without the claim.
func (h *Handlers) gate(ctx context.Context, channelID, userID string) error {
	ok, err := h.ctl.IsOwnerOrUnclaimed(ctx, channelID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return lifecycle.ErrNotOwner
	}
	return nil
}

// OnDeleteRequested waits for the requester to confirm, then deletes the
// channel. Nothing happens if the confirmation times out or is declined: an
// unclaimed channel stays unclaimed until the requester answers yes.
func (h *Handlers) OnDeleteRequested(ctx context.Context, channelID, requesterID string) error {
	if err := h.gate(ctx, channelID, requesterID); err != nil {
		return err
	}
	yes, err := h.confirm.Await(ctx, ConfirmKey(channelID, requesterID), h.timeout)
	if err != nil {
		h.log.Info("delete not confirmed", slog.String("channel_id", channelID), slog.Any("err", err))
		return err
	}
	if !yes {
		return ErrDeleteCancelled
	}
	if err := h.ctl.Claim(ctx, channelID, requesterID); err != nil {
		return err
	}
	return h.ctl.Delete(ctx, channelID)
}
