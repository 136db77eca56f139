package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MeltedButter77/robotnic/naming"
	"github.com/MeltedButter77/robotnic/platform"
	"github.com/MeltedButter77/robotnic/store"
)

func (c *Controller) load(ctx context.Context, channelID string) (store.TempChannel, error) {
	tc, err := c.store.GetTempChannel(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		return tc, ErrNotTempChannel
	}
	return tc, err
}

// TempChannel returns the record for channelID.
func (c *Controller) TempChannel(ctx context.Context, channelID string) (store.TempChannel, error) {
	return c.load(ctx, channelID)
}

// IsOwnerOrUnclaimed reports whether userID may manage channelID.
func (c *Controller) IsOwnerOrUnclaimed(ctx context.Context, channelID, userID string) (bool, error) {
	tc, err := c.load(ctx, channelID)
	if err != nil {
		return false, err
	}
	return !tc.Claimed() || tc.OwnerID == userID, nil
}

// update applies fn to the stored record of channelID. It reports false
// without error when fn returned errUnchanged.
func (c *Controller) update(ctx context.Context, channelID string, fn func(*store.TempChannel) error) (store.TempChannel, bool, error) {
	tc, err := c.store.UpdateTempChannel(ctx, channelID, fn)
	switch {
	case errors.Is(err, errUnchanged):
		return tc, false, nil
	case errors.Is(err, store.ErrNotFound):
		return tc, false, ErrNotTempChannel
	case err != nil:
		return tc, false, err
	}
	return tc, true, nil
}

// Claim makes userID the owner of an unclaimed channel.
func (c *Controller) Claim(ctx context.Context, channelID, userID string) error {
	return c.changeOwner(ctx, channelID, func(tc *store.TempChannel) error {
		if tc.OwnerID == userID {
			return errUnchanged
		}
		if tc.Claimed() {
			return ErrAlreadyOwned
		}
		tc.OwnerID = userID
		return nil
	})
}

// Transfer hands ownership from fromID to toID. fromID must own the channel,
// or the channel must be unclaimed.
func (c *Controller) Transfer(ctx context.Context, channelID, fromID, toID string) error {
	return c.changeOwner(ctx, channelID, func(tc *store.TempChannel) error {
		if tc.Claimed() && tc.OwnerID != fromID {
			return ErrNotOwner
		}
		if toID == "" || toID == c.platform.BotUserID() {
			return fmt.Errorf("invalid transfer target %q", toID)
		}
		if tc.OwnerID == toID {
			return errUnchanged
		}
		tc.OwnerID = toID
		return nil
	})
}

// Release gives up ownership; the next member to interact may claim it.
func (c *Controller) Release(ctx context.Context, channelID, userID string) error {
	return c.changeOwner(ctx, channelID, func(tc *store.TempChannel) error {
		if tc.OwnerID != userID {
			return ErrNotOwner
		}
		tc.OwnerID = ""
		return nil
	})
}

// changeOwner checks and writes the owner against the stored record, then
// refreshes the controls and name.
func (c *Controller) changeOwner(ctx context.Context, channelID string, fn func(*store.TempChannel) error) error {
	tc, changed, err := c.update(ctx, channelID, fn)
	if err != nil || !changed {
		return err
	}
	c.log.Info("ownership changed", slog.String("channel_id", tc.ChannelID), slog.String("owner_id", tc.OwnerID))
	c.afterOwnerChange(ctx, tc)
	return nil
}

// afterOwnerChange refreshes the controls and, for {user} templates, the name.
func (c *Controller) afterOwnerChange(ctx context.Context, tc store.TempChannel) {
	c.refreshInfo(ctx, tc)
	if tc.RenameOverride {
		return
	}
	cc, err := c.store.GetCreatorChannel(ctx, tc.CreatorID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		c.log.Warn("failed to load creator channel", slog.String("creator_id", tc.CreatorID), slog.Any("err", err))
		return
	}
	if !naming.UsesUser(templateOf(cc)) {
		return
	}
	if err := c.scheduleTemplateName(ctx, tc); err != nil {
		c.log.Warn("failed to schedule rename after ownership change", slog.String("channel_id", tc.ChannelID), slog.Any("err", err))
	}
}

// SetVisibility rewrites the default role's access to the channel.
func (c *Controller) SetVisibility(ctx context.Context, channelID string, v store.Visibility) error {
	tc, err := c.load(ctx, channelID)
	if err != nil {
		return err
	}
	ch, err := c.platform.Channel(ctx, channelID)
	if err != nil {
		return fmt.Errorf("read channel: %w", err)
	}
	ows := visibilityOverwrites(ch.Overwrites, tc.GuildID, c.platform.BotUserID(), tc.OwnerID, v)
	if err := c.platform.EditChannel(ctx, channelID, platform.ChannelEdit{Overwrites: ows}); err != nil {
		return fmt.Errorf("apply visibility: %w", err)
	}
	tc, _, err = c.update(ctx, channelID, func(r *store.TempChannel) error {
		r.Visibility = v
		return nil
	})
	if err != nil {
		return fmt.Errorf("store visibility: %w", err)
	}
	c.refreshInfo(ctx, tc)
	return nil
}

// SetUserLimit changes the channel's user limit; 0 removes it.
func (c *Controller) SetUserLimit(ctx context.Context, channelID string, limit int) error {
	if limit < 0 || limit > MaxUserLimit {
		return ErrInvalidUserLimit
	}
	tc, err := c.load(ctx, channelID)
	if err != nil {
		return err
	}
	if err := c.platform.EditChannel(ctx, channelID, platform.ChannelEdit{UserLimit: platform.Int(limit)}); err != nil {
		return fmt.Errorf("apply user limit: %w", err)
	}
	c.refreshInfo(ctx, tc)
	return nil
}

// Rename sets a manual name, which stops template renames for the channel.
// An empty name clears the override and restores the template name.
func (c *Controller) Rename(ctx context.Context, channelID, name string) error {
	name = strings.TrimSpace(name)
	override := name != ""
	tc, _, err := c.update(ctx, channelID, func(r *store.TempChannel) error {
		r.RenameOverride = override
		return nil
	})
	if err != nil {
		return err
	}
	if !override {
		c.refreshInfo(ctx, tc)
		return c.scheduleTemplateName(ctx, tc)
	}
	c.renamer.Schedule(channelID, naming.Truncate(name, naming.MaxLength))
	c.refreshInfo(ctx, tc)
	return nil
}
