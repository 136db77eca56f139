package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeltedButter77/robotnic/platform"
	"github.com/MeltedButter77/robotnic/store"
	"github.com/MeltedButter77/robotnic/telemetry"
)

// provisioningGrace is how long a Provisioning record may sit before the
// reconciliation sweep treats it as abandoned.
const provisioningGrace = 5 * time.Minute

const forbiddenDeleteMessage = "I don't have permission to delete this channel, so it will stay until an admin removes it."

// OnTempLeave handles userID leaving channelID for toChannelID ("" when they
// disconnected). Empty channels are reclaimed; a departing owner releases
// ownership. Siblings from the same creator are refreshed afterwards.
func (c *Controller) OnTempLeave(ctx context.Context, channelID, userID, toChannelID string) error {
	if channelID == toChannelID {
		return nil
	}
	tc, err := c.store.GetTempChannel(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load temp channel: %w", err)
	}
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "lifecycle"), slog.String("channel_id", channelID))

	ch, err := c.platform.Channel(ctx, channelID)
	switch {
	case platform.IsNotFound(err):
		c.forget(ctx, log, channelID)
	case err != nil:
		return fmt.Errorf("read temp channel: %w", err)
	case len(c.humans(ch.Members)) == 0:
		if err := c.reclaim(ctx, log, tc); err != nil {
			log.Warn("reclaim failed", slog.Any("err", err))
		}
	default:
		released, changed, err := c.update(ctx, channelID, func(r *store.TempChannel) error {
			if r.OwnerID != userID {
				return errUnchanged
			}
			r.OwnerID = ""
			return nil
		})
		switch {
		case errors.Is(err, ErrNotTempChannel):
			// reclaimed or deleted meanwhile
		case err != nil:
			return fmt.Errorf("clear owner: %w", err)
		case changed:
			log.Info("owner left, channel is claimable", slog.String("user_id", userID))
			c.afterOwnerChange(ctx, released)
		}
	}

	c.refreshSiblings(ctx, tc.CreatorID)
	return nil
}

// humans drops the bot from a member list.
func (c *Controller) humans(members []string) []string {
	bot := c.platform.BotUserID()
	out := members[:0:0]
	for _, m := range members {
		if m != bot {
			out = append(out, m)
		}
	}
	return out
}

func (c *Controller) refreshSiblings(ctx context.Context, creatorID string) {
	siblings, err := c.store.ListTempChannelsByCreator(ctx, creatorID)
	if err != nil {
		c.log.Warn("failed to list sibling channels", slog.String("creator_id", creatorID), slog.Any("err", err))
		return
	}
	if len(siblings) == 0 {
		return
	}
	ids := make([]string, 0, len(siblings))
	for _, s := range siblings {
		ids = append(ids, s.ChannelID)
	}
	if err := c.RefreshNames(ctx, ids); err != nil {
		c.log.Warn("sibling refresh had failures", slog.String("creator_id", creatorID), slog.Any("err", err))
	}
}

// reclaim deletes an empty temp channel and its record. Concurrent calls for
// the same channel collapse into one. NotFound counts as success; Forbidden
// leaves the record in place and tells the channel.
func (c *Controller) reclaim(ctx context.Context, log *slog.Logger, tc store.TempChannel) error {
	c.mu.Lock()
	if _, busy := c.reclaiming[tc.ChannelID]; busy {
		c.mu.Unlock()
		return nil
	}
	c.reclaiming[tc.ChannelID] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.reclaiming, tc.ChannelID)
		c.mu.Unlock()
	}()

	err := c.platform.DeleteChannel(ctx, tc.ChannelID)
	switch platform.KindOf(err) {
	case platform.KindOK, platform.KindNotFound:
	case platform.KindForbidden:
		c.notify(ctx, tc.ChannelID, forbiddenDeleteMessage)
		return fmt.Errorf("delete channel: %w", err)
	default:
		return fmt.Errorf("delete channel: %w", err)
	}
	if err := c.store.DeleteTempChannel(ctx, tc.ChannelID); err != nil {
		return fmt.Errorf("delete temp channel record: %w", err)
	}
	c.renamer.Forget(tc.ChannelID)
	telemetry.Inc(telemetry.ChannelsReclaimed)
	log.Info("temp channel reclaimed")
	return nil
}

// forget drops the record of a channel that no longer exists.
func (c *Controller) forget(ctx context.Context, log *slog.Logger, channelID string) {
	if err := c.store.DeleteTempChannel(ctx, channelID); err != nil {
		log.Warn("failed to delete orphaned record", slog.Any("err", err))
		return
	}
	c.renamer.Forget(channelID)
}

// Delete removes a temp channel on request, whether or not it is empty.
func (c *Controller) Delete(ctx context.Context, channelID string) error {
	tc, err := c.store.GetTempChannel(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotTempChannel
	}
	if err != nil {
		return err
	}
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "lifecycle"), slog.String("channel_id", channelID))
	if err := c.reclaim(ctx, log, tc); err != nil {
		return err
	}
	c.refreshSiblings(ctx, tc.CreatorID)
	return nil
}

// OnChannelDeleted drops whatever record exists for a channel deleted on the
// platform.
func (c *Controller) OnChannelDeleted(ctx context.Context, channelID string) error {
	if _, err := c.store.GetCreatorChannel(ctx, channelID); err == nil {
		c.log.Info("creator channel deleted, removing record", slog.String("channel_id", channelID))
		if err := c.store.DeleteCreatorChannel(ctx, channelID); err != nil {
			return err
		}
	}
	tc, err := c.store.GetTempChannel(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := c.store.DeleteTempChannel(ctx, channelID); err != nil {
		return err
	}
	c.renamer.Forget(channelID)
	c.refreshSiblings(ctx, tc.CreatorID)
	return nil
}

// Reconcile removes records whose platform channel is gone, reclaims active
// channels that emptied without a leave event, and drops stale creator
// records. It returns how many records were removed.
func (c *Controller) Reconcile(ctx context.Context) (int, error) {
	log := c.log.With(slog.String("job", "reconcile"))
	removed := 0
	var errs []error

	ids, err := c.store.ListTempChannelIDs(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list temp channels: %w", err)
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		tc, err := c.store.GetTempChannel(ctx, id)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				errs = append(errs, err)
			}
			continue
		}
		ch, err := c.platform.Channel(ctx, id)
		if platform.IsNotFound(err) {
			if err := c.store.DeleteTempChannel(ctx, id); err != nil {
				errs = append(errs, err)
				continue
			}
			c.renamer.Forget(id)
			removed++
			telemetry.Inc(telemetry.RecordsReconciled)
			log.Info("removed orphaned temp channel record", slog.String("channel_id", id))
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(c.humans(ch.Members)) > 0 {
			continue
		}
		stale := tc.State == store.StateActive || time.Since(tc.CreatedAt) > provisioningGrace
		if !stale {
			continue
		}
		if err := c.reclaim(ctx, log.With(slog.String("channel_id", id)), tc); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	creators, err := c.store.ListCreatorChannels(ctx, "")
	if err != nil {
		errs = append(errs, fmt.Errorf("list creator channels: %w", err))
	}
	for _, cc := range creators {
		if _, err := c.platform.Channel(ctx, cc.ChannelID); !platform.IsNotFound(err) {
			continue
		}
		if err := c.store.DeleteCreatorChannel(ctx, cc.ChannelID); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
		telemetry.Inc(telemetry.RecordsReconciled)
		log.Info("removed creator record for deleted channel", slog.String("channel_id", cc.ChannelID))
	}
	return removed, errors.Join(errs...)
}
