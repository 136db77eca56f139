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

// OnCreatorJoin provisions a temp channel for userID, who just joined
// creatorID. It returns the new channel id, or "" when creatorID is not a
// creator channel.
//
// Until the member has been moved, any failure removes everything created so
// far. Once the member occupies the channel only the record is removed on
// failure; the channel itself is left to its occupant.
func (c *Controller) OnCreatorJoin(ctx context.Context, guildID, creatorID, userID string) (channelID string, err error) {
	cc, err := c.store.GetCreatorChannel(ctx, creatorID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load creator channel: %w", err)
	}

	ctx, span := telemetry.StartSpan(ctx, "lifecycle", "lifecycle.provision",
		telemetry.GuildAttr(guildID), telemetry.ChannelAttr(creatorID), telemetry.UserAttr(userID))
	defer func() { telemetry.EndSpan(span, err) }()
	log := telemetry.LoggerWithCorr(ctx).With(
		slog.String("component", "lifecycle"),
		slog.String("creator_id", creatorID),
		slog.String("user_id", userID))

	creator, err := c.platform.Channel(ctx, creatorID)
	if platform.IsNotFound(err) {
		log.Info("creator channel no longer exists, removing record")
		return "", c.store.DeleteCreatorChannel(ctx, creatorID)
	}
	if err != nil {
		return "", fmt.Errorf("read creator channel: %w", err)
	}

	parentID := creator.ParentID
	if cc.CategoryPolicy == store.CategorySpecific && cc.CategoryID != "" {
		parentID = cc.CategoryID
	}
	base, err := c.baseOverwrites(ctx, cc, creator, parentID)
	if err != nil {
		return "", err
	}
	overwrites := provisionOverwrites(base, c.platform.BotUserID(), userID)

	permsAt := parentID
	if permsAt == "" {
		permsAt = creatorID
	}
	if perms, perr := c.platform.Permissions(permsAt); perr == nil {
		if missing := missingPerms(perms); len(missing) > 0 {
			return "", c.reportMissing(ctx, creatorID, missing)
		}
	}

	channelID, err = c.platform.CreateVoiceChannel(ctx, platform.CreateChannel{
		GuildID:    guildID,
		Name:       c.cfg.PlaceholderName,
		ParentID:   parentID,
		Overwrites: overwrites,
		UserLimit:  cc.UserLimit,
		Position:   creator.Position + 1,
	})
	if err != nil {
		telemetry.IncKind(telemetry.ProvisionFailures, "create")
		if platform.IsForbidden(err) {
			var missing []string
			if perms, perr := c.platform.Permissions(permsAt); perr == nil {
				missing = missingPerms(perms)
			}
			c.reportMissing(ctx, creatorID, missing)
		}
		return "", fmt.Errorf("create channel: %w", err)
	}
	log = log.With(slog.String("channel_id", channelID))

	seq, err := store.NextSequence(ctx, c.store, creatorID)
	if err != nil {
		c.abandonChannel(ctx, log, channelID)
		telemetry.IncKind(telemetry.ProvisionFailures, "persist")
		return "", err
	}
	tc := store.TempChannel{
		GuildID:        guildID,
		ChannelID:      channelID,
		CreatorID:      creatorID,
		OwnerID:        userID,
		SequenceNumber: seq,
		State:          store.StateProvisioning,
		CreatedAt:      time.Now().UTC(),
	}
	if err := c.store.UpsertTempChannel(ctx, tc); err != nil {
		c.abandonChannel(ctx, log, channelID)
		telemetry.IncKind(telemetry.ProvisionFailures, "persist")
		return "", fmt.Errorf("persist temp channel: %w", err)
	}

	if err := c.platform.MoveMember(ctx, guildID, userID, &channelID); err != nil {
		if platform.KindOf(err) == platform.KindRaceLost {
			log.Info("member left before the move, rolling back", slog.Any("err", err))
		} else {
			log.Warn("failed to move member, rolling back", slog.Any("err", err))
		}
		if derr := c.store.DeleteTempChannel(ctx, channelID); derr != nil {
			log.Error("failed to remove record during rollback", slog.Any("err", derr))
		}
		c.abandonChannel(ctx, log, channelID)
		telemetry.IncKind(telemetry.ProvisionFailures, "move")
		return "", fmt.Errorf("move member: %w", err)
	}

	if err := c.activate(ctx, log, &tc, cc, overwrites); err != nil {
		if derr := c.store.DeleteTempChannel(ctx, channelID); derr != nil {
			log.Error("failed to remove record after activation failure", slog.Any("err", derr))
		}
		return "", err
	}

	telemetry.Inc(telemetry.ChannelsProvisioned)
	log.Info("temp channel provisioned", slog.Int("sequence", seq))
	return channelID, nil
}

// activate names the occupied channel, re-applies its limit and overwrites,
// marks the record active and attaches the control surface.
func (c *Controller) activate(ctx context.Context, log *slog.Logger, tc *store.TempChannel, cc store.CreatorChannel, overwrites []platform.Overwrite) error {
	ch, err := c.platform.Channel(ctx, tc.ChannelID)
	if err != nil {
		telemetry.IncKind(telemetry.ProvisionFailures, "name")
		return fmt.Errorf("read new channel: %w", err)
	}
	name := c.renderName(ctx, *tc, cc, ch)
	edit := platform.ChannelEdit{
		Name:       platform.String(name),
		UserLimit:  platform.Int(cc.UserLimit),
		Overwrites: overwrites,
	}
	err = c.platform.EditChannel(ctx, tc.ChannelID, edit)
	if platform.KindOf(err) == platform.KindRateLimited {
		log.Warn("initial rename rate limited, deferring name to renamer", slog.Duration("retry_after", platform.RetryAfterOf(err)))
		edit.Name = nil
		err = c.platform.EditChannel(ctx, tc.ChannelID, edit)
		if err == nil {
			c.renamer.Schedule(tc.ChannelID, name)
		}
	}
	if err != nil {
		telemetry.IncKind(telemetry.ProvisionFailures, "name")
		return fmt.Errorf("apply channel settings: %w", err)
	}

	active, err := c.store.UpdateTempChannel(ctx, tc.ChannelID, func(r *store.TempChannel) error {
		r.State = store.StateActive
		return nil
	})
	if err != nil {
		telemetry.IncKind(telemetry.ProvisionFailures, "persist")
		return fmt.Errorf("activate temp channel: %w", err)
	}
	*tc = active

	msgID, err := c.surface.Attach(ctx, *tc)
	if err != nil {
		telemetry.IncKind(telemetry.ProvisionFailures, "attach")
		return fmt.Errorf("attach controls: %w", err)
	}
	if msgID != "" {
		attached, err := c.store.UpdateTempChannel(ctx, tc.ChannelID, func(r *store.TempChannel) error {
			r.ControlMessageID = msgID
			return nil
		})
		if err != nil {
			log.Warn("failed to store control message id", slog.Any("err", err))
			return nil
		}
		*tc = attached
	}
	return nil
}

// baseOverwrites resolves the overwrites a new channel starts from.
func (c *Controller) baseOverwrites(ctx context.Context, cc store.CreatorChannel, creator *platform.Channel, parentID string) ([]platform.Overwrite, error) {
	switch cc.OverwritePolicy {
	case store.OverwriteInheritCreator:
		return creator.Overwrites, nil
	case store.OverwriteInheritCategory:
		if parentID == "" {
			return nil, nil
		}
		cat, err := c.platform.Channel(ctx, parentID)
		if platform.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read category: %w", err)
		}
		return cat.Overwrites, nil
	default:
		return nil, nil
	}
}

func (c *Controller) reportMissing(ctx context.Context, creatorID string, missing []string) error {
	perr := &MissingPermissionsError{ChannelID: creatorID, Missing: missing}
	telemetry.IncKind(telemetry.ProvisionFailures, "permissions")
	c.notify(ctx, creatorID, perr.Message())
	return perr
}

// abandonChannel deletes a channel nobody occupies yet.
func (c *Controller) abandonChannel(ctx context.Context, log *slog.Logger, channelID string) {
	if err := c.platform.DeleteChannel(ctx, channelID); err != nil && !platform.IsNotFound(err) {
		log.Error("failed to delete abandoned channel", slog.Any("err", err))
	}
}
