package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MeltedButter77/robotnic/naming"
	"github.com/MeltedButter77/robotnic/platform"
	"github.com/MeltedButter77/robotnic/store"
	"github.com/MeltedButter77/robotnic/telemetry"
)

// RefreshAll refreshes every temp channel record.
func (c *Controller) RefreshAll(ctx context.Context) error {
	ids, err := c.store.ListTempChannelIDs(ctx, "")
	if err != nil {
		return fmt.Errorf("list temp channels: %w", err)
	}
	telemetry.SetTempChannels(len(ids))
	return c.RefreshNames(ctx, ids)
}

// RefreshNames compacts sequence numbers, schedules template renames and
// refreshes control surfaces for channelIDs. Channels are processed
// concurrently and independently; the returned error joins every failure.
func (c *Controller) RefreshNames(ctx context.Context, channelIDs []string) error {
	start := time.Now()
	defer func() { telemetry.Observe(telemetry.RefreshDuration, time.Since(start)) }()

	records := make([]store.TempChannel, 0, len(channelIDs))
	creators := make(map[string]store.CreatorChannel)
	var errs []error
	for _, id := range channelIDs {
		tc, err := c.store.GetTempChannel(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", id, err))
			continue
		}
		records = append(records, tc)
		if _, seen := creators[tc.CreatorID]; seen {
			continue
		}
		cc, err := c.store.GetCreatorChannel(ctx, tc.CreatorID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			errs = append(errs, fmt.Errorf("load creator %s: %w", tc.CreatorID, err))
		}
		creators[tc.CreatorID] = cc
	}

	renumbered := make(map[string]bool)
	for creatorID, cc := range creators {
		if !c.cfg.RenumberAll && !naming.UsesCount(templateOf(cc)) {
			continue
		}
		changed, err := store.Renumber(ctx, c.store, creatorID)
		if err != nil {
			errs = append(errs, fmt.Errorf("renumber %s: %w", creatorID, err))
			continue
		}
		renumbered[creatorID] = changed
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.cfg.RefreshConcurrency)
	for _, tc := range records {
		g.Go(func() error {
			if renumbered[tc.CreatorID] {
				fresh, err := c.store.GetTempChannel(ctx, tc.ChannelID)
				if err == nil {
					tc = fresh
				}
			}
			if err := c.refreshOne(ctx, tc, creators[tc.CreatorID]); err != nil {
				telemetry.Inc(telemetry.RefreshFailures)
				c.log.Warn("refresh failed", slog.String("channel_id", tc.ChannelID), slog.Any("err", err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("refresh %s: %w", tc.ChannelID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (c *Controller) refreshOne(ctx context.Context, tc store.TempChannel, cc store.CreatorChannel) error {
	ch, err := c.platform.Channel(ctx, tc.ChannelID)
	if platform.IsNotFound(err) {
		if err := c.store.DeleteTempChannel(ctx, tc.ChannelID); err != nil {
			return err
		}
		c.renamer.Forget(tc.ChannelID)
		return nil
	}
	if err != nil {
		return err
	}
	if !tc.RenameOverride && len(c.humans(ch.Members)) > 0 {
		c.scheduleName(tc.ChannelID, ch.Name, c.renderName(ctx, tc, cc, ch))
	}
	c.refreshInfo(ctx, tc)
	return nil
}
