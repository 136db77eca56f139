// Package lifecycle drives temp channels through provisioning, naming,
// ownership changes and reclamation.
//
// The Controller never holds a lock across a platform or store call. The
// store is the only place ownership, sequence numbers and rename overrides
// live; every handler reads what it needs and writes back before returning.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MeltedButter77/robotnic/naming"
	"github.com/MeltedButter77/robotnic/platform"
	"github.com/MeltedButter77/robotnic/store"
)

// DefaultTemplate is used for creators without a child name template.
const DefaultTemplate = "{user}'s Room"

// Surface is the control surface attached to each temp channel.
type Surface interface {
	// Attach posts the controls and returns the control message id.
	Attach(ctx context.Context, tc store.TempChannel) (string, error)
	RefreshInfo(ctx context.Context, tc store.TempChannel) error
	Notify(ctx context.Context, channelID, message string) error
}

// Renamer applies names asynchronously.
type Renamer interface {
	Schedule(channelID, name string)
	Forget(channelID string)
	// Pending returns the target still waiting to be applied, if any.
	Pending(channelID string) (string, bool)
}

// Config tunes the Controller.
type Config struct {
	Naming naming.Engine
	// RefreshConcurrency bounds channels refreshed at once.
	RefreshConcurrency int
	// RenumberAll compacts sequence numbers for creators whose template lacks {count}.
	RenumberAll bool
	// PlaceholderName is the name a channel is created with before its real name is known.
	PlaceholderName string
}

// Controller implements the temp channel state machine.
type Controller struct {
	store    store.Store
	platform platform.Client
	renamer  Renamer
	surface  Surface
	cfg      Config
	log      *slog.Logger

	mu         sync.Mutex
	reclaiming map[string]struct{}
}

// New builds a Controller. A nil surface discards control surface traffic.
func New(st store.Store, pc platform.Client, rn Renamer, surface Surface, cfg Config) *Controller {
	if cfg.Naming.Unclaimed == "" && cfg.Naming.NoActivity == "" {
		cfg.Naming = naming.Default
	}
	if cfg.RefreshConcurrency <= 0 {
		cfg.RefreshConcurrency = 8
	}
	if cfg.PlaceholderName == "" {
		cfg.PlaceholderName = "New channel"
	}
	if surface == nil {
		surface = nopSurface{}
	}
	return &Controller{
		store:      st,
		platform:   pc,
		renamer:    rn,
		surface:    surface,
		cfg:        cfg,
		log:        slog.Default().With(slog.String("component", "lifecycle")),
		reclaiming: make(map[string]struct{}),
	}
}

// Store returns the controller's store.
func (c *Controller) Store() store.Store { return c.store }

type nopSurface struct{}

func (nopSurface) Attach(context.Context, store.TempChannel) (string, error) { return "", nil }
func (nopSurface) RefreshInfo(context.Context, store.TempChannel) error      { return nil }
func (nopSurface) Notify(context.Context, string, string) error              { return nil }

func templateOf(cc store.CreatorChannel) string {
	if cc.ChildNameTemplate == "" {
		return DefaultTemplate
	}
	return cc.ChildNameTemplate
}

// renderName computes the template-driven name of tc from live channel state.
func (c *Controller) renderName(ctx context.Context, tc store.TempChannel, cc store.CreatorChannel, ch *platform.Channel) string {
	in := naming.Input{Sequence: tc.SequenceNumber}
	if tc.Claimed() {
		in.Owner = c.platform.DisplayName(ctx, tc.GuildID, tc.OwnerID)
	}
	bot := c.platform.BotUserID()
	for _, m := range ch.Members {
		if m == bot {
			continue
		}
		in.Activities = append(in.Activities, c.platform.Activities(tc.GuildID, m)...)
	}
	return c.cfg.Naming.Render(templateOf(cc), in)
}

// scheduleTemplateName hands the template name to the renamer unless the
// channel has a manual override or is empty.
func (c *Controller) scheduleTemplateName(ctx context.Context, tc store.TempChannel) error {
	if tc.RenameOverride {
		return nil
	}
	cc, err := c.store.GetCreatorChannel(ctx, tc.CreatorID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	ch, err := c.platform.Channel(ctx, tc.ChannelID)
	if err != nil {
		return err
	}
	if len(c.humans(ch.Members)) == 0 {
		return nil
	}
	c.scheduleName(tc.ChannelID, ch.Name, c.renderName(ctx, tc, cc, ch))
	return nil
}

// scheduleName hands name to the renamer when it differs from the live name
// or from a target the renamer has not applied yet. The second case replaces
// an older target that would otherwise land after a fresher one.
func (c *Controller) scheduleName(channelID, current, name string) {
	if pending, ok := c.renamer.Pending(channelID); ok {
		if pending != name {
			c.renamer.Schedule(channelID, name)
		}
		return
	}
	if name != current {
		c.renamer.Schedule(channelID, name)
	}
}

func (c *Controller) refreshInfo(ctx context.Context, tc store.TempChannel) {
	if err := c.surface.RefreshInfo(ctx, tc); err != nil {
		c.log.Warn("control surface refresh failed", slog.String("channel_id", tc.ChannelID), slog.Any("err", err))
	}
}

func (c *Controller) notify(ctx context.Context, channelID, msg string) {
	if err := c.surface.Notify(ctx, channelID, msg); err != nil {
		c.log.Warn("notify failed", slog.String("channel_id", channelID), slog.Any("err", err))
	}
}
