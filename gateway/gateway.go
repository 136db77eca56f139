// Package gateway turns discordgo session events into lifecycle calls.
//
// Voice, channel and presence events are queued and handled one at a time
// by a single worker, so the lifecycle controller sees them in arrival order.
// Interactions are answered right away on their own task because the platform
// expects a response within a few seconds.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/MeltedButter77/robotnic/tasks"
	"github.com/MeltedButter77/robotnic/telemetry"
)

var (
	// ErrQueueFull is returned by Enqueue when the event buffer is saturated.
	ErrQueueFull = errors.New("gateway event queue full")
	// ErrNotConnected is reported by Ready until the session is ready.
	ErrNotConnected = errors.New("gateway session not connected")
)

// DefaultQueueSize is used when New is given a non-positive size.
const DefaultQueueSize = 256

// Intents are the gateway intents the bot needs: voice states for joins and
// leaves, presences and members for names and activities, message content for
// typed confirmations.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildPresences |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsMessageContent

// Lifecycle is the part of the lifecycle controller driven by events.
type Lifecycle interface {
	OnCreatorJoin(ctx context.Context, guildID, creatorID, userID string) (string, error)
	OnTempLeave(ctx context.Context, channelID, userID, toChannelID string) error
	OnChannelDeleted(ctx context.Context, channelID string) error
	RefreshNames(ctx context.Context, channelIDs []string) error
}

// Interactions answers control surface events.
type Interactions interface {
	HandleInteraction(ctx context.Context, i *discordgo.Interaction)
	HandleMessage(channelID, authorID, content string) bool
}

type event struct {
	kind string
	corr string
	fn   func(ctx context.Context) error
}

// Gateway queues platform events for the lifecycle controller.
type Gateway struct {
	ctl    Lifecycle
	ui     Interactions
	group  *tasks.Group
	events chan event
	botID  string
	ready  atomic.Bool
	log    *slog.Logger
}

// New returns a Gateway. Call Start to begin handling queued events.
func New(ctl Lifecycle, ui Interactions, group *tasks.Group, queueSize int) *Gateway {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Gateway{
		ctl:    ctl,
		ui:     ui,
		group:  group,
		events: make(chan event, queueSize),
		log:    slog.Default().With(slog.String("component", "gateway")),
	}
}

// Register attaches the handlers to s and configures its intents. Events are
// delivered synchronously so the queue preserves their order.
func (g *Gateway) Register(s *discordgo.Session) {
	s.SyncEvents = true
	s.Identify.Intents = Intents
	if s.State != nil {
		s.State.TrackVoice = true
		s.State.TrackPresences = true
	}
	s.AddHandler(g.onReady)
	s.AddHandler(g.onDisconnect)
	s.AddHandler(g.onVoiceStateUpdate)
	s.AddHandler(g.onChannelDelete)
	s.AddHandler(g.onPresenceUpdate)
	s.AddHandler(g.onMessageCreate)
	s.AddHandler(g.onInteractionCreate)
}

// Start runs the event worker on the task group until its context ends.
func (g *Gateway) Start() {
	g.group.Go("gateway-events", g.run)
}

func (g *Gateway) run(ctx context.Context) {
	g.log.Info("event worker started")
	defer g.log.Info("event worker stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-g.events:
			telemetry.SetQueueDepth(len(g.events))
			g.handle(ctx, ev)
		}
	}
}

func (g *Gateway) handle(ctx context.Context, ev event) {
	ctx = telemetry.WithCorrelation(ctx, ev.corr)
	telemetry.IncKind(telemetry.GatewayEvents, ev.kind)
	if err := ev.fn(ctx); err != nil {
		telemetry.IncKind(telemetry.GatewayEventErrors, ev.kind)
		telemetry.LoggerWithCorr(ctx).Warn("event handler failed",
			slog.String("component", "gateway"), slog.String("event", ev.kind), slog.Any("err", err))
	}
}

// Enqueue adds an event without blocking the session's read loop.
func (g *Gateway) Enqueue(kind string, fn func(ctx context.Context) error) error {
	ev := event{kind: kind, corr: uuid.New().String(), fn: fn}
	select {
	case g.events <- ev:
		telemetry.SetQueueDepth(len(g.events))
		return nil
	default:
		g.log.Error("dropping event, queue full", slog.String("event", kind), slog.Int("capacity", cap(g.events)))
		return ErrQueueFull
	}
}

// VoiceMoved queues the leave and join that a voice state change implies.
// before and after are channel ids, "" meaning not connected.
func (g *Gateway) VoiceMoved(guildID, userID, before, after string) {
	if before == after || userID == "" || userID == g.botID {
		return
	}
	if before != "" {
		_ = g.Enqueue("temp_leave", func(ctx context.Context) error {
			return g.ctl.OnTempLeave(ctx, before, userID, after)
		})
	}
	if after != "" {
		_ = g.Enqueue("creator_join", func(ctx context.Context) error {
			_, err := g.ctl.OnCreatorJoin(ctx, guildID, after, userID)
			return err
		})
	}
}

// ChannelDeleted queues cleanup for a channel removed on the platform.
func (g *Gateway) ChannelDeleted(channelID string) {
	_ = g.Enqueue("channel_delete", func(ctx context.Context) error {
		return g.ctl.OnChannelDeleted(ctx, channelID)
	})
}

// ActivityChanged queues a name refresh for the voice channel a member is in.
func (g *Gateway) ActivityChanged(channelID string) {
	if channelID == "" {
		return
	}
	_ = g.Enqueue("presence", func(ctx context.Context) error {
		return g.ctl.RefreshNames(ctx, []string{channelID})
	})
}

// Ready reports whether the session is connected.
func (g *Gateway) Ready() error {
	if !g.ready.Load() {
		return ErrNotConnected
	}
	return nil
}

func (g *Gateway) onReady(s *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		g.botID = r.User.ID
	}
	g.ready.Store(true)
	g.log.Info("session ready", slog.String("user_id", g.botID), slog.Int("guilds", len(r.Guilds)))
}

func (g *Gateway) onDisconnect(s *discordgo.Session, d *discordgo.Disconnect) {
	g.ready.Store(false)
	g.log.Warn("session disconnected")
}

func (g *Gateway) onVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if vs.VoiceState == nil {
		return
	}
	before := ""
	if vs.BeforeUpdate != nil {
		before = vs.BeforeUpdate.ChannelID
	}
	g.VoiceMoved(vs.GuildID, vs.UserID, before, vs.ChannelID)
}

func (g *Gateway) onChannelDelete(s *discordgo.Session, cd *discordgo.ChannelDelete) {
	if cd.Channel == nil {
		return
	}
	g.ChannelDeleted(cd.ID)
}

func (g *Gateway) onPresenceUpdate(s *discordgo.Session, p *discordgo.PresenceUpdate) {
	if p.User == nil || s.State == nil {
		return
	}
	vs, err := s.State.VoiceState(p.GuildID, p.User.ID)
	if err != nil {
		return
	}
	g.ActivityChanged(vs.ChannelID)
}

func (g *Gateway) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	g.ui.HandleMessage(m.ChannelID, m.Author.ID, m.Content)
}

func (g *Gateway) onInteractionCreate(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	i := ic.Interaction
	g.group.Go("interaction", func(ctx context.Context) {
		ctx = telemetry.WithCorrelation(ctx, uuid.New().String())
		telemetry.IncKind(telemetry.GatewayEvents, "interaction")
		g.ui.HandleInteraction(ctx, i)
	})
}
