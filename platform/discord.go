package platform

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
)

// errCodeTargetNotInVoice is returned when moving a member that already left voice.
const errCodeTargetNotInVoice = 40032

// Discord adapts a discordgo session to API and State.
type Discord struct {
	s *discordgo.Session
}

// NewDiscord wraps s. Automatic 429 retries are switched off so that rate
// limits surface as KindRateLimited errors and the renamer can back off itself.
func NewDiscord(s *discordgo.Session) *Discord {
	s.ShouldRetryOnRateLimit = false
	return &Discord{s: s}
}

// Session returns the underlying session.
func (d *Discord) Session() *discordgo.Session { return d.s }

func (d *Discord) CreateVoiceChannel(ctx context.Context, req CreateChannel) (string, error) {
	ch, err := d.s.GuildChannelCreateComplex(req.GuildID, discordgo.GuildChannelCreateData{
		Name:                 req.Name,
		Type:                 discordgo.ChannelTypeGuildVoice,
		UserLimit:            req.UserLimit,
		Position:             req.Position,
		PermissionOverwrites: toDiscordOverwrites(req.Overwrites),
		ParentID:             req.ParentID,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", classify("create channel", err)
	}
	return ch.ID, nil
}

func (d *Discord) EditChannel(ctx context.Context, channelID string, edit ChannelEdit) error {
	data := &discordgo.ChannelEdit{}
	if edit.Name != nil {
		data.Name = *edit.Name
	}
	// user_limit is omitempty in ChannelEdit, so clearing the limit needs its own request.
	if edit.UserLimit != nil {
		if *edit.UserLimit == 0 {
			if err := d.clearUserLimit(ctx, channelID); err != nil {
				return err
			}
		}
		data.UserLimit = *edit.UserLimit
	}
	if edit.Overwrites != nil {
		data.PermissionOverwrites = toDiscordOverwrites(edit.Overwrites)
	}
	if data.Name == "" && data.UserLimit == 0 && data.PermissionOverwrites == nil {
		return nil
	}
	ch, err := d.s.ChannelEditComplex(channelID, data, discordgo.WithContext(ctx))
	if err != nil {
		return classify("edit channel", err)
	}
	// Keep the cache in step so the next name comparison sees the applied name.
	if ch != nil && d.s.State != nil {
		if err := d.s.State.ChannelAdd(ch); err != nil {
			slog.Debug("state channel update failed", slog.String("channel_id", channelID), slog.Any("err", err))
		}
	}
	return nil
}

func (d *Discord) clearUserLimit(ctx context.Context, channelID string) error {
	endpoint := discordgo.EndpointChannel(channelID)
	_, err := d.s.RequestWithBucketID("PATCH", endpoint, map[string]int{"user_limit": 0}, endpoint, discordgo.WithContext(ctx))
	if err != nil {
		return classify("clear user limit", err)
	}
	return nil
}

func (d *Discord) DeleteChannel(ctx context.Context, channelID string) error {
	if _, err := d.s.ChannelDelete(channelID, discordgo.WithContext(ctx)); err != nil {
		return classify("delete channel", err)
	}
	return nil
}

func (d *Discord) MoveMember(ctx context.Context, guildID, userID string, channelID *string) error {
	if err := d.s.GuildMemberMove(guildID, userID, channelID, discordgo.WithContext(ctx)); err != nil {
		return classify("move member", err)
	}
	return nil
}

func (d *Discord) Channel(ctx context.Context, channelID string) (*Channel, error) {
	ch, err := d.s.State.Channel(channelID)
	if err != nil {
		ch, err = d.s.Channel(channelID, discordgo.WithContext(ctx))
		if err != nil {
			return nil, classify("get channel", err)
		}
	}
	out := &Channel{
		ID:        ch.ID,
		GuildID:   ch.GuildID,
		Name:      ch.Name,
		ParentID:  ch.ParentID,
		Position:  ch.Position,
		UserLimit: ch.UserLimit,
	}
	for _, o := range ch.PermissionOverwrites {
		out.Overwrites = append(out.Overwrites, fromDiscordOverwrite(o))
	}
	out.Members = d.voiceMembers(ch.GuildID, ch.ID)
	return out, nil
}

func (d *Discord) voiceMembers(guildID, channelID string) []string {
	g, err := d.s.State.Guild(guildID)
	if err != nil {
		return nil
	}
	d.s.State.RLock()
	defer d.s.State.RUnlock()
	var members []string
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == channelID {
			members = append(members, vs.UserID)
		}
	}
	return members
}

func (d *Discord) DisplayName(ctx context.Context, guildID, userID string) string {
	m, err := d.s.State.Member(guildID, userID)
	if err != nil {
		m, err = d.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
		if err != nil {
			return ""
		}
	}
	switch {
	case m.Nick != "":
		return m.Nick
	case m.User == nil:
		return ""
	case m.User.GlobalName != "":
		return m.User.GlobalName
	default:
		return m.User.Username
	}
}

func (d *Discord) Activities(guildID, userID string) []string {
	p, err := d.s.State.Presence(guildID, userID)
	if err != nil {
		return nil
	}
	var names []string
	for _, a := range p.Activities {
		if a == nil || a.Type == discordgo.ActivityTypeCustom {
			continue
		}
		names = append(names, a.Name)
	}
	return names
}

func (d *Discord) BotUserID() string {
	if d.s.State == nil || d.s.State.User == nil {
		return ""
	}
	return d.s.State.User.ID
}

func (d *Discord) Permissions(channelID string) (int64, error) {
	perms, err := d.s.State.UserChannelPermissions(d.BotUserID(), channelID)
	if err != nil {
		return 0, classify("channel permissions", err)
	}
	return perms, nil
}

func toDiscordOverwrites(ows []Overwrite) []*discordgo.PermissionOverwrite {
	out := make([]*discordgo.PermissionOverwrite, 0, len(ows))
	for _, o := range ows {
		t := discordgo.PermissionOverwriteTypeRole
		if o.Kind == OverwriteMember {
			t = discordgo.PermissionOverwriteTypeMember
		}
		out = append(out, &discordgo.PermissionOverwrite{ID: o.ID, Type: t, Allow: o.Allow, Deny: o.Deny})
	}
	return out
}

func fromDiscordOverwrite(o *discordgo.PermissionOverwrite) Overwrite {
	kind := OverwriteRole
	if o.Type == discordgo.PermissionOverwriteTypeMember {
		kind = OverwriteMember
	}
	return Overwrite{ID: o.ID, Kind: kind, Allow: o.Allow, Deny: o.Deny}
}

// classify maps discordgo errors onto a Kind.
func classify(op string, err error) error {
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) && rl.RateLimit != nil && rl.TooManyRequests != nil {
		return &Error{Op: op, Kind: KindRateLimited, RetryAfter: rl.RetryAfter, Err: err}
	}
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return NewError(op, KindNotFound, err)
	}
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return NewError(op, KindUnknown, err)
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownMember:
			return NewError(op, KindNotFound, err)
		case errCodeTargetNotInVoice:
			return NewError(op, KindRaceLost, err)
		}
	}
	if rest.Response == nil {
		return NewError(op, KindUnknown, err)
	}
	switch rest.Response.StatusCode {
	case http.StatusNotFound:
		return NewError(op, KindNotFound, err)
	case http.StatusForbidden:
		return NewError(op, KindForbidden, err)
	case http.StatusTooManyRequests:
		return &Error{Op: op, Kind: KindRateLimited, RetryAfter: parseRetryAfter(rest.Response.Header.Get("Retry-After")), Err: err}
	default:
		return NewError(op, KindUnknown, err)
	}
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return time.Second
	}
	return time.Duration(secs * float64(time.Second))
}
