package controls

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MeltedButter77/robotnic/platform"
	"github.com/MeltedButter77/robotnic/store"
)

// Component custom ids.
const (
	idPrefix        = "robotnic:"
	idRename        = idPrefix + "rename"
	idRenameModal   = idPrefix + "rename-modal"
	idRenameInput   = idPrefix + "rename-input"
	idLimit         = idPrefix + "limit"
	idLimitModal    = idPrefix + "limit-modal"
	idLimitInput    = idPrefix + "limit-input"
	idClaim         = idPrefix + "claim"
	idRelease       = idPrefix + "release"
	idTransfer      = idPrefix + "transfer"
	idVisibility    = idPrefix + "visibility:"
	idDelete        = idPrefix + "delete"
	idDeleteConfirm = idPrefix + "delete-confirm"
	idDeleteCancel  = idPrefix + "delete-cancel"
)

const embedColor = 0x5865F2

// Messenger is the subset of *discordgo.Session the surface posts with.
type Messenger interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Surface posts and maintains the control message in each temp channel's chat.
type Surface struct {
	msg   Messenger
	state platform.State
}

// NewSurface returns a Surface posting through msg and reading names from state.
func NewSurface(msg Messenger, state platform.State) *Surface {
	return &Surface{msg: msg, state: state}
}

// Info is what the control message displays.
type Info struct {
	Name       string
	Owner      string
	Visibility store.Visibility
	UserLimit  int
	Override   bool
}

func (s *Surface) info(ctx context.Context, tc store.TempChannel) Info {
	in := Info{Visibility: tc.Visibility, Override: tc.RenameOverride}
	if ch, err := s.state.Channel(ctx, tc.ChannelID); err == nil {
		in.Name = ch.Name
		in.UserLimit = ch.UserLimit
	}
	if tc.Claimed() {
		in.Owner = s.state.DisplayName(ctx, tc.GuildID, tc.OwnerID)
	}
	return in
}

func (s *Surface) Attach(ctx context.Context, tc store.TempChannel) (string, error) {
	m, err := s.msg.ChannelMessageSendComplex(tc.ChannelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{InfoEmbed(s.info(ctx, tc))},
		Components: ControlRows(),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send control message: %w", err)
	}
	return m.ID, nil
}

func (s *Surface) RefreshInfo(ctx context.Context, tc store.TempChannel) error {
	if tc.ControlMessageID == "" {
		return nil
	}
	embeds := []*discordgo.MessageEmbed{InfoEmbed(s.info(ctx, tc))}
	edit := discordgo.NewMessageEdit(tc.ChannelID, tc.ControlMessageID).SetEmbeds(embeds)
	if _, err := s.msg.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit control message: %w", err)
	}
	return nil
}

func (s *Surface) Notify(ctx context.Context, channelID, message string) error {
	if _, err := s.msg.ChannelMessageSend(channelID, message, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send notice: %w", err)
	}
	return nil
}

// InfoEmbed renders the channel summary shown above the controls.
func InfoEmbed(in Info) *discordgo.MessageEmbed {
	owner := "Unclaimed"
	if in.Owner != "" {
		owner = in.Owner
	}
	limit := "Unlimited"
	if in.UserLimit > 0 {
		limit = fmt.Sprint(in.UserLimit)
	}
	name := in.Name
	if in.Override {
		name += " (custom)"
	}
	return &discordgo.MessageEmbed{
		Title: "Channel controls",
		Color: embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Name", Value: orDash(name), Inline: true},
			{Name: "Owner", Value: owner, Inline: true},
			{Name: "Visibility", Value: titleCase(in.Visibility.String()), Inline: true},
			{Name: "User limit", Value: limit, Inline: true},
		},
	}
}

// ControlRows returns the buttons and menus attached to every temp channel.
func ControlRows() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "Rename", Style: discordgo.PrimaryButton, CustomID: idRename},
			discordgo.Button{Label: "User limit", Style: discordgo.PrimaryButton, CustomID: idLimit},
			discordgo.Button{Label: "Claim", Style: discordgo.SuccessButton, CustomID: idClaim},
			discordgo.Button{Label: "Release", Style: discordgo.SecondaryButton, CustomID: idRelease},
			discordgo.Button{Label: "Delete", Style: discordgo.DangerButton, CustomID: idDelete},
		}},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "Public", Style: discordgo.SecondaryButton, CustomID: idVisibility + store.VisibilityPublic.String()},
			discordgo.Button{Label: "Locked", Style: discordgo.SecondaryButton, CustomID: idVisibility + store.VisibilityLocked.String()},
			discordgo.Button{Label: "Hidden", Style: discordgo.SecondaryButton, CustomID: idVisibility + store.VisibilityHidden.String()},
		}},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{MenuType: discordgo.UserSelectMenu, CustomID: idTransfer, Placeholder: "Transfer ownership to...", MaxValues: 1},
		}},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
