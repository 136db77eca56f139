package controls

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MeltedButter77/robotnic/naming"
	"github.com/MeltedButter77/robotnic/store"
	"github.com/MeltedButter77/robotnic/tasks"
	"github.com/MeltedButter77/robotnic/telemetry"
)

// Responder is the subset of *discordgo.Session used to answer interactions.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Router turns component and modal interactions into handler calls.
type Router struct {
	h     *Handlers
	resp  Responder
	group *tasks.Group
}

// NewRouter returns a Router. Delete confirmations wait on group.
func NewRouter(h *Handlers, resp Responder, group *tasks.Group) *Router {
	return &Router{h: h, resp: resp, group: group}
}

func interactionUser(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// HandleInteraction answers one interaction. Interactions that are not ours are ignored.
func (r *Router) HandleInteraction(ctx context.Context, i *discordgo.Interaction) {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "controls"), slog.String("channel_id", i.ChannelID))
	userID := interactionUser(i)
	var err error
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		if !strings.HasPrefix(data.CustomID, idPrefix) {
			return
		}
		err = r.component(ctx, i, userID, data)
	case discordgo.InteractionModalSubmit:
		data := i.ModalSubmitData()
		if !strings.HasPrefix(data.CustomID, idPrefix) {
			return
		}
		err = r.modal(ctx, i, userID, data)
	default:
		return
	}
	if err != nil {
		log.Warn("failed to answer interaction", slog.Any("err", err))
	}
}

func (r *Router) component(ctx context.Context, i *discordgo.Interaction, userID string, data discordgo.MessageComponentInteractionData) error {
	ch := i.ChannelID
	switch {
	case data.CustomID == idRename:
		if err := r.h.Authorize(ctx, ch, userID); err != nil {
			return r.reply(i, err, "")
		}
		return r.resp.InteractionRespond(i, renameModal())
	case data.CustomID == idLimit:
		if err := r.h.Authorize(ctx, ch, userID); err != nil {
			return r.reply(i, err, "")
		}
		return r.resp.InteractionRespond(i, limitModal())
	case data.CustomID == idClaim:
		return r.reply(i, r.h.OnOwnershipClaim(ctx, ch, userID), "You now own this channel.")
	case data.CustomID == idRelease:
		return r.reply(i, r.h.OnOwnershipRelease(ctx, ch, userID), "You released this channel. Anyone can claim it now.")
	case data.CustomID == idTransfer:
		if len(data.Values) == 0 {
			return r.reply(i, nil, "No member selected.")
		}
		return r.reply(i, r.h.OnOwnershipTransfer(ctx, ch, userID, data.Values[0]), "Ownership transferred.")
	case strings.HasPrefix(data.CustomID, idVisibility):
		v, err := store.ParseVisibility(strings.TrimPrefix(data.CustomID, idVisibility))
		if err != nil {
			return r.reply(i, err, "")
		}
		return r.reply(i, r.h.OnVisibilityChange(ctx, ch, userID, v), "Channel is now "+v.String()+".")
	case data.CustomID == idDelete:
		return r.startDelete(ctx, i, userID)
	case data.CustomID == idDeleteConfirm, data.CustomID == idDeleteCancel:
		yes := data.CustomID == idDeleteConfirm
		msg := "Deleting the channel..."
		if !yes {
			msg = "Deletion cancelled."
		}
		if !r.h.Confirmations().Resolve(ConfirmKey(ch, userID), yes) {
			msg = "This confirmation has expired."
		}
		return r.resp.InteractionRespond(i, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{Content: msg, Components: []discordgo.MessageComponent{}},
		})
	}
	return nil
}

// startDelete asks for confirmation and waits for it off the event path.
func (r *Router) startDelete(ctx context.Context, i *discordgo.Interaction, userID string) error {
	if err := r.h.gate(ctx, i.ChannelID, userID); err != nil {
		return r.reply(i, err, "")
	}
	if err := r.resp.InteractionRespond(i, confirmPrompt(r.h.timeout.Seconds())); err != nil {
		return err
	}
	corr := telemetry.GetCorrelation(ctx)
	r.group.Go("confirm-delete:"+i.ChannelID, func(gctx context.Context) {
		gctx = telemetry.WithCorrelation(gctx, corr)
		err := r.h.OnDeleteRequested(gctx, i.ChannelID, userID)
		if err == nil {
			return
		}
		if _, ferr := r.resp.FollowupMessageCreate(i, false, &discordgo.WebhookParams{
			Content: FriendlyMessage(err),
			Flags:   discordgo.MessageFlagsEphemeral,
		}); ferr != nil {
			slog.Warn("failed to send delete followup", slog.String("component", "controls"), slog.Any("err", ferr))
		}
	})
	return nil
}

func (r *Router) modal(ctx context.Context, i *discordgo.Interaction, userID string, data discordgo.ModalSubmitInteractionData) error {
	ch := i.ChannelID
	switch data.CustomID {
	case idRenameModal:
		name := textInputValue(data.Components, idRenameInput)
		ok := "Renaming the channel to " + name + ". It may take a few minutes."
		if strings.TrimSpace(name) == "" {
			ok = "Custom name cleared. The channel will follow its template again."
		}
		return r.reply(i, r.h.OnRenameRequested(ctx, ch, name, userID), ok)
	case idLimitModal:
		raw := strings.TrimSpace(textInputValue(data.Components, idLimitInput))
		limit, err := strconv.Atoi(raw)
		if err != nil {
			limit = -1
		}
		return r.reply(i, r.h.OnUserLimitChange(ctx, ch, userID, limit), "User limit updated.")
	}
	return nil
}

// HandleMessage resolves a pending delete confirmation when the requester
// types yes or no in the channel.
func (r *Router) HandleMessage(channelID, authorID, content string) bool {
	switch strings.ToLower(strings.TrimSpace(content)) {
	case "yes", "y":
		return r.h.Confirmations().Resolve(ConfirmKey(channelID, authorID), true)
	case "no", "n":
		return r.h.Confirmations().Resolve(ConfirmKey(channelID, authorID), false)
	}
	return false
}

// reply answers ephemerally with FriendlyMessage(err), or ok on success.
func (r *Router) reply(i *discordgo.Interaction, err error, ok string) error {
	msg := ok
	if err != nil {
		msg = FriendlyMessage(err)
	}
	return r.resp.InteractionRespond(i, ephemeral(msg))
}

func ephemeral(msg string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: msg, Flags: discordgo.MessageFlagsEphemeral},
	}
}

func confirmPrompt(seconds float64) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "Delete this channel? Reply **yes** or press Confirm within " + strconv.Itoa(int(seconds)) + " seconds.",
			Flags:   discordgo.MessageFlagsEphemeral,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.Button{Label: "Confirm", Style: discordgo.DangerButton, CustomID: idDeleteConfirm},
					discordgo.Button{Label: "Cancel", Style: discordgo.SecondaryButton, CustomID: idDeleteCancel},
				}},
			},
		},
	}
}

func renameModal() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: idRenameModal,
			Title:    "Rename channel",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    idRenameInput,
						Label:       "New name (leave empty to reset)",
						Style:       discordgo.TextInputShort,
						Placeholder: "My channel",
						MaxLength:   naming.MaxLength,
					},
				}},
			},
		},
	}
}

func limitModal() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: idLimitModal,
			Title:    "User limit",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    idLimitInput,
						Label:       "Maximum members (0 for unlimited)",
						Style:       discordgo.TextInputShort,
						Placeholder: "0",
						Required:    true,
						MaxLength:   2,
					},
				}},
			},
		},
	}
}

// textInputValue finds the value of the text input id among modal components.
func textInputValue(components []discordgo.MessageComponent, id string) string {
	for _, c := range components {
		var inner []discordgo.MessageComponent
		switch row := c.(type) {
		case *discordgo.ActionsRow:
			inner = row.Components
		case discordgo.ActionsRow:
			inner = row.Components
		}
		for _, ic := range inner {
			switch in := ic.(type) {
			case *discordgo.TextInput:
				if in.CustomID == id {
					return in.Value
				}
			case discordgo.TextInput:
				if in.CustomID == id {
					return in.Value
				}
			}
		}
	}
	return ""
}
