package lifecycle

import (
	"github.com/MeltedButter77/robotnic/platform"
	"github.com/MeltedButter77/robotnic/store"
)

const (
	// requiredPerms are needed in the target category to provision a channel.
	requiredPerms = platform.PermManageChannels | platform.PermViewChannel | platform.PermConnect |
		platform.PermMoveMembers | platform.PermManageRoles

	botAllow    = platform.PermManageChannels | platform.PermViewChannel | platform.PermConnect | platform.PermMoveMembers
	memberAllow = platform.PermViewChannel | platform.PermConnect | platform.PermSpeak
)

// setOverwrite replaces the overwrite for o.ID or appends it.
func setOverwrite(ows []platform.Overwrite, o platform.Overwrite) []platform.Overwrite {
	out := make([]platform.Overwrite, 0, len(ows)+1)
	replaced := false
	for _, cur := range ows {
		if cur.ID == o.ID && cur.Kind == o.Kind {
			out = append(out, o)
			replaced = true
			continue
		}
		out = append(out, cur)
	}
	if !replaced {
		out = append(out, o)
	}
	return out
}

func findOverwrite(ows []platform.Overwrite, id string, kind platform.OverwriteKind) platform.Overwrite {
	for _, o := range ows {
		if o.ID == id && o.Kind == kind {
			return o
		}
	}
	return platform.Overwrite{ID: id, Kind: kind}
}

// provisionOverwrites adds the bot and the joining member to base.
func provisionOverwrites(base []platform.Overwrite, botID, userID string) []platform.Overwrite {
	ows := append([]platform.Overwrite(nil), base...)
	if botID != "" {
		ows = setOverwrite(ows, platform.Overwrite{ID: botID, Kind: platform.OverwriteMember, Allow: botAllow})
	}
	member := findOverwrite(ows, userID, platform.OverwriteMember)
	member.Allow |= memberAllow
	member.Deny &^= memberAllow
	return setOverwrite(ows, member)
}

// visibilityOverwrites rewrites the default role's overwrite for v. The
// default role of a guild shares the guild's id. The owner and the bot keep
// access in every state.
func visibilityOverwrites(ows []platform.Overwrite, guildID, botID, ownerID string, v store.Visibility) []platform.Overwrite {
	everyone := findOverwrite(ows, guildID, platform.OverwriteRole)
	everyone.Allow &^= platform.PermViewChannel | platform.PermConnect
	everyone.Deny &^= platform.PermViewChannel | platform.PermConnect
	switch v {
	case store.VisibilityLocked:
		everyone.Deny |= platform.PermConnect
	case store.VisibilityHidden:
		everyone.Deny |= platform.PermViewChannel | platform.PermConnect
	}
	ows = setOverwrite(ows, everyone)
	if v == store.VisibilityPublic {
		return ows
	}
	if botID != "" {
		bot := findOverwrite(ows, botID, platform.OverwriteMember)
		bot.Allow |= botAllow
		ows = setOverwrite(ows, bot)
	}
	if ownerID != "" {
		owner := findOverwrite(ows, ownerID, platform.OverwriteMember)
		owner.Allow |= memberAllow
		owner.Deny &^= memberAllow
		ows = setOverwrite(ows, owner)
	}
	return ows
}

// missingPerms returns the names of required bits absent from have.
func missingPerms(have int64) []string {
	return platform.PermissionNames(requiredPerms &^ have)
}
