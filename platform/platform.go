// Package platform is the boundary to the chat platform. Lifecycle and renamer
// code talk to API and State only; the discordgo adapter in this package is
// the production implementation.
//
// Every failed call returns an *Error whose Kind tells callers whether the
// target is gone, forbidden, rate limited, lost to a race, or unknown.
package platform

import "context"

// Permission bits, identical to the platform's wire values.
const (
	PermManageChannels int64 = 1 << 4
	PermViewChannel    int64 = 1 << 10
	PermSendMessages   int64 = 1 << 11
	PermConnect        int64 = 1 << 20
	PermSpeak          int64 = 1 << 21
	PermMoveMembers    int64 = 1 << 24
	PermManageRoles    int64 = 1 << 28
)

var permissionNames = []struct {
	bit  int64
	name string
}{
	{PermManageChannels, "Manage Channels"},
	{PermViewChannel, "View Channel"},
	{PermSendMessages, "Send Messages"},
	{PermConnect, "Connect"},
	{PermSpeak, "Speak"},
	{PermMoveMembers, "Move Members"},
	{PermManageRoles, "Manage Roles"},
}

// PermissionNames lists the names of the bits set in perms.
func PermissionNames(perms int64) []string {
	var out []string
	for _, p := range permissionNames {
		if perms&p.bit != 0 {
			out = append(out, p.name)
		}
	}
	return out
}

// OverwriteKind tells whether an overwrite targets a role or a member.
type OverwriteKind int

const (
	OverwriteRole OverwriteKind = iota
	OverwriteMember
)

// Overwrite is a channel permission overwrite.
type Overwrite struct {
	ID    string
	Kind  OverwriteKind
	Allow int64
	Deny  int64
}

// Channel is a snapshot of an external voice channel.
type Channel struct {
	ID         string
	GuildID    string
	Name       string
	ParentID   string
	Position   int
	UserLimit  int
	Overwrites []Overwrite
	// Members are ids of users currently connected to the channel.
	Members []string
}

// CreateChannel describes a voice channel to create.
type CreateChannel struct {
	GuildID    string
	Name       string
	ParentID   string
	Overwrites []Overwrite
	UserLimit  int
	Position   int
}

// ChannelEdit lists the fields to change. Nil fields are left untouched.
type ChannelEdit struct {
	Name       *string
	UserLimit  *int
	Overwrites []Overwrite
}

// API is the set of mutating calls made against the platform.
type API interface {
	CreateVoiceChannel(ctx context.Context, spec CreateChannel) (string, error)
	EditChannel(ctx context.Context, channelID string, edit ChannelEdit) error
	DeleteChannel(ctx context.Context, channelID string) error
	// MoveMember moves userID into channelID, or disconnects them when channelID is nil.
	MoveMember(ctx context.Context, guildID, userID string, channelID *string) error
}

// State answers read-only questions about the platform.
type State interface {
	// Channel returns a KindNotFound error when the channel no longer exists.
	Channel(ctx context.Context, channelID string) (*Channel, error)
	DisplayName(ctx context.Context, guildID, userID string) string
	Activities(guildID, userID string) []string
	BotUserID() string
	// Permissions returns the bot's effective permissions in channelID.
	Permissions(channelID string) (int64, error)
}

// Client is what the production adapter provides.
type Client interface {
	API
	State
}

// String returns a pointer to s, for ChannelEdit fields.
func String(s string) *string { return &s }

// Int returns a pointer to n, for ChannelEdit fields.
func Int(n int) *int { return &n }
