package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotTempChannel is returned for channels without a temp channel record.
	ErrNotTempChannel = errors.New("not a temp channel")
	// ErrNotOwner is returned when a non-owner attempts an owner-only action.
	ErrNotOwner = errors.New("only the channel owner can do that")
	// ErrAlreadyOwned is returned when claiming a channel that has an owner.
	ErrAlreadyOwned = errors.New("channel already has an owner")
	// ErrInvalidUserLimit is returned for limits outside 0..MaxUserLimit.
	ErrInvalidUserLimit = fmt.Errorf("user limit must be between 0 and %d", MaxUserLimit)

	// errUnchanged aborts a record update that has nothing to write.
	errUnchanged = errors.New("record unchanged")
)

// MaxUserLimit is the platform's largest voice channel user limit.
const MaxUserLimit = 99

// MissingPermissionsError reports the permissions the bot lacks to provision
// a temp channel next to a creator channel.
type MissingPermissionsError struct {
	ChannelID string
	Missing   []string
}

func (e *MissingPermissionsError) Error() string {
	if len(e.Missing) == 0 {
		return "missing permissions to create a channel"
	}
	return "missing permissions: " + strings.Join(e.Missing, ", ")
}

// Message is the text shown to the member who triggered provisioning.
func (e *MissingPermissionsError) Message() string {
	if len(e.Missing) == 0 {
		return "I couldn't create your channel because I'm missing permissions in this category."
	}
	return "I couldn't create your channel. I'm missing these permissions: " + strings.Join(e.Missing, ", ") + "."
}
