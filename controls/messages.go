package controls

import (
	"errors"

	"github.com/MeltedButter77/robotnic/lifecycle"
	"github.com/MeltedButter77/robotnic/platform"
)

// FriendlyMessage turns a handler error into text for the requesting member.
func FriendlyMessage(err error) string {
	var perr *lifecycle.MissingPermissionsError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, lifecycle.ErrNotOwner):
		return "Only the channel owner can do that."
	case errors.Is(err, lifecycle.ErrAlreadyOwned):
		return "This channel already has an owner."
	case errors.Is(err, lifecycle.ErrNotTempChannel):
		return "This isn't a temporary channel."
	case errors.Is(err, lifecycle.ErrInvalidUserLimit):
		return "The user limit must be a number between 0 and 99."
	case errors.Is(err, ErrConfirmationTimeout):
		return "No confirmation received within the time limit. No action was taken."
	case errors.Is(err, ErrConfirmationPending):
		return "You already have a pending confirmation for this channel."
	case errors.Is(err, ErrDeleteCancelled):
		return "Deletion cancelled. No action was taken."
	case errors.As(err, &perr):
		return perr.Message()
	}
	switch platform.KindOf(err) {
	case platform.KindForbidden:
		return "I don't have permission to do that in this channel."
	case platform.KindNotFound:
		return "That channel no longer exists."
	case platform.KindRateLimited:
		return "Discord is rate limiting me right now. Please try again shortly."
	}
	return "Something went wrong. Please try again."
}
