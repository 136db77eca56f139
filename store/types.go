package store

import (
	"fmt"
	"time"
)

// CategoryPolicy decides where a creator places its temp channels.
type CategoryPolicy int

const (
	CategorySameAsCreator CategoryPolicy = iota
	CategorySpecific
)

func (p CategoryPolicy) String() string {
	if p == CategorySpecific {
		return "specific"
	}
	return "same_as_creator"
}

// OverwritePolicy decides which permission overwrites a temp channel starts from.
type OverwritePolicy int

const (
	OverwriteNone OverwritePolicy = iota
	OverwriteInheritCreator
	OverwriteInheritCategory
)

func (p OverwritePolicy) String() string {
	switch p {
	case OverwriteInheritCreator:
		return "inherit_creator"
	case OverwriteInheritCategory:
		return "inherit_category"
	default:
		return "none"
	}
}

// ParseCategoryPolicy parses the String form of a CategoryPolicy. Empty means same_as_creator.
func ParseCategoryPolicy(s string) (CategoryPolicy, error) {
	switch s {
	case "", "same_as_creator":
		return CategorySameAsCreator, nil
	case "specific":
		return CategorySpecific, nil
	}
	return CategorySameAsCreator, fmt.Errorf("unknown category policy %q", s)
}

// ParseOverwritePolicy parses the String form of an OverwritePolicy. Empty means none.
func ParseOverwritePolicy(s string) (OverwritePolicy, error) {
	switch s {
	case "", "none":
		return OverwriteNone, nil
	case "inherit_creator":
		return OverwriteInheritCreator, nil
	case "inherit_category":
		return OverwriteInheritCategory, nil
	}
	return OverwriteNone, fmt.Errorf("unknown overwrite policy %q", s)
}

// Visibility is the default-role access state of a temp channel.
type Visibility int

const (
	VisibilityPublic Visibility = iota
	VisibilityLocked
	VisibilityHidden
)

func (v Visibility) String() string {
	switch v {
	case VisibilityLocked:
		return "locked"
	case VisibilityHidden:
		return "hidden"
	default:
		return "public"
	}
}

// ParseVisibility parses the String form of a Visibility.
func ParseVisibility(s string) (Visibility, error) {
	switch s {
	case "public":
		return VisibilityPublic, nil
	case "locked":
		return VisibilityLocked, nil
	case "hidden":
		return VisibilityHidden, nil
	}
	return VisibilityPublic, fmt.Errorf("unknown visibility %q", s)
}

// State is the lifecycle state of a temp channel record.
type State int

const (
	StateProvisioning State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "provisioning"
}

// CreatorChannel is a channel that spawns temp channels when joined.
type CreatorChannel struct {
	GuildID           string
	ChannelID         string
	ChildNameTemplate string
	// UserLimit of 0 means unlimited.
	UserLimit       int
	CategoryPolicy  CategoryPolicy
	CategoryID      string // used when CategoryPolicy is CategorySpecific
	OverwritePolicy OverwritePolicy
}

// TempChannel is the record of a provisioned temp channel.
type TempChannel struct {
	GuildID   string
	ChannelID string
	// CreatorID is a lookup-only reference to the creator channel.
	CreatorID string
	// OwnerID is empty while the channel is unclaimed.
	OwnerID          string
	SequenceNumber   int
	Visibility       Visibility
	RenameOverride   bool
	State            State
	ControlMessageID string
	CreatedAt        time.Time
}

// Claimed reports whether the channel has an owner.
func (t TempChannel) Claimed() bool { return t.OwnerID != "" }
