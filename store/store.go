// Package store persists creator and temp channel records. It is the single
// source of truth for ownership, sequence numbers, and rename overrides.
//
// Backends: an in-memory store (this package), Postgres (store/postgres),
// and Redis (store/redisstore).
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by point lookups for missing records.
var ErrNotFound = errors.New("record not found")

// Store is implemented by every persistence backend.
type Store interface {
	GetTempChannel(ctx context.Context, channelID string) (TempChannel, error)
	UpsertTempChannel(ctx context.Context, tc TempChannel) error
	// UpdateTempChannel applies fn to the current record and stores the
	// result atomically with respect to other updates. Only the owner,
	// visibility, rename override, state and control message id are
	// written back; sequence numbers change through RenumberSequences. An
	// error from fn aborts the update and is returned unchanged. A missing
	// record yields ErrNotFound.
	UpdateTempChannel(ctx context.Context, channelID string, fn func(*TempChannel) error) (TempChannel, error)
	// DeleteTempChannel is a no-op for missing records.
	DeleteTempChannel(ctx context.Context, channelID string) error
	// ListTempChannelIDs lists every temp channel, or only those of guildID when it is not empty.
	ListTempChannelIDs(ctx context.Context, guildID string) ([]string, error)
	ListTempChannelsByCreator(ctx context.Context, creatorID string) ([]TempChannel, error)

	GetCreatorChannel(ctx context.Context, channelID string) (CreatorChannel, error)
	UpsertCreatorChannel(ctx context.Context, cc CreatorChannel) error
	DeleteCreatorChannel(ctx context.Context, channelID string) error
	ListCreatorChannels(ctx context.Context, guildID string) ([]CreatorChannel, error)

	// ListSequenceNumbers maps temp channel id to sequence number for one creator.
	ListSequenceNumbers(ctx context.Context, creatorID string) (map[string]int, error)
	// RenumberSequences sets the sequence numbers in mapping (channel id -> number) atomically.
	RenumberSequences(ctx context.Context, creatorID string, mapping map[string]int) error

	Ping(ctx context.Context) error
	Close() error
}
