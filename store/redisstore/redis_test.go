package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeltedButter77/robotnic/store"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New(&redis.Options{Addr: mr.Addr()}, "robotnic-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestNew_EmptyPrefix(t *testing.T) {
	_, err := New(&redis.Options{Addr: "localhost:0"}, "")
	assert.Error(t, err)
}

func TestTempChannelRoundTrip(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetTempChannel(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tc := store.TempChannel{
		GuildID:          "g1",
		ChannelID:        "t1",
		CreatorID:        "c1",
		OwnerID:          "u1",
		SequenceNumber:   3,
		Visibility:       store.VisibilityHidden,
		RenameOverride:   true,
		State:            store.StateActive,
		ControlMessageID: "m1",
		CreatedAt:        created,
	}
	require.NoError(t, s.UpsertTempChannel(ctx, tc))

	got, err := s.GetTempChannel(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, tc, got)

	assert.True(t, mr.Exists("robotnic-test:temp:t1"))
	members, err := mr.SMembers("robotnic-test:guild:g1:temps")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, members)

	ids, err := s.ListTempChannelIDs(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, ids)

	require.NoError(t, s.DeleteTempChannel(ctx, "t1"))
	require.NoError(t, s.DeleteTempChannel(ctx, "t1"), "second delete is a no-op")
	assert.False(t, mr.Exists("robotnic-test:temp:t1"))
	ids, err = s.ListTempChannelIDs(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestUpdateTempChannel(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpdateTempChannel(ctx, "missing", func(*store.TempChannel) error { return nil })
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.UpsertTempChannel(ctx, store.TempChannel{
		GuildID: "g1", ChannelID: "t1", CreatorID: "c1", OwnerID: "u1", SequenceNumber: 2,
	}))

	got, err := s.UpdateTempChannel(ctx, "t1", func(tc *store.TempChannel) error {
		tc.Visibility = store.VisibilityLocked
		tc.State = store.StateActive
		tc.SequenceNumber = 7
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, store.VisibilityLocked, got.Visibility)
	assert.Equal(t, "u1", got.OwnerID)

	stored, err := s.GetTempChannel(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, store.StateActive, stored.State)
	assert.Equal(t, 2, stored.SequenceNumber, "sequence numbers only change through renumbering")

	_, err = s.UpdateTempChannel(ctx, "t1", func(tc *store.TempChannel) error {
		tc.OwnerID = "u2"
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	stored, err = s.GetTempChannel(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "u1", stored.OwnerID)
}

func TestUpdateTempChannelKeepsConcurrentFields(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertTempChannel(ctx, store.TempChannel{GuildID: "g1", ChannelID: "t1", CreatorID: "c1", OwnerID: "u1"}))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateTempChannel(ctx, "t1", func(tc *store.TempChannel) error {
				if i%2 == 0 {
					tc.OwnerID = ""
				} else {
					tc.Visibility = store.VisibilityHidden
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetTempChannel(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, got.OwnerID)
	assert.Equal(t, store.VisibilityHidden, got.Visibility)
}

func TestUpsertMovesIndexes(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertTempChannel(ctx, store.TempChannel{GuildID: "g1", ChannelID: "t1", CreatorID: "c1", SequenceNumber: 1}))
	require.NoError(t, s.UpsertTempChannel(ctx, store.TempChannel{GuildID: "g1", ChannelID: "t1", CreatorID: "c2", SequenceNumber: 1}))

	byOld, err := s.ListTempChannelsByCreator(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, byOld)
	byNew, err := s.ListTempChannelsByCreator(ctx, "c2")
	require.NoError(t, err)
	require.Len(t, byNew, 1)
	assert.Equal(t, "t1", byNew[0].ChannelID)
}

func TestSequencesAndRenumber(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for id, n := range map[string]int{"a": 1, "b": 3, "c": 7} {
		require.NoError(t, s.UpsertTempChannel(ctx, store.TempChannel{GuildID: "g", ChannelID: id, CreatorID: "cr", SequenceNumber: n}))
	}
	require.NoError(t, s.UpsertTempChannel(ctx, store.TempChannel{GuildID: "g", ChannelID: "x", CreatorID: "other", SequenceNumber: 9}))

	seqs, err := s.ListSequenceNumbers(ctx, "cr")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "b": 3, "c": 7}, seqs)

	next, err := store.NextSequence(ctx, s, "cr")
	require.NoError(t, err)
	assert.Equal(t, 8, next)

	changed, err := store.Renumber(ctx, s, "cr")
	require.NoError(t, err)
	assert.True(t, changed)

	seqs, err = s.ListSequenceNumbers(ctx, "cr")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "b": 2, "c": 3}, seqs)

	changed, err = store.Renumber(ctx, s, "cr")
	require.NoError(t, err)
	assert.False(t, changed, "compact numbering must not be rewritten")

	// channels of other creators are never touched
	require.NoError(t, s.RenumberSequences(ctx, "cr", map[string]int{"x": 1}))
	other, err := s.GetTempChannel(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 9, other.SequenceNumber)
}

func TestCreatorChannels(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	cc := store.CreatorChannel{
		GuildID:           "g1",
		ChannelID:         "c1",
		ChildNameTemplate: "{user}'s room #{count}",
		UserLimit:         5,
		CategoryPolicy:    store.CategorySpecific,
		CategoryID:        "cat",
		OverwritePolicy:   store.OverwriteInheritCategory,
	}
	require.NoError(t, s.UpsertCreatorChannel(ctx, cc))
	require.NoError(t, s.UpsertCreatorChannel(ctx, store.CreatorChannel{GuildID: "g2", ChannelID: "c2", ChildNameTemplate: "{activity}"}))

	got, err := s.GetCreatorChannel(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, cc, got)

	g1, err := s.ListCreatorChannels(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []store.CreatorChannel{cc}, g1)

	all, err := s.ListCreatorChannels(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.DeleteCreatorChannel(ctx, "c1"))
	_, err = s.GetCreatorChannel(ctx, "c1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, s.DeleteCreatorChannel(ctx, "c1"))
}

func TestPing(t *testing.T) {
	s, mr := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}
