// Package redisstore implements store.Store on Redis.
//
// Each record is a hash; sets index records by guild and by creator so that
// per-guild listings and per-creator sequence scans avoid SCAN. All keys are
// namespaced with a prefix so several bots can share one Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MeltedButter77/robotnic/store"
)

// Store is a Redis backed store.Store.
type Store struct {
	rdb    *redis.Client
	prefix string
}

var _ store.Store = (*Store)(nil)

// New creates a store using opts. prefix must not be empty.
func New(opts *redis.Options, prefix string) (*Store, error) {
	if prefix == "" {
		return nil, fmt.Errorf("key prefix cannot be empty")
	}
	return &Store{rdb: redis.NewClient(opts), prefix: prefix}, nil
}

// Client returns the underlying client so other components can share its pool.
func (s *Store) Client() *redis.Client { return s.rdb }

// Prefix returns the key namespace.
func (s *Store) Prefix() string { return s.prefix }

func (s *Store) tempKey(id string) string         { return s.prefix + ":temp:" + id }
func (s *Store) tempsKey() string                 { return s.prefix + ":temps" }
func (s *Store) guildTempsKey(g string) string    { return s.prefix + ":guild:" + g + ":temps" }
func (s *Store) creatorTempsKey(c string) string  { return s.prefix + ":creator:" + c + ":temps" }
func (s *Store) creatorKey(id string) string      { return s.prefix + ":creator_channel:" + id }
func (s *Store) creatorsKey() string              { return s.prefix + ":creators" }
func (s *Store) guildCreatorsKey(g string) string { return s.prefix + ":guild:" + g + ":creators" }

func tempToHash(tc store.TempChannel) map[string]any {
	created := int64(0)
	if !tc.CreatedAt.IsZero() {
		created = tc.CreatedAt.UnixNano()
	}
	return map[string]any{
		"guild_id":           tc.GuildID,
		"creator_id":         tc.CreatorID,
		"owner_id":           tc.OwnerID,
		"sequence_number":    tc.SequenceNumber,
		"visibility":         int(tc.Visibility),
		"rename_override":    strconv.FormatBool(tc.RenameOverride),
		"state":              int(tc.State),
		"control_message_id": tc.ControlMessageID,
		"created_at":         created,
	}
}

func hashToTemp(id string, h map[string]string) (store.TempChannel, error) {
	tc := store.TempChannel{
		ChannelID:        id,
		GuildID:          h["guild_id"],
		CreatorID:        h["creator_id"],
		OwnerID:          h["owner_id"],
		ControlMessageID: h["control_message_id"],
	}
	var err error
	if tc.SequenceNumber, err = strconv.Atoi(h["sequence_number"]); err != nil {
		return tc, fmt.Errorf("invalid sequence_number: %w", err)
	}
	vis, err := strconv.Atoi(h["visibility"])
	if err != nil {
		return tc, fmt.Errorf("invalid visibility: %w", err)
	}
	tc.Visibility = store.Visibility(vis)
	state, err := strconv.Atoi(h["state"])
	if err != nil {
		return tc, fmt.Errorf("invalid state: %w", err)
	}
	tc.State = store.State(state)
	tc.RenameOverride = h["rename_override"] == "true"
	if ns, err := strconv.ParseInt(h["created_at"], 10, 64); err == nil && ns > 0 {
		tc.CreatedAt = time.Unix(0, ns).UTC()
	}
	return tc, nil
}

func (s *Store) GetTempChannel(ctx context.Context, channelID string) (store.TempChannel, error) {
	h, err := s.rdb.HGetAll(ctx, s.tempKey(channelID)).Result()
	if err != nil {
		return store.TempChannel{}, fmt.Errorf("failed to read temp channel from Redis: %w", err)
	}
	if len(h) == 0 {
		return store.TempChannel{}, store.ErrNotFound
	}
	return hashToTemp(channelID, h)
}

func (s *Store) UpsertTempChannel(ctx context.Context, tc store.TempChannel) error {
	old, err := s.rdb.HMGet(ctx, s.tempKey(tc.ChannelID), "guild_id", "creator_id").Result()
	if err != nil {
		return fmt.Errorf("failed to read temp channel indexes: %w", err)
	}
	if tc.CreatedAt.IsZero() {
		tc.CreatedAt = time.Now().UTC()
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if g, ok := old[0].(string); ok && g != tc.GuildID {
			p.SRem(ctx, s.guildTempsKey(g), tc.ChannelID)
		}
		if c, ok := old[1].(string); ok && c != tc.CreatorID {
			p.SRem(ctx, s.creatorTempsKey(c), tc.ChannelID)
		}
		p.HSet(ctx, s.tempKey(tc.ChannelID), tempToHash(tc))
		p.SAdd(ctx, s.tempsKey(), tc.ChannelID)
		p.SAdd(ctx, s.guildTempsKey(tc.GuildID), tc.ChannelID)
		p.SAdd(ctx, s.creatorTempsKey(tc.CreatorID), tc.ChannelID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write temp channel to Redis: %w", err)
	}
	return nil
}

// updateRetries bounds optimistic retries when a watched record changes
// between read and write.
const updateRetries = 10

func (s *Store) UpdateTempChannel(ctx context.Context, channelID string, fn func(*store.TempChannel) error) (store.TempChannel, error) {
	key := s.tempKey(channelID)
	var result store.TempChannel
	txf := func(tx *redis.Tx) error {
		h, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read temp channel from Redis: %w", err)
		}
		if len(h) == 0 {
			return store.ErrNotFound
		}
		cur, err := hashToTemp(channelID, h)
		if err != nil {
			return err
		}
		next := cur
		if err := fn(&next); err != nil {
			result = cur
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, map[string]any{
				"owner_id":           next.OwnerID,
				"visibility":         int(next.Visibility),
				"rename_override":    strconv.FormatBool(next.RenameOverride),
				"state":              int(next.State),
				"control_message_id": next.ControlMessageID,
			})
			return nil
		})
		if err != nil {
			return err
		}
		cur.OwnerID = next.OwnerID
		cur.Visibility = next.Visibility
		cur.RenameOverride = next.RenameOverride
		cur.State = next.State
		cur.ControlMessageID = next.ControlMessageID
		result = cur
		return nil
	}
	for i := 0; i < updateRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return result, err
	}
	return store.TempChannel{}, fmt.Errorf("temp channel %s kept changing during update", channelID)
}

func (s *Store) DeleteTempChannel(ctx context.Context, channelID string) error {
	tc, err := s.GetTempChannel(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.tempKey(channelID))
		p.SRem(ctx, s.tempsKey(), channelID)
		p.SRem(ctx, s.guildTempsKey(tc.GuildID), channelID)
		p.SRem(ctx, s.creatorTempsKey(tc.CreatorID), channelID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete temp channel from Redis: %w", err)
	}
	return nil
}

func (s *Store) ListTempChannelIDs(ctx context.Context, guildID string) ([]string, error) {
	key := s.tempsKey()
	if guildID != "" {
		key = s.guildTempsKey(guildID)
	}
	ids, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list temp channels: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) ListTempChannelsByCreator(ctx context.Context, creatorID string) ([]store.TempChannel, error) {
	ids, err := s.rdb.SMembers(ctx, s.creatorTempsKey(creatorID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list creator temp channels: %w", err)
	}
	cmds, err := s.readHashes(ctx, ids, s.tempKey)
	if err != nil {
		return nil, err
	}
	var out []store.TempChannel
	for i, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		tc, err := hashToTemp(ids[i], h)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize temp channel %s: %w", ids[i], err)
		}
		out = append(out, tc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (s *Store) readHashes(ctx context.Context, ids []string, key func(string) string) ([]*redis.MapStringStringCmd, error) {
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, key(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read hashes: %w", err)
	}
	return cmds, nil
}

func creatorToHash(cc store.CreatorChannel) map[string]any {
	return map[string]any{
		"guild_id":            cc.GuildID,
		"child_name_template": cc.ChildNameTemplate,
		"user_limit":          cc.UserLimit,
		"category_policy":     int(cc.CategoryPolicy),
		"category_id":         cc.CategoryID,
		"overwrite_policy":    int(cc.OverwritePolicy),
	}
}

func hashToCreator(id string, h map[string]string) (store.CreatorChannel, error) {
	cc := store.CreatorChannel{
		ChannelID:         id,
		GuildID:           h["guild_id"],
		ChildNameTemplate: h["child_name_template"],
		CategoryID:        h["category_id"],
	}
	var err error
	if cc.UserLimit, err = strconv.Atoi(h["user_limit"]); err != nil {
		return cc, fmt.Errorf("invalid user_limit: %w", err)
	}
	cp, err := strconv.Atoi(h["category_policy"])
	if err != nil {
		return cc, fmt.Errorf("invalid category_policy: %w", err)
	}
	op, err := strconv.Atoi(h["overwrite_policy"])
	if err != nil {
		return cc, fmt.Errorf("invalid overwrite_policy: %w", err)
	}
	cc.CategoryPolicy = store.CategoryPolicy(cp)
	cc.OverwritePolicy = store.OverwritePolicy(op)
	return cc, nil
}

func (s *Store) GetCreatorChannel(ctx context.Context, channelID string) (store.CreatorChannel, error) {
	h, err := s.rdb.HGetAll(ctx, s.creatorKey(channelID)).Result()
	if err != nil {
		return store.CreatorChannel{}, fmt.Errorf("failed to read creator channel from Redis: %w", err)
	}
	if len(h) == 0 {
		return store.CreatorChannel{}, store.ErrNotFound
	}
	return hashToCreator(channelID, h)
}

func (s *Store) UpsertCreatorChannel(ctx context.Context, cc store.CreatorChannel) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.creatorKey(cc.ChannelID), creatorToHash(cc))
		p.SAdd(ctx, s.creatorsKey(), cc.ChannelID)
		p.SAdd(ctx, s.guildCreatorsKey(cc.GuildID), cc.ChannelID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write creator channel to Redis: %w", err)
	}
	return nil
}

func (s *Store) DeleteCreatorChannel(ctx context.Context, channelID string) error {
	cc, err := s.GetCreatorChannel(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.creatorKey(channelID))
		p.SRem(ctx, s.creatorsKey(), channelID)
		p.SRem(ctx, s.guildCreatorsKey(cc.GuildID), channelID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete creator channel from Redis: %w", err)
	}
	return nil
}

func (s *Store) ListCreatorChannels(ctx context.Context, guildID string) ([]store.CreatorChannel, error) {
	key := s.creatorsKey()
	if guildID != "" {
		key = s.guildCreatorsKey(guildID)
	}
	ids, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list creator channels: %w", err)
	}
	sort.Strings(ids)
	cmds, err := s.readHashes(ctx, ids, s.creatorKey)
	if err != nil {
		return nil, err
	}
	var out []store.CreatorChannel
	for i, cmd := range cmds {
		if len(cmd.Val()) == 0 {
			continue
		}
		cc, err := hashToCreator(ids[i], cmd.Val())
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize creator channel %s: %w", ids[i], err)
		}
		out = append(out, cc)
	}
	return out, nil
}

func (s *Store) ListSequenceNumbers(ctx context.Context, creatorID string) (map[string]int, error) {
	ids, err := s.rdb.SMembers(ctx, s.creatorTempsKey(creatorID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list creator temp channels: %w", err)
	}
	cmds := make([]*redis.StringCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGet(ctx, s.tempKey(id), "sequence_number")
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read sequence numbers: %w", err)
	}
	out := make(map[string]int, len(ids))
	for i, cmd := range cmds {
		n, err := cmd.Int()
		if err != nil {
			continue
		}
		out[ids[i]] = n
	}
	return out, nil
}

func (s *Store) RenumberSequences(ctx context.Context, creatorID string, mapping map[string]int) error {
	if len(mapping) == 0 {
		return nil
	}
	members, err := s.rdb.SMembers(ctx, s.creatorTempsKey(creatorID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list creator temp channels: %w", err)
	}
	owned := make(map[string]struct{}, len(members))
	for _, id := range members {
		owned[id] = struct{}{}
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for id, n := range mapping {
			if _, ok := owned[id]; !ok {
				continue
			}
			p.HSet(ctx, s.tempKey(id), "sequence_number", n)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to renumber sequences: %w", err)
	}
	return nil
}

// Ping verifies Redis connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

// Close closes the Redis connection.
func (s *Store) Close() error { return s.rdb.Close() }
