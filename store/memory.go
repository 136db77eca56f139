package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Store. Records are lost on restart.
type Memory struct {
	mu       sync.RWMutex
	temps    map[string]TempChannel
	creators map[string]CreatorChannel
	writes   int
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		temps:    make(map[string]TempChannel),
		creators: make(map[string]CreatorChannel),
	}
}

// Writes returns how many mutating calls have changed state.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *Memory) GetTempChannel(_ context.Context, channelID string) (TempChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tc, ok := m.temps[channelID]
	if !ok {
		return TempChannel{}, ErrNotFound
	}
	return tc, nil
}

func (m *Memory) UpsertTempChannel(_ context.Context, tc TempChannel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.temps[tc.ChannelID] = tc
	m.writes++
	return nil
}

func (m *Memory) UpdateTempChannel(_ context.Context, channelID string, fn func(*TempChannel) error) (TempChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.temps[channelID]
	if !ok {
		return TempChannel{}, ErrNotFound
	}
	next := cur
	if err := fn(&next); err != nil {
		return cur, err
	}
	cur.OwnerID = next.OwnerID
	cur.Visibility = next.Visibility
	cur.RenameOverride = next.RenameOverride
	cur.State = next.State
	cur.ControlMessageID = next.ControlMessageID
	m.temps[channelID] = cur
	m.writes++
	return cur, nil
}

func (m *Memory) DeleteTempChannel(_ context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.temps[channelID]; ok {
		delete(m.temps, channelID)
		m.writes++
	}
	return nil
}

func (m *Memory) ListTempChannelIDs(_ context.Context, guildID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.temps))
	for id, tc := range m.temps {
		if guildID == "" || tc.GuildID == guildID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) ListTempChannelsByCreator(_ context.Context, creatorID string) ([]TempChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []TempChannel
	for _, tc := range m.temps {
		if tc.CreatorID == creatorID {
			out = append(out, tc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (m *Memory) GetCreatorChannel(_ context.Context, channelID string) (CreatorChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cc, ok := m.creators[channelID]
	if !ok {
		return CreatorChannel{}, ErrNotFound
	}
	return cc, nil
}

func (m *Memory) UpsertCreatorChannel(_ context.Context, cc CreatorChannel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creators[cc.ChannelID] = cc
	m.writes++
	return nil
}

func (m *Memory) DeleteCreatorChannel(_ context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creators[channelID]; ok {
		delete(m.creators, channelID)
		m.writes++
	}
	return nil
}

func (m *Memory) ListCreatorChannels(_ context.Context, guildID string) ([]CreatorChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []CreatorChannel
	for _, cc := range m.creators {
		if guildID == "" || cc.GuildID == guildID {
			out = append(out, cc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (m *Memory) ListSequenceNumbers(_ context.Context, creatorID string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int)
	for id, tc := range m.temps {
		if tc.CreatorID == creatorID {
			out[id] = tc.SequenceNumber
		}
	}
	return out, nil
}

func (m *Memory) RenumberSequences(_ context.Context, creatorID string, mapping map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, n := range mapping {
		tc, ok := m.temps[id]
		if !ok || tc.CreatorID != creatorID {
			continue
		}
		tc.SequenceNumber = n
		m.temps[id] = tc
		m.writes++
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error              { return nil }
