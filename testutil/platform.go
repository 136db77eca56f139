package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MeltedButter77/robotnic/platform"
	"github.com/MeltedButter77/robotnic/store"
)

// Call is one recorded mutating call against FakePlatform.
type Call struct {
	Op        string
	ChannelID string
	UserID    string
	Create    platform.CreateChannel
	Edit      platform.ChannelEdit
	At        time.Time
}

// FakePlatform is an in-memory platform.Client. Channels, voice states and
// presences are plain maps; every mutating call is recorded.
type FakePlatform struct {
	mu         sync.Mutex
	nextID     int
	channels   map[string]*platform.Channel
	voice      map[string]string // user id -> channel id
	names      map[string]string
	activities map[string][]string
	perms      map[string]int64
	errs       map[string][]error
	calls      []Call
	inflight   map[string]int
	overlap    bool

	// EditDelay is how long EditChannel holds a channel "in flight".
	EditDelay time.Duration
	// BotID is returned by BotUserID.
	BotID string
}

var _ platform.Client = (*FakePlatform)(nil)

// NewFakePlatform returns an empty fake whose bot holds every permission.
func NewFakePlatform() *FakePlatform {
	return &FakePlatform{
		channels:   make(map[string]*platform.Channel),
		voice:      make(map[string]string),
		names:      make(map[string]string),
		activities: make(map[string][]string),
		perms:      make(map[string]int64),
		errs:       make(map[string][]error),
		inflight:   make(map[string]int),
		BotID:      "bot",
	}
}

// AddChannel registers an existing channel.
func (f *FakePlatform) AddChannel(ch platform.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := ch
	c.Members = nil
	f.channels[ch.ID] = &c
}

// RemoveChannel deletes a channel without recording a call.
func (f *FakePlatform) RemoveChannel(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.channels, id)
}

// AddMember sets a user's display name and activities.
func (f *FakePlatform) AddMember(userID, displayName string, activities ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names[userID] = displayName
	f.activities[userID] = activities
}

// Connect puts userID in channelID's voice; an empty channelID disconnects.
func (f *FakePlatform) Connect(userID, channelID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if channelID == "" {
		delete(f.voice, userID)
		return
	}
	f.voice[userID] = channelID
}

// SetPermissions overrides the bot's permissions in channelID.
func (f *FakePlatform) SetPermissions(channelID string, perms int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perms[channelID] = perms
}

// FailNext queues err as the result of the next call to op
// ("create", "edit", "delete", "move", "channel").
func (f *FakePlatform) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = append(f.errs[op], err)
}

func (f *FakePlatform) popErr(op string) error {
	q := f.errs[op]
	if len(q) == 0 {
		return nil
	}
	f.errs[op] = q[1:]
	return q[0]
}

func (f *FakePlatform) record(c Call) {
	c.At = time.Now()
	f.calls = append(f.calls, c)
}

// Calls returns recorded calls, optionally filtered by op.
func (f *FakePlatform) Calls(op string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Renames returns the names sent to EditChannel for channelID, in order.
func (f *FakePlatform) Renames(channelID string) []string {
	var out []string
	for _, c := range f.Calls("edit") {
		if c.ChannelID == channelID && c.Edit.Name != nil {
			out = append(out, *c.Edit.Name)
		}
	}
	return out
}

// Overlapped reports whether two edits of one channel were ever in flight together.
func (f *FakePlatform) Overlapped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlap
}

// Snapshot returns a copy of a channel, or nil when it does not exist.
func (f *FakePlatform) Snapshot(id string) *platform.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot(id)
}

func (f *FakePlatform) snapshot(id string) *platform.Channel {
	ch, ok := f.channels[id]
	if !ok {
		return nil
	}
	c := *ch
	c.Overwrites = slices.Clone(ch.Overwrites)
	c.Members = nil
	for user, in := range f.voice {
		if in == id {
			c.Members = append(c.Members, user)
		}
	}
	slices.Sort(c.Members)
	return &c
}

func (f *FakePlatform) CreateVoiceChannel(_ context.Context, req platform.CreateChannel) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Op: "create", Create: req})
	if err := f.popErr("create"); err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("temp-%d", f.nextID)
	f.channels[id] = &platform.Channel{
		ID:         id,
		GuildID:    req.GuildID,
		Name:       req.Name,
		ParentID:   req.ParentID,
		Position:   req.Position,
		UserLimit:  req.UserLimit,
		Overwrites: slices.Clone(req.Overwrites),
	}
	return id, nil
}

func (f *FakePlatform) EditChannel(ctx context.Context, channelID string, edit platform.ChannelEdit) error {
	f.mu.Lock()
	f.record(Call{Op: "edit", ChannelID: channelID, Edit: edit})
	f.inflight[channelID]++
	if f.inflight[channelID] > 1 {
		f.overlap = true
	}
	delay := f.EditDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight[channelID]--
	if err := f.popErr("edit"); err != nil {
		return err
	}
	ch, ok := f.channels[channelID]
	if !ok {
		return platform.NewError("edit channel", platform.KindNotFound, fmt.Errorf("unknown channel %s", channelID))
	}
	if edit.Name != nil {
		ch.Name = *edit.Name
	}
	if edit.UserLimit != nil {
		ch.UserLimit = *edit.UserLimit
	}
	if edit.Overwrites != nil {
		ch.Overwrites = slices.Clone(edit.Overwrites)
	}
	return nil
}

func (f *FakePlatform) DeleteChannel(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Op: "delete", ChannelID: channelID})
	if err := f.popErr("delete"); err != nil {
		return err
	}
	if _, ok := f.channels[channelID]; !ok {
		return platform.NewError("delete channel", platform.KindNotFound, fmt.Errorf("unknown channel %s", channelID))
	}
	delete(f.channels, channelID)
	for user, in := range f.voice {
		if in == channelID {
			delete(f.voice, user)
		}
	}
	return nil
}

func (f *FakePlatform) MoveMember(_ context.Context, guildID, userID string, channelID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := ""
	if channelID != nil {
		target = *channelID
	}
	f.record(Call{Op: "move", ChannelID: target, UserID: userID})
	if err := f.popErr("move"); err != nil {
		return err
	}
	if _, ok := f.voice[userID]; !ok {
		return platform.NewError("move member", platform.KindRaceLost, fmt.Errorf("user %s is not connected to voice", userID))
	}
	if target == "" {
		delete(f.voice, userID)
		return nil
	}
	if _, ok := f.channels[target]; !ok {
		return platform.NewError("move member", platform.KindNotFound, fmt.Errorf("unknown channel %s", target))
	}
	f.voice[userID] = target
	return nil
}

func (f *FakePlatform) Channel(_ context.Context, channelID string) (*platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popErr("channel"); err != nil {
		return nil, err
	}
	ch := f.snapshot(channelID)
	if ch == nil {
		return nil, platform.NewError("get channel", platform.KindNotFound, fmt.Errorf("unknown channel %s", channelID))
	}
	return ch, nil
}

func (f *FakePlatform) DisplayName(_ context.Context, _, userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.names[userID]; ok {
		return n
	}
	return userID
}

func (f *FakePlatform) Activities(_, userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.activities[userID])
}

func (f *FakePlatform) BotUserID() string { return f.BotID }

func (f *FakePlatform) Permissions(channelID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.perms[channelID]; ok {
		return p, nil
	}
	return -1, nil
}

// Notice is one message delivered through FakeSurface.
type Notice struct {
	ChannelID string
	Message   string
}

// FakeSurface records control-surface traffic.
type FakeSurface struct {
	mu        sync.Mutex
	attached  []string
	refreshed map[string]int
	notices   []Notice
	nextMsg   int

	// AttachErr, when set, is returned by Attach.
	AttachErr error
}

// NewFakeSurface returns an empty FakeSurface.
func NewFakeSurface() *FakeSurface {
	return &FakeSurface{refreshed: make(map[string]int)}
}

func (s *FakeSurface) Attach(_ context.Context, tc store.TempChannel) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AttachErr != nil {
		return "", s.AttachErr
	}
	s.attached = append(s.attached, tc.ChannelID)
	s.nextMsg++
	return fmt.Sprintf("msg-%d", s.nextMsg), nil
}

func (s *FakeSurface) RefreshInfo(_ context.Context, tc store.TempChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshed[tc.ChannelID]++
	return nil
}

func (s *FakeSurface) Notify(_ context.Context, channelID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, Notice{ChannelID: channelID, Message: message})
	return nil
}

// Attached lists channel ids a surface was attached to.
func (s *FakeSurface) Attached() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.attached)
}

// Refreshes returns how many info refreshes channelID received.
func (s *FakeSurface) Refreshes(channelID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshed[channelID]
}

// Notices returns every delivered notice.
func (s *FakeSurface) Notices() []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.notices)
}
