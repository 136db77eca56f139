package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MeltedButter77/robotnic/tasks"
	"github.com/MeltedButter77/robotnic/telemetry"
)

type recLifecycle struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (r *recLifecycle) record(call string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	return r.fail[call]
}

func (r *recLifecycle) OnCreatorJoin(_ context.Context, guildID, creatorID, userID string) (string, error) {
	return "", r.record(fmt.Sprintf("join %s %s %s", guildID, creatorID, userID))
}

func (r *recLifecycle) OnTempLeave(_ context.Context, channelID, userID, toChannelID string) error {
	return r.record(fmt.Sprintf("leave %s %s %s", channelID, userID, toChannelID))
}

func (r *recLifecycle) OnChannelDeleted(_ context.Context, channelID string) error {
	return r.record("deleted " + channelID)
}

func (r *recLifecycle) RefreshNames(_ context.Context, ids []string) error {
	return r.record(fmt.Sprint("refresh ", ids))
}

func (r *recLifecycle) waitFor(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.calls) >= n {
			out := append([]string(nil), r.calls...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Fatalf("got %d calls, want %d: %v", len(r.calls), n, r.calls)
	return nil
}

type recUI struct {
	mu           sync.Mutex
	messages     []string
	interactions int
}

func (u *recUI) HandleInteraction(context.Context, *discordgo.Interaction) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.interactions++
}

func (u *recUI) HandleMessage(channelID, authorID, content string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.messages = append(u.messages, channelID+" "+authorID+" "+content)
	return true
}

func TestVoiceMovedQueuesLeaveThenJoin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lc := &recLifecycle{}
	g := New(lc, &recUI{}, tasks.NewGroup(ctx), 0)
	g.Start()

	g.VoiceMoved("g", "u1", "", "creator")
	g.VoiceMoved("g", "u1", "creator", "temp-1")
	g.VoiceMoved("g", "u1", "temp-1", "temp-1")
	g.VoiceMoved("g", "u1", "temp-1", "")

	got := lc.waitFor(t, 4)
	want := []string{
		"join g creator u1",
		"leave creator u1 temp-1",
		"join g temp-1 u1",
		"leave temp-1 u1 ",
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
}

func TestFailedEventDoesNotStopWorker(t *testing.T) {
	telemetry.Init()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lc := &recLifecycle{fail: map[string]error{"deleted a": errors.New("boom")}}
	g := New(lc, &recUI{}, tasks.NewGroup(ctx), 4)
	g.Start()

	g.ChannelDeleted("a")
	g.ChannelDeleted("b")
	got := lc.waitFor(t, 2)
	if got[1] != "deleted b" {
		t.Errorf("calls = %v", got)
	}
}

func TestEnqueueReportsFullQueue(t *testing.T) {
	g := New(&recLifecycle{}, &recUI{}, tasks.NewGroup(context.Background()), 1)
	noop := func(context.Context) error { return nil }
	if err := g.Enqueue("a", noop); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := g.Enqueue("b", noop); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second enqueue = %v, want ErrQueueFull", err)
	}
}

func TestWorkerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	group := tasks.NewGroup(ctx)
	g := New(&recLifecycle{}, &recUI{}, group, 0)
	g.Start()
	cancel()
	done := make(chan struct{})
	go func() { group.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestSessionHandlers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lc := &recLifecycle{}
	ui := &recUI{}
	g := New(lc, ui, tasks.NewGroup(ctx), 0)
	g.Start()
	s := &discordgo.Session{}

	if err := g.Ready(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Ready before connect = %v", err)
	}
	g.onReady(s, &discordgo.Ready{User: &discordgo.User{ID: "bot"}})
	if err := g.Ready(); err != nil {
		t.Fatalf("Ready after connect = %v", err)
	}
	g.onVoiceStateUpdate(s, &discordgo.VoiceStateUpdate{
		VoiceState:   &discordgo.VoiceState{GuildID: "g", UserID: "bot", ChannelID: "temp-1"},
		BeforeUpdate: &discordgo.VoiceState{ChannelID: "creator"},
	})
	g.onVoiceStateUpdate(s, &discordgo.VoiceStateUpdate{
		VoiceState:   &discordgo.VoiceState{GuildID: "g", UserID: "u1", ChannelID: "temp-1"},
		BeforeUpdate: &discordgo.VoiceState{ChannelID: "creator"},
	})
	g.onChannelDelete(s, &discordgo.ChannelDelete{Channel: &discordgo.Channel{ID: "temp-9"}})

	got := lc.waitFor(t, 3)
	want := []string{"leave creator u1 temp-1", "join g temp-1 u1", "deleted temp-9"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("calls = %q, want %q (bot's own voice updates must be ignored)", got, want)
	}

	g.onMessageCreate(s, &discordgo.MessageCreate{Message: &discordgo.Message{ChannelID: "temp-1", Content: "yes", Author: &discordgo.User{ID: "u1"}}})
	g.onMessageCreate(s, &discordgo.MessageCreate{Message: &discordgo.Message{ChannelID: "temp-1", Content: "yes", Author: &discordgo.User{ID: "other-bot", Bot: true}}})
	if len(ui.messages) != 1 || ui.messages[0] != "temp-1 u1 yes" {
		t.Errorf("messages = %q", ui.messages)
	}

	g.onDisconnect(s, &discordgo.Disconnect{})
	if err := g.Ready(); err == nil {
		t.Error("Ready should fail after a disconnect")
	}
}

func TestActivityChangedIgnoresDisconnectedMembers(t *testing.T) {
	g := New(&recLifecycle{}, &recUI{}, tasks.NewGroup(context.Background()), 1)
	g.ActivityChanged("")
	if len(g.events) != 0 {
		t.Fatal("presence for a member outside voice should not queue work")
	}
	g.ActivityChanged("temp-1")
	if len(g.events) != 1 {
		t.Fatal("presence in a voice channel should queue a refresh")
	}
}
